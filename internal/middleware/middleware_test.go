package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/model"
	"github.com/stemsi/trivia-backend/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuth() *service.AuthService {
	return service.NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: 4}, nil)
}

func TestRequireUserJWT(t *testing.T) {
	auth := newAuth()
	userID := uuid.New()
	token, err := auth.GenerateToken(&model.User{ID: userID, Email: "a@example.com"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	r := gin.New()
	r.GET("/me", RequireUserJWT(auth), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c).String())
	})

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"missing", "", http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"malformed", "Bearer nope", http.StatusUnauthorized, "TOKEN_INVALID"},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized, "TOKEN_REQUIRED"},
		{"valid", "Bearer " + token, http.StatusOK, userID.String()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if !strings.Contains(w.Body.String(), tt.body) {
				t.Fatalf("body %q does not contain %q", w.Body.String(), tt.body)
			}
		})
	}
}

func TestRequireWSAuthReadsQueryToken(t *testing.T) {
	auth := newAuth()
	userID := uuid.New()
	token, _ := auth.GenerateToken(&model.User{ID: userID})

	r := gin.New()
	r.GET("/ws", RequireWSAuth(auth), func(c *gin.Context) {
		c.String(http.StatusOK, GetUserID(c).String())
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if w.Code != http.StatusOK || w.Body.String() != userID.String() {
		t.Fatalf("got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRateLimiterPerUser(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	alice, bob := uuid.New(), uuid.New()
	r := gin.New()
	r.POST("/start", func(c *gin.Context) {
		id, _ := uuid.Parse(c.GetHeader("X-User"))
		c.Set(ContextKeyUserID, id)
	}, rl.PerUser(), func(c *gin.Context) { c.Status(http.StatusCreated) })

	do := func(user uuid.UUID) int {
		req := httptest.NewRequest(http.MethodPost, "/start", nil)
		req.Header.Set("X-User", user.String())
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := do(alice); code != http.StatusCreated {
			t.Fatalf("request %d: status = %d", i, code)
		}
	}
	if code := do(alice); code != http.StatusTooManyRequests {
		t.Fatalf("third request: status = %d, want 429", code)
	}
	if code := do(bob); code != http.StatusCreated {
		t.Fatalf("other user limited: status = %d", code)
	}

	now = now.Add(time.Minute)
	if code := do(alice); code != http.StatusCreated {
		t.Fatalf("after refill: status = %d", code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Minute)
	r := gin.New()
	r.GET("/", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
	}
}

func TestTimeoutSetsDeadline(t *testing.T) {
	r := gin.New()
	r.GET("/", Timeout(time.Second), func(c *gin.Context) {
		if _, ok := c.Request.Context().Deadline(); !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("no deadline on request context")
	}
}

func TestBrotli(t *testing.T) {
	large := strings.Repeat("trivia ", 400)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "br" {
		t.Fatalf("large body not compressed")
	}
	body, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body) != large {
		t.Fatalf("round trip mismatch")
	}

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != "ok" {
		t.Fatalf("small body: encoding %q body %q", w.Header().Get("Content-Encoding"), w.Body.String())
	}
}

func TestAcceptsBrotli(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"br", true},
		{"gzip, br;q=0.5", true},
		{"BR ; q=1.0", true},
		{"br;q=0", false},
		{"br;q=0.0, gzip", false},
		{"br;q=bogus", false},
		{"gzip, deflate", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Accept-Encoding", tt.header)
			if got := acceptsBrotli(req); got != tt.want {
				t.Fatalf("acceptsBrotli(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}

	r := gin.New()
	r.Use(Brotli())
	large := strings.Repeat("trivia ", 400)
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "br;q=0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Header().Get("Content-Encoding") != "" || w.Body.String() != large {
		t.Fatalf("refused encoding was applied: %q", w.Header().Get("Content-Encoding"))
	}
}
