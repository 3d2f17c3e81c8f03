package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestFailEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{"amount": "amount must be 50 or less"})
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body struct {
		Data  interface{} `json:"data"`
		Error ErrorBody   `json:"error"`
		Meta  Metadata    `json:"metadata"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusBadRequest || body.Data != nil {
		t.Fatalf("unexpected status %d data %v", w.Code, body.Data)
	}
	if body.Error.Code != ErrValidation || body.Error.Message != GetMessage(ErrValidation) {
		t.Fatalf("error = %+v", body.Error)
	}
	if body.Error.Fields["amount"] == "" {
		t.Fatalf("fields missing: %+v", body.Error.Fields)
	}
	if body.Meta.RequestID != "req-1" || w.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("request id not propagated: %+v", body.Meta)
	}
}

func TestEveryCodeHasMessage(t *testing.T) {
	codes := []ErrCode{
		ErrInvalidCredentials, ErrEmailTaken, ErrTokenRequired, ErrTokenInvalid,
		ErrValidation, ErrInvalidID, ErrInvalidPayload, ErrNotFound, ErrConflict,
		ErrInvalidQuizSpec, ErrInvalidReason, ErrProviderUnavailable, ErrSessionInactive,
		ErrAlreadyAnswered, ErrQuestionNotFound, ErrSyncConflict, ErrInvalidSnapshot,
		ErrStoreUnavailable, ErrRateLimitExceeded, ErrRequestTimeout, ErrInternal,
	}
	unknown := GetMessage("NOPE")
	for _, code := range codes {
		if GetMessage(code) == unknown {
			t.Errorf("%s has no message", code)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/", func(c *gin.Context) { Success(c, http.StatusOK, RequestID(c)) })

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"client id kept", "trace-01:abc", true},
		{"missing", "", false},
		{"control characters", "bad\nid", false},
		{"spaces", "two words", false},
		{"too long", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(HeaderRequestID, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			got := w.Header().Get(HeaderRequestID)
			if tt.keep && got != tt.header {
				t.Fatalf("expected %q, got %q", tt.header, got)
			}
			if !tt.keep {
				if _, err := uuid.Parse(got); err != nil {
					t.Fatalf("expected generated uuid, got %q", got)
				}
			}
		})
	}
}
