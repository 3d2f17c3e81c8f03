package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/config"
	"github.com/stemsi/trivia-backend/internal/handler"
	"github.com/stemsi/trivia-backend/internal/middleware"
	"github.com/stemsi/trivia-backend/internal/model"
	"github.com/stemsi/trivia-backend/internal/repository"
	"github.com/stemsi/trivia-backend/internal/repository/memory"
	"github.com/stemsi/trivia-backend/internal/router"
	"github.com/stemsi/trivia-backend/internal/service"
	"github.com/stemsi/trivia-backend/internal/validator"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Setup()
	os.Exit(m.Run())
}

type stubProvider struct {
	err error
}

func (p *stubProvider) FetchQuestions(_ context.Context, spec model.QuestionSpec) ([]model.QuizQuestion, error) {
	if p.err != nil {
		return nil, p.err
	}
	qs := make([]model.QuizQuestion, spec.Amount)
	for i := range qs {
		qs[i] = model.QuizQuestion{
			ID:            fmt.Sprintf("q%d", i),
			Question:      fmt.Sprintf("Question %d?", i),
			Options:       []string{"True", "False"},
			CorrectAnswer: "True",
			Type:          model.QuestionTypeBoolean,
			Difficulty:    model.DifficultyEasy,
		}
	}
	return qs, nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (u *memUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, user := range u.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (u *memUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if user, ok := u.users[strings.ToLower(email)]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (u *memUsers) Create(_ context.Context, user *model.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.users[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	user.ID = uuid.New()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	u.users[user.Email] = user
	return nil
}

type testServer struct {
	engine   *gin.Engine
	auth     *service.AuthService
	quiz     *service.QuizService
	provider *stubProvider
	store    *memory.Store
	rdb      *redis.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		GinMode:        gin.TestMode,
		JWTSecret:      "handler-test-secret",
		JWTExpiry:      time.Hour,
		BcryptCost:     4,
		RequestTimeout: 5 * time.Second,
		StartRateLimit: 100,
	}
	log := zerolog.Nop()

	store := memory.NewStore()
	provider := &stubProvider{}
	auth := service.NewAuthService(cfg, &memUsers{users: map[string]*model.User{}})
	quiz := service.NewQuizService(store, provider, nil, nil, service.NewRedisNotifier(rdb, log),
		service.QuizOptions{SessionTTL: time.Hour, VerifySyncAnswers: true}, log)

	handlers := &router.Handlers{
		Auth:   handler.NewAuthHandler(auth, log),
		Quiz:   handler.NewQuizHandler(quiz, log),
		WS:     handler.NewWSHandler(rdb, quiz, log, nil, cfg.RequestTimeout),
		Health: handler.NewHealthHandler(nil, rdb, log),
	}
	engine := router.SetupRouter(auth, handlers, cfg, middleware.NewRateLimiter(cfg.StartRateLimit, time.Minute))

	return &testServer{engine: engine, auth: auth, quiz: quiz, provider: provider, store: store, rdb: rdb}
}

func (s *testServer) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := s.auth.GenerateToken(&model.User{ID: userID, Email: userID.String() + "@example.com"})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	} `json:"error"`
	Pagination *struct {
		Limit      int  `json:"limit"`
		Offset     int  `json:"offset"`
		TotalItems int  `json:"total_items"`
		HasMore    bool `json:"has_more"`
	} `json:"pagination"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func errCode(env envelope) string {
	if env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func (s *testServer) start(t *testing.T, token string, amount int) model.SessionView {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/v1/quiz/start", token, gin.H{"amount": amount, "timeLimit": 300})
	if status != http.StatusCreated {
		t.Fatalf("start: status %d error %s", status, errCode(env))
	}
	return decode[struct {
		Session model.SessionView `json:"session"`
	}](t, env.Data).Session
}

func TestQuizLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, uuid.New())

	view := s.start(t, tok, 3)
	if view.TotalQuestions != 3 || len(view.Questions) != 3 {
		t.Fatalf("view = %+v", view)
	}

	// Resume sees the new session.
	status, env := s.do(t, http.MethodGet, "/api/v1/quiz/resume", tok, nil)
	resume := decode[struct {
		Session *model.ActiveSessionSummary `json:"session"`
	}](t, env.Data)
	if status != http.StatusOK || resume.Session == nil || resume.Session.ID != view.ID {
		t.Fatalf("resume: %d %+v", status, resume.Session)
	}

	answer := gin.H{"sessionId": view.ID, "questionIndex": 0, "questionId": "q0", "selectedAnswer": "True"}
	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/answer", tok, answer)
	out := decode[service.AnswerOutcome](t, env.Data)
	if status != http.StatusOK || !out.IsCorrect || out.AnsweredQuestions != 1 {
		t.Fatalf("answer: %d %+v", status, out)
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/answer", tok, answer)
	if status != http.StatusConflict || errCode(env) != "ALREADY_ANSWERED" {
		t.Fatalf("double answer: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/answer", tok,
		gin.H{"sessionId": view.ID, "questionIndex": 1, "questionId": "nope", "selectedAnswer": "True"})
	if status != http.StatusBadRequest || errCode(env) != "QUESTION_NOT_FOUND" {
		t.Fatalf("unknown question: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/complete", tok,
		gin.H{"sessionId": view.ID, "reason": "finished", "timeRemaining": 200})
	result := decode[struct {
		Result model.QuizResult `json:"result"`
	}](t, env.Data).Result
	if status != http.StatusOK || result.CorrectAnswers != 1 || result.SkippedQuestions != 2 || result.ScorePercentage != 33 {
		t.Fatalf("complete: %d %+v", status, result)
	}

	// A terminal session cannot be completed twice.
	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/complete", tok,
		gin.H{"sessionId": view.ID, "reason": "finished", "timeRemaining": 100})
	if status != http.StatusConflict || errCode(env) != "SESSION_INACTIVE" {
		t.Fatalf("second complete: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/answer", tok,
		gin.H{"sessionId": view.ID, "questionIndex": 1, "questionId": "q1", "selectedAnswer": "True"})
	if status != http.StatusConflict || errCode(env) != "SESSION_INACTIVE" {
		t.Fatalf("answer after complete: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/quiz/history?limit=5", tok, nil)
	if status != http.StatusOK || env.Pagination == nil || env.Pagination.TotalItems != 1 || env.Pagination.Limit != 5 {
		t.Fatalf("history: %d %+v", status, env.Pagination)
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/quiz/results/"+result.ID.String(), tok, nil)
	detail := decode[model.ResultDetail](t, env.Data)
	if status != http.StatusOK || detail.Session == nil || len(detail.Session.UserAnswers) != 1 {
		t.Fatalf("result detail: %d %+v", status, detail)
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/quiz/resume", tok, nil)
	resume = decode[struct {
		Session *model.ActiveSessionSummary `json:"session"`
	}](t, env.Data)
	if status != http.StatusOK || resume.Session != nil {
		t.Fatalf("resume after complete: %+v", resume.Session)
	}
}

func TestStartValidation(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, uuid.New())

	status, env := s.do(t, http.MethodPost, "/api/v1/quiz/start", tok, gin.H{"amount": 51, "timeLimit": 300})
	if status != http.StatusBadRequest || errCode(env) != "INVALID_QUIZ_SPEC" {
		t.Fatalf("amount 51: %d %s", status, errCode(env))
	}
	if env.Error.Fields["amount"] == "" {
		t.Fatalf("expected amount field error, got %+v", env.Error.Fields)
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/start", tok, gin.H{"amount": 5, "timeLimit": 10})
	if status != http.StatusBadRequest || errCode(env) != "INVALID_QUIZ_SPEC" {
		t.Fatalf("time limit 10: %d %s", status, errCode(env))
	}

	s.provider.err = fmt.Errorf("upstream down")
	status, env = s.do(t, http.MethodPost, "/api/v1/quiz/start", tok, gin.H{"amount": 5, "timeLimit": 300})
	if status != http.StatusBadGateway || errCode(env) != "PROVIDER_UNAVAILABLE" {
		t.Fatalf("provider down: %d %s", status, errCode(env))
	}
}

func TestSessionsAreOwnerScoped(t *testing.T) {
	s := newTestServer(t)
	owner, other := s.token(t, uuid.New()), s.token(t, uuid.New())

	view := s.start(t, owner, 2)

	status, env := s.do(t, http.MethodGet, "/api/v1/quiz/sessions/"+view.ID.String(), other, nil)
	if status != http.StatusNotFound || errCode(env) != "NOT_FOUND" {
		t.Fatalf("foreign session: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/quiz/sessions/not-a-uuid", owner, nil)
	if status != http.StatusBadRequest || errCode(env) != "INVALID_ID" {
		t.Fatalf("bad id: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/quiz/sessions/"+view.ID.String(), owner, nil)
	sess := decode[struct {
		Session model.QuizSession `json:"session"`
	}](t, env.Data).Session
	if status != http.StatusOK || sess.Status != model.SessionStatusInProgress {
		t.Fatalf("own session: %d %+v", status, sess.Status)
	}
}

func TestSyncConflictCarriesServerTime(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, uuid.New())
	view := s.start(t, tok, 3)

	status, env := s.do(t, http.MethodPost, "/api/v1/quiz/answer", tok,
		gin.H{"sessionId": view.ID, "questionIndex": 0, "questionId": "q0", "selectedAnswer": "False"})
	if status != http.StatusOK {
		t.Fatalf("answer: %d %s", status, errCode(env))
	}

	stale := time.Now().Add(-time.Hour).UTC()
	status, env = s.do(t, http.MethodPatch, "/api/v1/quiz/sync", tok, gin.H{
		"sessionId":            view.ID,
		"currentQuestionIndex": 1,
		"timeRemaining":        250,
		"userAnswers":          []gin.H{},
		"clientUpdatedAt":      stale,
	})
	if status != http.StatusConflict || errCode(env) != "SYNC_CONFLICT" {
		t.Fatalf("stale sync: %d %s", status, errCode(env))
	}
	conflict := decode[struct {
		ServerUpdatedAt time.Time `json:"serverUpdatedAt"`
	}](t, env.Data)
	if !conflict.ServerUpdatedAt.After(stale) {
		t.Fatalf("serverUpdatedAt = %s", conflict.ServerUpdatedAt)
	}

	status, env = s.do(t, http.MethodPatch, "/api/v1/quiz/sync", tok, gin.H{
		"sessionId":            view.ID,
		"currentQuestionIndex": 1,
		"timeRemaining":        250,
		"userAnswers": []gin.H{
			{"questionIndex": 0, "questionId": "q0", "selectedAnswer": "False"},
			{"questionIndex": 0, "questionId": "q0", "selectedAnswer": "True"},
		},
	})
	if status != http.StatusBadRequest || errCode(env) != "INVALID_SNAPSHOT" {
		t.Fatalf("duplicate index: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodPatch, "/api/v1/quiz/sync", tok, gin.H{
		"sessionId":            view.ID,
		"currentQuestionIndex": 1,
		"timeRemaining":        250,
		"userAnswers":          []gin.H{{"questionIndex": 0, "questionId": "q0", "selectedAnswer": "False"}},
	})
	ack := decode[service.SyncAck](t, env.Data)
	if status != http.StatusOK || ack.TimeRemaining != 250 || ack.WrongAnswers != 1 {
		t.Fatalf("sync: %d %+v", status, ack)
	}
}

func TestStoreFailureIsServiceUnavailable(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, uuid.New())

	s.store.Fault = func(op string) error {
		if op == "insert_session" {
			return fmt.Errorf("connection reset")
		}
		return nil
	}
	status, env := s.do(t, http.MethodPost, "/api/v1/quiz/start", tok, gin.H{"amount": 2, "timeLimit": 60})
	if status != http.StatusServiceUnavailable || errCode(env) != "STORE_UNAVAILABLE" {
		t.Fatalf("store fault: %d %s", status, errCode(env))
	}
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	reg := gin.H{"email": "Player@Example.com", "name": "Player One", "password": "correct-horse"}
	status, env := s.do(t, http.MethodPost, "/api/v1/auth/register", "", reg)
	if status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/register", "", reg)
	if status != http.StatusConflict || errCode(env) != "EMAIL_TAKEN" {
		t.Fatalf("duplicate register: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "player@example.com", "password": "wrong-password"})
	if status != http.StatusUnauthorized || errCode(env) != "INVALID_CREDENTIALS" {
		t.Fatalf("bad login: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "player@example.com", "password": "correct-horse"})
	login := decode[model.LoginResponse](t, env.Data)
	if status != http.StatusOK || login.Token == "" {
		t.Fatalf("login: %d %s", status, errCode(env))
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/auth/me", login.Token, nil)
	me := decode[struct {
		User model.User `json:"user"`
	}](t, env.Data).User
	if status != http.StatusOK || me.Email != "player@example.com" {
		t.Fatalf("me: %d %+v", status, me)
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/quiz/resume", "", nil)
	if status != http.StatusUnauthorized || errCode(env) != "TOKEN_REQUIRED" {
		t.Fatalf("no token: %d %s", status, errCode(env))
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, env := s.do(t, http.MethodGet, "/health", "", nil)
	rep := decode[struct {
		Status string `json:"status"`
		Redis  string `json:"redis"`
	}](t, env.Data)
	if status != http.StatusOK || rep.Status != "ok" || rep.Redis != "ok" {
		t.Fatalf("health: %d %+v", status, rep)
	}
}
