package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/middleware"
	"github.com/stemsi/trivia-backend/internal/model"
	"github.com/stemsi/trivia-backend/internal/response"
	"github.com/stemsi/trivia-backend/internal/service"
	"github.com/stemsi/trivia-backend/internal/validator"
)

// QuizHandler handles the quiz session lifecycle endpoints.
type QuizHandler struct {
	quizService *service.QuizService
	log         zerolog.Logger
}

// NewQuizHandler creates a new QuizHandler.
func NewQuizHandler(quizService *service.QuizService, log zerolog.Logger) *QuizHandler {
	return &QuizHandler{
		quizService: quizService,
		log:         log.With().Str("component", "quiz_handler").Logger(),
	}
}

// ListCategories godoc
// GET /api/v1/quiz/categories
func (h *QuizHandler) ListCategories(c *gin.Context) {
	cats, err := h.quizService.Categories(c.Request.Context())
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"categories": cats})
}

// StartQuiz godoc
// POST /api/v1/quiz/start
// Fetches a fresh question set and opens a session, abandoning any active one.
func (h *QuizHandler) StartQuiz(c *gin.Context) {
	var req model.StartQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidQuizSpec, fields)
		return
	}

	view, err := h.quizService.CreateSession(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"session": view})
}

// GetSession godoc
// GET /api/v1/quiz/sessions/:id
func (h *QuizHandler) GetSession(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	sess, err := h.quizService.GetSession(c.Request.Context(), middleware.GetUserID(c), sessionID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": sess})
}

// SubmitAnswer godoc
// POST /api/v1/quiz/answer
func (h *QuizHandler) SubmitAnswer(c *gin.Context) {
	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	out, err := h.quizService.SubmitAnswer(c.Request.Context(), middleware.GetUserID(c), AnswerFromRequest(req))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, out)
}

// SyncSession godoc
// PATCH /api/v1/quiz/sync
// Stores a full progress snapshot. Stale snapshots are rejected with SYNC_CONFLICT.
func (h *QuizHandler) SyncSession(c *gin.Context) {
	var req model.SyncSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ack, err := h.quizService.SyncSession(c.Request.Context(), middleware.GetUserID(c), SnapshotFromRequest(req))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

// CompleteQuiz godoc
// POST /api/v1/quiz/complete
func (h *QuizHandler) CompleteQuiz(c *gin.Context) {
	var req model.CompleteQuizRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.quizService.CompleteSession(c.Request.Context(), middleware.GetUserID(c), service.Completion{
		SessionID:     uuid.MustParse(req.SessionID),
		Reason:        req.Reason,
		TimeRemaining: req.TimeRemaining,
	})
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"result": result})
}

// ResumeQuiz godoc
// GET /api/v1/quiz/resume
// Returns the active session summary, or null when there is nothing to resume.
func (h *QuizHandler) ResumeQuiz(c *gin.Context) {
	summary, err := h.quizService.GetActiveSession(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": summary})
}

// History godoc
// GET /api/v1/quiz/history?limit=10&offset=0
func (h *QuizHandler) History(c *gin.Context) {
	var q model.HistoryQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	page, err := h.quizService.History(c.Request.Context(), middleware.GetUserID(c), q.Limit, q.Offset)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.SuccessWithPagination(c, http.StatusOK, gin.H{"results": page.Results}, &response.Pagination{
		Limit:      page.Limit,
		Offset:     page.Offset,
		TotalItems: page.Total,
		HasMore:    page.HasMore,
	})
}

// GetResult godoc
// GET /api/v1/quiz/results/:id
func (h *QuizHandler) GetResult(c *gin.Context) {
	resultID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.quizService.GetResult(c.Request.Context(), middleware.GetUserID(c), resultID)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, detail)
}

// GetStats godoc
// GET /api/v1/quiz/stats
func (h *QuizHandler) GetStats(c *gin.Context) {
	stats, err := h.quizService.Stats(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"stats": stats})
}

// AnswerFromRequest converts a validated request. SessionID must already be
// checked by the uuid binding rule.
func AnswerFromRequest(req model.SubmitAnswerRequest) service.AnswerSubmission {
	return service.AnswerSubmission{
		SessionID:      uuid.MustParse(req.SessionID),
		QuestionIndex:  *req.QuestionIndex,
		QuestionID:     req.QuestionID,
		SelectedAnswer: req.SelectedAnswer,
	}
}

// SnapshotFromRequest converts a validated sync request.
func SnapshotFromRequest(req model.SyncSessionRequest) service.SyncSnapshot {
	answers := req.UserAnswers
	if answers == nil {
		answers = []model.UserAnswer{}
	}
	return service.SyncSnapshot{
		SessionID:            uuid.MustParse(req.SessionID),
		CurrentQuestionIndex: req.CurrentQuestionIndex,
		TimeRemaining:        req.TimeRemaining,
		UserAnswers:          answers,
		ClientUpdatedAt:      req.ClientUpdatedAt,
	}
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
