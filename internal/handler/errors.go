package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/trivia-backend/internal/response"
	"github.com/stemsi/trivia-backend/internal/service"
)

// classify maps a service error to an HTTP status and API error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrInvalidSpec):
		return http.StatusBadRequest, response.ErrInvalidQuizSpec
	case errors.Is(err, service.ErrInvalidReason):
		return http.StatusBadRequest, response.ErrInvalidReason
	case errors.Is(err, service.ErrProviderUnavailable):
		return http.StatusBadGateway, response.ErrProviderUnavailable
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrResultNotFound),
		errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, response.ErrNotFound
	case errors.Is(err, service.ErrSessionInactive):
		return http.StatusConflict, response.ErrSessionInactive
	case errors.Is(err, service.ErrAlreadyAnswered):
		return http.StatusConflict, response.ErrAlreadyAnswered
	case errors.Is(err, service.ErrQuestionNotFound):
		return http.StatusBadRequest, response.ErrQuestionNotFound
	case errors.Is(err, service.ErrSyncConflict):
		return http.StatusConflict, response.ErrSyncConflict
	case errors.Is(err, service.ErrInvalidSnapshot):
		return http.StatusBadRequest, response.ErrInvalidSnapshot
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized, response.ErrInvalidCredentials
	case errors.Is(err, service.ErrEmailTaken):
		return http.StatusConflict, response.ErrEmailTaken
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, response.ErrStoreUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, response.ErrRequestTimeout
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// fail writes the error envelope for err. Unexpected errors are logged.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).
			Str("path", c.FullPath()).
			Str("request_id", response.RequestID(c)).
			Msg("Request failed")
	}

	var conflict *service.SyncConflictError
	if errors.As(err, &conflict) {
		response.FailWithData(c, status, code, gin.H{"serverUpdatedAt": conflict.ServerUpdatedAt})
		return
	}
	response.Fail(c, status, code)
}
