package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrEmailTaken         ErrCode = "EMAIL_TAKEN"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Quiz-specific ─────────────────────────────────────────────────
	ErrInvalidQuizSpec     ErrCode = "INVALID_QUIZ_SPEC"
	ErrInvalidReason       ErrCode = "INVALID_COMPLETION_REASON"
	ErrProviderUnavailable ErrCode = "PROVIDER_UNAVAILABLE"
	ErrSessionInactive     ErrCode = "SESSION_INACTIVE"
	ErrAlreadyAnswered     ErrCode = "ALREADY_ANSWERED"
	ErrQuestionNotFound    ErrCode = "QUESTION_NOT_FOUND"
	ErrSyncConflict        ErrCode = "SYNC_CONFLICT"
	ErrInvalidSnapshot     ErrCode = "INVALID_SNAPSHOT"
	ErrStoreUnavailable    ErrCode = "STORE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRequestTimeout ErrCode = "REQUEST_TIMEOUT"
	ErrInternal       ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email or password is incorrect."
	case ErrEmailTaken:
		return "An account with this email already exists."
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "The submitted data is invalid."
	case ErrInvalidID:
		return "The ID format is invalid."
	case ErrInvalidPayload:
		return "The request body could not be parsed."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "The requested resource was not found."
	case ErrConflict:
		return "The request conflicts with the current state."

	// ─── Quiz-specific ─────────────────────────────────────────────────
	case ErrInvalidQuizSpec:
		return "The quiz settings are out of range."
	case ErrInvalidReason:
		return "Completion reason must be finished, timeout or abandoned."
	case ErrProviderUnavailable:
		return "Trivia questions are unavailable right now. Please try again."
	case ErrSessionInactive:
		return "This quiz session is no longer active."
	case ErrAlreadyAnswered:
		return "This question has already been answered."
	case ErrQuestionNotFound:
		return "The question does not belong to this session."
	case ErrSyncConflict:
		return "The session was updated elsewhere. Reload and try again."
	case ErrInvalidSnapshot:
		return "The session snapshot is inconsistent."
	case ErrStoreUnavailable:
		return "The service is temporarily unavailable."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please slow down."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrRequestTimeout:
		return "The request took too long to complete."
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unknown error occurred."
	}
}
