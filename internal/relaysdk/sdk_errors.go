package relaysdk

import (
	"errors"
	"fmt"

	"github.com/imroc/req/v3"
)

var (
	// sdk common
	ErrNoRefreshToken = errors.New("sdk: refresh token missing")
	ErrNoServerURL    = errors.New("sdk: server url missing")
	ErrNoReplicaID    = errors.New("sdk: replica id missing")
	ErrInvalidEmail   = errors.New("sdk: invalid email")

	// auth
	ErrInvalidOTP = errors.New("sdk: invalid otp")

	// events
	ErrEventsNotConnected     = errors.New("events: not connected")
	ErrEventsMessageQueueFull = errors.New("events: message queue full")
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // access denied

	// Auth errors
	CodeAuthInvalidCredentials    = "E_AUTH_INVALID_CREDENTIALS"     // token invalid, expired, or malformed
	CodeAuthTokenGenerationFailed = "E_AUTH_TOKEN_GENERATION_FAILED" // failure generating new tokens
	CodeAuthOTPVerificationFailed = "E_AUTH_OTP_VERIFICATION_FAILED" // email OTP verification failed
	CodeAuthTokenRefreshFailed    = "E_AUTH_TOKEN_REFRESH_FAILED"    // failure refreshing a token
	CodeAuthNotificationFailed    = "E_AUTH_NOTIFICATION_FAILED"     // failure sending the OTP email

	// Sync errors
	CodeSyncReportFailed   = "E_SYNC_REPORT_FAILED"  // failure recording reported versions
	CodeSyncInvalidCursor  = "E_SYNC_INVALID_CURSOR" // malformed change feed cursor
	CodeConflictNotFound   = "E_CONFLICT_NOT_FOUND"  // unknown conflict id
	CodeConflictResolution = "E_CONFLICT_RESOLUTION" // conflict resolution rejected

	// Chunk errors
	CodeChunkNotFound  = "E_CHUNK_NOT_FOUND"  // the requested chunk is not stored
	CodeChunkPutFailed = "E_CHUNK_PUT_FAILED" // failure storing an uploaded chunk
	CodeChunkTooLarge  = "E_CHUNK_TOO_LARGE"  // chunk body over the size limit
	CodeContentInvalid = "E_CONTENT_INVALID"  // content registration failed verification
)

type SDKError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// BaseError provides common error functionality
type BaseError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *BaseError) ErrorCode() string    { return e.Code }
func (e *BaseError) ErrorMessage() string { return e.Message }

// APIError represents ConfSync relay API errors
type APIError struct {
	BaseError
}

func NewAPIError(code, message string) *APIError {
	return &APIError{
		BaseError: BaseError{
			Code:    code,
			Message: message,
		},
	}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s - %s", e.Code, e.Message)
}

// Transient reports whether the relay's rejection is worth another
// attempt. Server-side failures and throttling pass; everything the
// relay rejected on its merits does not.
func (e *APIError) Transient() bool {
	switch e.Code {
	case CodeInternalError, CodeRateLimited, CodeSyncReportFailed, CodeChunkPutFailed:
		return true
	}
	return false
}

var _ SDKError = (*APIError)(nil)

// handleAPIError is a helper function that handles the common error pattern
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s %w", operation, requestErr)
	}

	// got a response, but api returned an error
	if resp.IsErrorState() {
		if err, ok := resp.ErrorResult().(*APIError); ok {
			return fmt.Errorf("%s %w", operation, err)
		}

		return fmt.Errorf("api error: %s %s", operation, resp.Dump())
	}

	return nil
}
