package api

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
	CodeSyncReportFailed   = "E_SYNC_REPORT_FAILED"   // failure recording reported versions
	CodeSyncInvalidCursor  = "E_SYNC_INVALID_CURSOR"  // malformed change feed cursor
	CodeConflictNotFound   = "E_CONFLICT_NOT_FOUND"   // unknown conflict id
	CodeConflictResolution = "E_CONFLICT_RESOLUTION"  // conflict resolution rejected

	// Chunk errors
	CodeChunkNotFound  = "E_CHUNK_NOT_FOUND"  // the requested chunk is not stored
	CodeChunkPutFailed = "E_CHUNK_PUT_FAILED" // failure storing an uploaded chunk
	CodeChunkTooLarge  = "E_CHUNK_TOO_LARGE"  // chunk body over the size limit
	CodeContentInvalid = "E_CONTENT_INVALID"  // content registration failed verification
)
