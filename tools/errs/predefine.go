package errs

// 通用错误码
const (
	ServerInternalError = 500
	ArgsError           = 1001
	NoPermissionError   = 1002
	RecordNotFoundError = 1004
	SessionEndedError   = 1005

	PersistenceError = 1101
	TimeoutError     = 1102

	TransportClosedError = 1201
	RetryExhaustedError  = 1202

	TokenInvalidError = 1501
	TokenExpiredError = 1502
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrNoPermission   = NewCodeError(NoPermissionError, "NoPermissionError")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
	ErrSessionEnded   = NewCodeError(SessionEndedError, "SessionEndedError")

	ErrPersistence = NewCodeError(PersistenceError, "PersistenceError")
	ErrTimeout     = NewCodeError(TimeoutError, "TimeoutError")

	ErrTransportClosed = NewCodeError(TransportClosedError, "TransportClosedError")
	ErrRetryExhausted  = NewCodeError(RetryExhaustedError, "RetryExhaustedError")

	ErrTokenInvalid = NewCodeError(TokenInvalidError, "TokenInvalidError")
	ErrTokenExpired = NewCodeError(TokenExpiredError, "TokenExpiredError")
)

func init() {
	// an ended session is reported as not found to callers that only check ErrRecordNotFound
	_ = DefaultCodeRelation.Add(RecordNotFoundError, SessionEndedError)
	// a storage timeout is a persistence failure
	_ = DefaultCodeRelation.Add(PersistenceError, TimeoutError)
	_ = DefaultCodeRelation.Add(TokenInvalidError, TokenExpiredError)
}
