package errs

// ===== 错误码 =====

const (
	CodeUnauthorized = 1001 // token/identity rejected; connection refused

	CodeConversationLocked  = 2001
	CodeTooManyAttachments  = 2002
	CodeForbidden           = 2003
	CodeBadRequest          = 2004
	CodeUnknownEvent        = 2005
	CodeUpstreamUnavailable = 5001
	CodeServerInternal      = 5000
)

var (
	ErrUnauthorized        = NewCodeError(CodeUnauthorized, "unauthorized")
	ErrConversationLocked  = NewCodeError(CodeConversationLocked, "conversation locked by another operator")
	ErrTooManyAttachments  = NewCodeError(CodeTooManyAttachments, "too many attachments")
	ErrForbidden           = NewCodeError(CodeForbidden, "not allowed for this role")
	ErrBadRequest          = NewCodeError(CodeBadRequest, "bad request")
	ErrUnknownEvent        = NewCodeError(CodeUnknownEvent, "unknown event")
	ErrUpstreamUnavailable = NewCodeError(CodeUpstreamUnavailable, "upstream unavailable")
	ErrServerInternal      = NewCodeError(CodeServerInternal, "internal error")
)
