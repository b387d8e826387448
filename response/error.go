package response

import "fmt"

// Machine-readable error codes carried in the "error" field of every error body
const (
	CodeUnexpected        = "UNEXPECTED"
	CodeBadRequest        = "BAD_REQUEST"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeMethodNotAllowed  = "METHOD_NOT_ALLOWED"
	CodeConflict          = "CONFLICT"
	CodePaywall           = "PAYWALL"
	CodeFreeQuotaExceeded = "FREE_QUOTA_EXCEEDED"
)

type Error struct {
	StatusCode int         `json:"-"`
	Code       string      `json:"error"`
	Message    string      `json:"message"`
	Messages   []string    `json:"messages"`
	Result     interface{} `json:"result"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

func (e *Error) AddMessages(msgs ...string) *Error {
	e.Messages = append(e.Messages, msgs...)
	return e
}

func (e *Error) WithResult(result interface{}) *Error {
	e.Result = result
	return e
}

func makeError(status int, code string) *Error {
	return &Error{
		StatusCode: status,
		Code:       code,
		Messages:   make([]string, 0),
		Result:     []string{},
	}
}

// -----------------------------------------------

func ErrUnexpected() *Error {
	return makeError(500, CodeUnexpected).
		WithMessage("An unexpected error has occured")
}

func ErrBadRequest() *Error {
	return makeError(400, CodeBadRequest).
		WithMessage("Bad request")
}

func ErrUnauthorized() *Error {
	return makeError(401, CodeUnauthorized).
		WithMessage("Unauthorized")
}

func ErrForbidden() *Error {
	return makeError(403, CodeForbidden).
		WithMessage("Forbidden")
}

func ErrNotFound() *Error {
	return makeError(404, CodeNotFound).
		WithMessage("Requested resources not found")
}

func ErrMethodNotAllowed() *Error {
	return makeError(405, CodeMethodNotAllowed).
		WithMessage("Method not allowed")
}

func ErrConflict() *Error {
	return makeError(409, CodeConflict).
		WithMessage("Conflict")
}

func ErrInvalidJson() *Error {
	return ErrBadRequest().AddMessages("Invalid JSON body")
}

func ErrNoBearer() *Error {
	return ErrUnauthorized().AddMessages("No valid Bearer token found in header")
}

// ErrPaywall is returned when a feature requires an active subscription
func ErrPaywall() *Error {
	return ErrForbidden().
		WithCode(CodePaywall).
		WithMessage("An active subscription is required")
}

// ErrFreeQuotaExceeded is returned when the free weekly allowance is used up
func ErrFreeQuotaExceeded() *Error {
	return ErrForbidden().
		WithCode(CodeFreeQuotaExceeded).
		WithMessage("Free weekly practice quota exceeded")
}
