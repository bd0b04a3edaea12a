package backend

import "errors"

type Code string

const (
	CodeInvalidCredentials Code = "invalid_credentials"
	CodeUserAlreadyExists  Code = "user_already_exists"
	CodeEmailNotConfirmed  Code = "email_not_confirmed"
	CodeSamePassword       Code = "same_password"
	CodeWeakPassword       Code = "weak_password"
	CodeDuplicateKey       Code = "duplicate_key"
	CodePolicyViolation    Code = "policy_violation"
	CodeNotFound           Code = "not_found"
	CodeNotAuthenticated   Code = "not_authenticated"
	CodeUnknownTable       Code = "unknown_table"
	CodeTransport          Code = "transport"
)

// Error is any failure reported by the backend. Message is meant for display.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap reports err as a transport failure, keeping err for errors.Is.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Code: CodeTransport, Message: err.Error(), Err: err}
}

// CodeOf returns the code of err, or "" when err is not a backend error.
func CodeOf(err error) Code {
	var be *Error
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}

// IsCode reports whether err is a backend error with code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

var (
	ErrInvalidCredentials = NewError(CodeInvalidCredentials, "Invalid login credentials")
	ErrUserAlreadyExists  = NewError(CodeUserAlreadyExists, "User already registered")
	ErrEmailNotConfirmed  = NewError(CodeEmailNotConfirmed, "Email not confirmed")
	ErrSamePassword       = NewError(CodeSamePassword, "New password should be different from the old password.")
	ErrNotAuthenticated   = NewError(CodeNotAuthenticated, "Auth session missing!")
	ErrNotFound           = NewError(CodeNotFound, "The result contains 0 rows")
)

// UnknownTable reports an operation on a table the backend does not expose.
func UnknownTable(table string) *Error {
	return NewError(CodeUnknownTable, `relation "public.`+table+`" does not exist`)
}

// DuplicateKey reports a unique constraint violation on constraint.
func DuplicateKey(constraint string) *Error {
	return NewError(CodeDuplicateKey, `duplicate key value violates unique constraint "`+constraint+`"`)
}

// PolicyViolation reports a row rejected by the row access policy on table.
func PolicyViolation(table string) *Error {
	return NewError(CodePolicyViolation, `new row violates row-level security policy for table "`+table+`"`)
}
