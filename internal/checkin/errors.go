package checkin

import "fmt"

// Definition is a scan failure kind with its default message.
type Definition struct {
	Code    string
	Message string
}

func (d Definition) Error() string {
	return d.Message
}

// Scan failure kinds. Each one is terminal for the scan that produced it.
var (
	InvalidInput    = Definition{Code: "InvalidInput", Message: "scan code is empty"}
	UnknownCode     = Definition{Code: "UnknownCode", Message: "invalid code"}
	MemberNotActive = Definition{Code: "MemberNotActive", Message: "membership is not active"}
	StorageError    = Definition{Code: "StorageError", Message: "attendance could not be recorded, please scan again"}
)

// Error carries a Definition plus the detail and cause of one failure.
// errors.Is(err, UnknownCode) matches on the definition's code.
type Error struct {
	Def    Definition
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Def.Message
	if e.Detail != "" {
		msg = e.Detail
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Message is the text shown to the person at the desk; it never includes the
// underlying cause.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	return e.Def.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the same Definition as e.
func (e *Error) Is(target error) bool {
	def, ok := target.(Definition)
	return ok && def.Code == e.Def.Code
}

func newError(def Definition, detail string, cause error) *Error {
	return &Error{Def: def, Detail: detail, Err: cause}
}
