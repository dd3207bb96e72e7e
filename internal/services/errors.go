package services

import (
	"errors"
	"fmt"
)

// Kind groups error codes by who has to act on them.
type Kind string

const (
	KindValidation    Kind = "validation"     // caller's input, surfaced verbatim
	KindNotFound      Kind = "not_found"      // unknown id
	KindStateConflict Kind = "state_conflict" // transition not allowed by the state machine
	KindDependency    Kind = "dependency"     // store or gateway unavailable; retry the whole call
)

// Error codes
const (
	CodeInvalidAmount          = "InvalidAmount"
	CodeInvalidTransactionType = "InvalidTransactionType"
	CodeInvalidTenant          = "InvalidTenant"
	CodeInvalidMilestoneType   = "InvalidMilestoneType"
	CodeInvalidOutcome         = "InvalidOutcome"
	CodeInvalidStatus          = "InvalidStatus"
	CodeMissingActor           = "MissingActor"
	CodeMissingReason          = "MissingReason"
	CodeMissingReference       = "MissingReference"
	CodeInvalidApplication     = "InvalidApplication"
	CodePropertyNotFound       = "PropertyNotFound"
	CodeTransactionNotFound    = "TransactionNotFound"
	CodeApplicationNotFound    = "ApplicationNotFound"
	CodeInvalidStateTransition = "InvalidStateTransition"
	CodeOutOfOrderMilestone    = "OutOfOrderMilestone"
	CodeMilestoneAlreadyFinal  = "MilestoneAlreadyFinal"
	CodePersistenceFailure     = "PersistenceFailure"
	CodeGatewayFailure         = "GatewayFailure"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code, so errors.Is(err, ErrOutOfOrderMilestone) holds for any
// out-of-order rejection regardless of its message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidAmount          = &Error{Kind: KindValidation, Code: CodeInvalidAmount}
	ErrInvalidTransactionType = &Error{Kind: KindValidation, Code: CodeInvalidTransactionType}
	ErrInvalidTenant          = &Error{Kind: KindValidation, Code: CodeInvalidTenant}
	ErrInvalidMilestoneType   = &Error{Kind: KindValidation, Code: CodeInvalidMilestoneType}
	ErrInvalidOutcome         = &Error{Kind: KindValidation, Code: CodeInvalidOutcome}
	ErrInvalidStatus          = &Error{Kind: KindValidation, Code: CodeInvalidStatus}
	ErrMissingActor           = &Error{Kind: KindValidation, Code: CodeMissingActor}
	ErrMissingReason          = &Error{Kind: KindValidation, Code: CodeMissingReason}
	ErrMissingReference       = &Error{Kind: KindValidation, Code: CodeMissingReference}
	ErrInvalidApplication     = &Error{Kind: KindValidation, Code: CodeInvalidApplication}
	ErrPropertyNotFound       = &Error{Kind: KindNotFound, Code: CodePropertyNotFound}
	ErrTransactionNotFound    = &Error{Kind: KindNotFound, Code: CodeTransactionNotFound}
	ErrApplicationNotFound    = &Error{Kind: KindNotFound, Code: CodeApplicationNotFound}
	ErrInvalidStateTransition = &Error{Kind: KindStateConflict, Code: CodeInvalidStateTransition}
	ErrOutOfOrderMilestone    = &Error{Kind: KindStateConflict, Code: CodeOutOfOrderMilestone}
	ErrMilestoneAlreadyFinal  = &Error{Kind: KindStateConflict, Code: CodeMilestoneAlreadyFinal}
	ErrPersistenceFailure     = &Error{Kind: KindDependency, Code: CodePersistenceFailure}
	ErrGatewayFailure         = &Error{Kind: KindDependency, Code: CodeGatewayFailure}
)

func newError(base *Error, format string, args ...any) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(base *Error, err error, format string, args ...any) *Error {
	e := newError(base, format, args...)
	e.Err = err
	return e
}

// KindOf returns the kind of a lifecycle error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of a lifecycle error, or "" for anything else.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
