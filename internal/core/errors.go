package core

import (
	"errors"
	"fmt"
)

// Kind classifies failures at the public boundary.
type Kind string

const (
	KindTransport   Kind = "transport"
	KindValidation  Kind = "validation"
	KindNegotiation Kind = "negotiation"
	KindFatal       Kind = "fatal"
)

// Error is the structured error returned by registry, gateway and engine operations.
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
	// Status and Body carry the relay's response when it rejected the call.
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
	Err    error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Message
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newErr(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Err: err}
}

func Transport(op string, err error) *Error {
	return newErr(KindTransport, op, "transport failure", err)
}

func Validation(op, msg string) *Error {
	return newErr(KindValidation, op, msg, nil)
}

func Negotiation(op, msg string, err error) *Error {
	return newErr(KindNegotiation, op, msg, err)
}

// Rejected is a negotiation error carrying the relay's status and body.
func Rejected(op string, status int, body string) *Error {
	return &Error{Kind: KindNegotiation, Op: op, Message: "relay rejected request", Status: status, Body: body}
}

func Fatal(op string, err error) *Error {
	return newErr(KindFatal, op, "unrecoverable", err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool { return KindOf(err) == k }
