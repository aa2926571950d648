package service

import (
	"errors"
	"fmt"
)

// Kind groups failure reasons by how callers should react to them.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindEligibility Kind = "ELIGIBILITY"
	KindCapacity    Kind = "CAPACITY"
	KindEntitlement Kind = "ENTITLEMENT"
	KindDuplicate   Kind = "DUPLICATE"
	KindConflict    Kind = "CONCURRENCY_CONFLICT"
	KindNotFound    Kind = "NOT_FOUND"
	KindForbidden   Kind = "FORBIDDEN"
)

// Reason is the specific, user-actionable cause of a failure.
type Reason string

const (
	ReasonInvalidInput      Reason = "INVALID_INPUT"
	ReasonIneligible        Reason = "INELIGIBLE"
	ReasonCrossAcademy      Reason = "CROSS_ACADEMY"
	ReasonSessionCanceled   Reason = "SESSION_CANCELED"
	ReasonSessionStarted    Reason = "SESSION_STARTED"
	ReasonSessionFull       Reason = "SESSION_FULL"
	ReasonExhausted         Reason = "EXHAUSTED"
	ReasonExpired           Reason = "EXPIRED"
	ReasonNotYetStarted     Reason = "NOT_YET_STARTED"
	ReasonCancelled         Reason = "CANCELLED"
	ReasonDuplicateBooking  Reason = "DUPLICATE_BOOKING"
	ReasonDuplicateIssuance Reason = "DUPLICATE_ISSUANCE"
	ReasonConflict          Reason = "CONCURRENCY_CONFLICT"
	ReasonSessionNotFound   Reason = "SESSION_NOT_FOUND"
	ReasonTemplateNotFound  Reason = "TEMPLATE_NOT_FOUND"
	ReasonRuleNotFound      Reason = "RULE_NOT_FOUND"
	ReasonTicketNotFound    Reason = "TICKET_NOT_FOUND"
	ReasonBookingNotFound   Reason = "BOOKING_NOT_FOUND"
	ReasonAcademyNotFound   Reason = "ACADEMY_NOT_FOUND"
	ReasonNoUsableTicket    Reason = "NO_USABLE_TICKET"
	ReasonInvalidTransition Reason = "INVALID_TRANSITION"
	ReasonNotOwner          Reason = "NOT_OWNER"
	ReasonRequestNotFound   Reason = "EXTENSION_REQUEST_NOT_FOUND"
)

// Error is the failure type returned by every service operation that can be
// rejected for a domain reason. Infrastructure failures are returned as
// plain wrapped errors instead.
type Error struct {
	Kind   Kind
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Reason so that errors.Is(err, ErrSessionFull) works for any
// message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason && (t.Kind == "" || t.Kind == e.Kind)
}

func newError(kind Kind, reason Reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func validation(format string, args ...any) *Error {
	return newError(KindValidation, ReasonInvalidInput, format, args...)
}

func wrapValidation(err error, msg string) *Error {
	return &Error{Kind: KindValidation, Reason: ReasonInvalidInput, Msg: msg, Err: err}
}

func conflict(format string, args ...any) *Error {
	return newError(KindConflict, ReasonConflict, format, args...)
}

// Reason targets for errors.Is.
var (
	ErrIneligible        = &Error{Kind: KindEligibility, Reason: ReasonIneligible}
	ErrCrossAcademy      = &Error{Kind: KindEligibility, Reason: ReasonCrossAcademy}
	ErrSessionCanceled   = &Error{Kind: KindEligibility, Reason: ReasonSessionCanceled}
	ErrSessionStarted    = &Error{Kind: KindEligibility, Reason: ReasonSessionStarted}
	ErrSessionFull       = &Error{Kind: KindCapacity, Reason: ReasonSessionFull}
	ErrExhausted         = &Error{Kind: KindEntitlement, Reason: ReasonExhausted}
	ErrExpired           = &Error{Kind: KindEntitlement, Reason: ReasonExpired}
	ErrNotYetStarted     = &Error{Kind: KindEntitlement, Reason: ReasonNotYetStarted}
	ErrCancelled         = &Error{Kind: KindEntitlement, Reason: ReasonCancelled}
	ErrDuplicateBooking  = &Error{Kind: KindDuplicate, Reason: ReasonDuplicateBooking}
	ErrDuplicateIssuance = &Error{Kind: KindDuplicate, Reason: ReasonDuplicateIssuance}
	ErrConflict          = &Error{Kind: KindConflict, Reason: ReasonConflict}
)

// KindOf returns the kind of a service error, or "" for other errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ReasonOf returns the reason of a service error, or "" for other errors.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsRetryable reports whether err is a transient concurrency conflict.
func IsRetryable(err error) bool { return KindOf(err) == KindConflict }
