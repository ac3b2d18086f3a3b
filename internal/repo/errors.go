package repo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies domain failures so the transport can pick a status code.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindNotFound
	KindInUse
	KindUnauthorized
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindInUse:
		return "in_use"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "internal"
	}
}

var (
	// ErrNotFound is returned when no row matches.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "ไม่พบข้อมูล"}
	// ErrConflict marks a duplicate name or key.
	ErrConflict = &Error{Kind: KindConflict, Message: "ข้อมูลนี้มีอยู่แล้ว"}
	// ErrInUse marks a delete refused because dependent rows exist.
	ErrInUse = &Error{Kind: KindInUse, Message: "ไม่สามารถลบได้เนื่องจากมีข้อมูลที่เกี่ยวข้อง"}
	// ErrValidation marks malformed or missing input.
	ErrValidation = &Error{Kind: KindValidation, Message: "ข้อมูลไม่ถูกต้อง"}
	// ErrUnauthorized marks a missing or invalid session.
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "กรุณาเข้าสู่ระบบ"}
	// ErrForbidden marks an authenticated caller without permission.
	ErrForbidden = &Error{Kind: KindForbidden, Message: "ไม่มีสิทธิ์ดำเนินการ"}
)

// Error carries a Thai, user-facing message next to the kind and the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works for
// every not-found error regardless of its message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func Validation(msg string) error { return &Error{Kind: KindValidation, Message: msg} }
func Conflict(msg string) error   { return &Error{Kind: KindConflict, Message: msg} }
func NotFound(msg string) error   { return &Error{Kind: KindNotFound, Message: msg} }
func InUse(msg string) error      { return &Error{Kind: KindInUse, Message: msg} }
func Forbidden(msg string) error  { return &Error{Kind: KindForbidden, Message: msg} }

// KindOf returns the kind of err, KindInternal for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message of a classified error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "เกิดข้อผิดพลาดภายในระบบ"
}

// Postgres SQLSTATE codes mapped by Classify.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeInvalidText         = "22P02"
	codeInvalidDatetime     = "22007"
)

// Classify converts driver errors into domain errors. Errors that are already classified
// pass through untouched; unknown errors are returned as-is and treated as internal.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: KindNotFound, Message: ErrNotFound.Message, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return &Error{Kind: KindConflict, Message: ErrConflict.Message, Err: err}
		case codeForeignKeyViolation:
			return &Error{Kind: KindInUse, Message: ErrInUse.Message, Err: err}
		case codeCheckViolation, codeInvalidText, codeInvalidDatetime:
			return &Error{Kind: KindValidation, Message: ErrValidation.Message, Err: err}
		}
	}
	return err
}

// ClassifyAs behaves like Classify but replaces the message of kinds produced from driver
// errors. Errors built by the domain keep their own message.
func ClassifyAs(err error, messages map[Kind]string) error {
	classified := Classify(err)
	var e *Error
	if errors.As(classified, &e) && e.Err != nil {
		if msg, ok := messages[e.Kind]; ok {
			return &Error{Kind: e.Kind, Message: msg, Err: e.Err}
		}
	}
	return classified
}
