// Package apperr classifies failures so transports can map them without
// inspecting messages.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindPolicy         Kind = "policy"
	KindInfrastructure Kind = "infrastructure"
)

const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInvalidPartner = "INVALID_PARTNER"
	CodeUnavailable    = "UNAVAILABLE"
	CodeDispatchFailed = "DISPATCH_FAILED"
)

var (
	ErrInvalidPartner = errors.New("partner is not active")
	ErrDispatchFailed = errors.New("otp dispatch failed")
	ErrRateLimited    = errors.New("rate limited")
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidRequest, Message: msg}
}

func NotFound(msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: msg, Err: err}
}

func Policy(code, msg string, err error) *Error {
	return &Error{Kind: KindPolicy, Code: code, Message: msg, Err: err}
}

func Infra(msg string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeUnavailable, Message: msg, Err: err}
}

// Wrap classifies a raw collaborator error as infrastructure unless it is
// already an *Error.
func Wrap(msg string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Infra(msg, err)
}

// KindOf returns the kind of err. Unclassified errors and context failures
// count as infrastructure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		return KindInfrastructure
	}
	return ""
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// RateLimited carries the retry hint for a rejected OTP request.
type RateLimited struct {
	RetryAfterSeconds int
}

func (r *RateLimited) Error() string {
	return fmt.Sprintf("%v: retry after %ds", ErrRateLimited, r.RetryAfterSeconds)
}

func (r *RateLimited) Unwrap() error { return ErrRateLimited }

func NewRateLimited(retryAfterSeconds int) *Error {
	return Policy(CodeRateLimited, "too many otp requests", &RateLimited{RetryAfterSeconds: retryAfterSeconds})
}
