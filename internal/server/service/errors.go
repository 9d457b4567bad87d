package service

import (
	"errors"
	"fmt"
)

// Code identifies a machine-stable service error.
type Code string

const (
	CodeProhibitedExtension     Code = "PROHIBITED_EXTENSION"
	CodeProhibitedArchiveMember Code = "PROHIBITED_ARCHIVE_MEMBER"
	CodeCorruptArchive          Code = "CORRUPT_ARCHIVE"
	CodeArchiveLimitExceeded    Code = "ARCHIVE_LIMIT_EXCEEDED"
	CodeQuotaExceeded           Code = "QUOTA_EXCEEDED"
	CodeFileTooLarge            Code = "FILE_TOO_LARGE"
	CodeStorageFailure          Code = "STORAGE_FAILURE"
	CodeNotFound                Code = "NOT_FOUND"
	CodeForbidden               Code = "FORBIDDEN"
	CodeValidation              Code = "VALIDATION"
	CodeConflict                Code = "CONFLICT"
)

// Error is a typed, user-presentable service error. Message and Details are
// safe to show to callers; Err holds the underlying cause for logs only.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e == nil {
		return "service error: <nil>"
	}
	if e.Message == "" {
		return fmt.Sprintf("service error: %s", e.Code)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError constructs a typed service error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) with(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

func storageFailure(err error) *Error {
	return NewError(CodeStorageFailure, "storage is temporarily unavailable").wrap(err)
}

func notFound(what string) *Error {
	return NewError(CodeNotFound, what+" not found")
}

func forbidden() *Error {
	return NewError(CodeForbidden, "you do not have permission to perform this action")
}

func validation(msg string) *Error {
	return NewError(CodeValidation, msg)
}

// AsError extracts a typed service error from the error chain.
func AsError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// IsCode reports whether the error chain contains the given code.
func IsCode(err error, code Code) bool {
	if typed, ok := AsError(err); ok {
		return typed.Code == code
	}
	return false
}

// codeOf returns err's code, treating untyped errors as storage failures.
func codeOf(err error) Code {
	if typed, ok := AsError(err); ok {
		return typed.Code
	}
	return CodeStorageFailure
}

// asServiceError converts any error into a typed one.
func asServiceError(err error) *Error {
	if typed, ok := AsError(err); ok {
		return typed
	}
	return storageFailure(err)
}
