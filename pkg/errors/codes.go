package errors

import (
	"errors"
	"net/http"
)

type Code string

const (
	CodeBadRequest   Code = "BAD_REQUEST"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeGone         Code = "GONE"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus    int
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeBadRequest:   {HTTPStatus: http.StatusBadRequest, PublicMessage: "bad request"},
	CodeUnauthorized: {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:    {HTTPStatus: http.StatusForbidden, PublicMessage: "purchase not allowed"},
	CodeNotFound:     {HTTPStatus: http.StatusNotFound, PublicMessage: "lead not found or unavailable"},
	CodeGone:         {HTTPStatus: http.StatusGone, PublicMessage: "lead has expired"},
	CodeConflict:     {HTTPStatus: http.StatusConflict, PublicMessage: "lead already purchased"},
	CodeInternal:     {HTTPStatus: http.StatusInternalServerError, PublicMessage: "failed to purchase lead"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is a taxonomy-tagged error surfaced by the purchase pipeline.
type Error struct {
	code    Code
	message string
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Error() string {
	if e.cause == nil || e.cause.Error() == e.message {
		return e.message
	}
	return e.message + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// As returns the first *Error in the chain, or nil.
func As(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// CodeOf reports the taxonomy code of err, CodeInternal when untagged.
func CodeOf(err error) Code {
	if te := As(err); te != nil {
		return te.Code()
	}
	return CodeInternal
}
