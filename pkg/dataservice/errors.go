package dataservice

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the server and the client
var (
	ErrUnknownResource   = errors.New("unknown resource")
	ErrInvalidQuery      = errors.New("invalid query")
	ErrInvalidSaveBundle = errors.New("invalid save bundle")
	ErrConcurrency       = errors.New("concurrency conflict")
	ErrEntityNotFound    = errors.New("entity not found")
	ErrServer            = errors.New("data service error")
)

// Error codes carried in ErrorResponse.Code
const (
	CodeUnknownResource   = "unknown_resource"
	CodeInvalidQuery      = "invalid_query"
	CodeInvalidSaveBundle = "invalid_save_bundle"
	CodeConcurrency       = "concurrency"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

var codeErrors = map[string]error{
	CodeUnknownResource:   ErrUnknownResource,
	CodeInvalidQuery:      ErrInvalidQuery,
	CodeInvalidSaveBundle: ErrInvalidSaveBundle,
	CodeConcurrency:       ErrConcurrency,
	CodeNotFound:          ErrEntityNotFound,
	CodeInternal:          ErrServer,
}

// CodeFor returns the wire code of err's sentinel
func CodeFor(err error) string {
	for code, sentinel := range codeErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// ServerError is a decoded non-2xx response
type ServerError struct {
	StatusCode   int
	Code         string
	Message      string
	EntityErrors []EntityError
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("data service returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap lets errors.Is match the sentinel named by the response code
func (e *ServerError) Unwrap() error {
	if sentinel, ok := codeErrors[e.Code]; ok {
		return sentinel
	}
	return ErrServer
}

// IsConcurrency checks if an error is a concurrency conflict
func IsConcurrency(err error) bool {
	return errors.Is(err, ErrConcurrency)
}
