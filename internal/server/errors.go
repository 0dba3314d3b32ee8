package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/metadata"
	"github.com/ammar0144/entity4go/pkg/repository"

	"github.com/gin-gonic/gin"
)

// EntityFailure ties a save error to the bundle entry that caused it
type EntityFailure struct {
	Err    error
	Entity dataservice.EntityError
}

func (e *EntityFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Entity.EntityTypeName, e.Err)
}

func (e *EntityFailure) Unwrap() error {
	return e.Err
}

// statusFor maps a service error onto its HTTP status
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, dataservice.ErrUnknownResource):
		return http.StatusNotFound
	case errors.Is(err, dataservice.ErrInvalidQuery), errors.Is(err, dataservice.ErrInvalidSaveBundle):
		return http.StatusBadRequest
	case errors.Is(err, dataservice.ErrConcurrency):
		return http.StatusConflict
	case errors.Is(err, dataservice.ErrEntityNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// queryError maps repository and metadata lookup failures onto the wire sentinels
func queryError(err error) error {
	switch {
	case errors.Is(err, repository.ErrUnknownEntitySet), errors.Is(err, metadata.ErrUnknownEntityType):
		return fmt.Errorf("%w: %v", dataservice.ErrUnknownResource, err)
	case errors.Is(err, repository.ErrUnknownProperty),
		errors.Is(err, repository.ErrInvalidExpand),
		errors.Is(err, repository.ErrInvalidValue):
		return fmt.Errorf("%w: %v", dataservice.ErrInvalidQuery, err)
	}
	return err
}

// saveError maps a failed write of one bundle entry onto the wire sentinels
func saveError(change dataservice.EntityChange, keyValues []interface{}, err error) error {
	switch {
	case repository.IsNotFound(err):
		err = fmt.Errorf("%w: %s was changed or deleted by another user", dataservice.ErrConcurrency, change.EntityTypeName)
	case errors.Is(err, repository.ErrUnknownEntitySet), errors.Is(err, metadata.ErrUnknownEntityType),
		errors.Is(err, repository.ErrUnknownProperty), errors.Is(err, repository.ErrInvalidValue):
		err = fmt.Errorf("%w: %v", dataservice.ErrInvalidSaveBundle, err)
	}
	return &EntityFailure{
		Err: err,
		Entity: dataservice.EntityError{
			EntityTypeName: change.EntityTypeName,
			KeyValues:      keyValues,
			ErrorMessage:   err.Error(),
		},
	}
}

// writeError renders err as an ErrorResponse
func (s *Service) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	body := dataservice.ErrorResponse{
		Error: err.Error(),
		Code:  dataservice.CodeFor(err),
	}

	var failure *EntityFailure
	if errors.As(err, &failure) {
		body.EntityErrors = []dataservice.EntityError{failure.Entity}
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Request.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Warn("request rejected", "path", c.Request.URL.Path, "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}
