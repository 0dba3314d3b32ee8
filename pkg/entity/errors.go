package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ammar0144/entity4go/pkg/dataservice"
)

var (
	ErrUnknownEntityType = errors.New("unknown entity type")
	ErrUnknownProperty   = errors.New("unknown property")
	ErrInvalidValue      = errors.New("invalid value")
	ErrKeyConflict       = errors.New("an entity with this key is already in the cache")
	ErrDetached          = errors.New("entity is detached")
	ErrNoDataService     = errors.New("entity manager has no data service")
	ErrNotNavigation     = errors.New("property is not a navigation property")
	ErrManagerMismatch   = errors.New("entity belongs to another entity manager")
	ErrNoMetadata        = errors.New("metadata has not been fetched")
	ErrNoManager         = errors.New("query is not bound to an entity manager")
)

// IsKeyConflict checks if an error is a cache key conflict
func IsKeyConflict(err error) bool {
	return errors.Is(err, ErrKeyConflict)
}

// SaveError is returned when a save fails. Entities keep their pending state.
type SaveError struct {
	Err          error
	EntityErrors []dataservice.EntityError
}

func (e *SaveError) Error() string {
	if len(e.EntityErrors) == 0 {
		return fmt.Sprintf("save failed: %v", e.Err)
	}
	msgs := make([]string, 0, len(e.EntityErrors))
	for _, ee := range e.EntityErrors {
		msgs = append(msgs, ee.EntityTypeName+": "+ee.ErrorMessage)
	}
	return fmt.Sprintf("save failed: %v (%s)", e.Err, strings.Join(msgs, "; "))
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// ValidationIssue is one failed property rule
type ValidationIssue struct {
	EntityTypeName string
	Key            EntityKey
	PropertyName   string
	Message        string
}

// ValidationError lists every issue that stopped a save
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, fmt.Sprintf("%s.%s: %s", issue.EntityTypeName, issue.PropertyName, issue.Message))
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}
