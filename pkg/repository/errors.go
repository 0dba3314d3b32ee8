package repository

import "errors"

var (
	// ErrUnknownEntitySet is returned when no repository is registered for a type or resource
	ErrUnknownEntitySet = errors.New("unknown entity set")

	// ErrUnknownProperty is returned for property names the model does not declare
	ErrUnknownProperty = errors.New("unknown property")

	// ErrInvalidExpand is returned for expand paths that do not follow navigation properties
	ErrInvalidExpand = errors.New("invalid expand path")

	// ErrInvalidValue is returned when a value cannot be converted to the property's type
	ErrInvalidValue = errors.New("invalid property value")

	// ErrNotFound is returned when an update or delete matched no row
	ErrNotFound = errors.New("entity not found")
)

// IsNotFound checks if an error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
