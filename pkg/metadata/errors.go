package metadata

import "errors"

var (
	// ErrUnknownEntityType is returned for type or resource names the store does not know
	ErrUnknownEntityType = errors.New("unknown entity type")

	// ErrInvalidMetadata is returned when imported metadata is inconsistent
	ErrInvalidMetadata = errors.New("invalid metadata")
)
