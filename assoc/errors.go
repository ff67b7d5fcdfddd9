package assoc

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRelationship is returned by ChangeRelationship for a foreign
	// name that no association declares.
	ErrUnknownRelationship = errors.New("assoc: unknown relationship")
	// ErrNotManyToOne is returned by ChangeRelationship for associations that
	// are not belongsTo.
	ErrNotManyToOne = errors.New("assoc: relationship is not belongsTo")
	// ErrOwnerNew is returned by the fetch of a hasMany collection whose owner
	// has no identity yet. No request is sent.
	ErrOwnerNew = errors.New("assoc: owner has no identity")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("assoc: foreign key conflict")
)

// ConfigError describes a declared association that failed validation.
type ConfigError struct {
	Index       int
	Name        string
	ForeignName string
	Reason      string
}

func (e *ConfigError) Error() string {
	label := e.ForeignName
	if label == "" {
		label = e.Name
	}
	if label == "" {
		return fmt.Sprintf("assoc: association #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("assoc: association #%d (%s): %s", e.Index, label, e.Reason)
}

// ConflictError is returned when a belongsTo payload carries a foreign key
// that disagrees with the key already stored on the owner.
type ConflictError struct {
	ForeignName string
	Key         string
	Owner       any
	Payload     any
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("assoc: %s: payload foreign key %v would overwrite %s=%v",
		e.ForeignName, e.Payload, e.Key, e.Owner)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
