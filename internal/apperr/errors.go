// Package apperr defines the error taxonomy shared by the node store and its surfaces.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidName        = errors.New("invalid name")
	ErrInvalidType        = errors.New("invalid node type")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrCycleDetected      = errors.New("cycle detected")
	ErrSelfParent         = errors.New("node cannot be its own parent")
	ErrNotAFolder         = errors.New("only folders can have children")
	ErrAlreadyParented    = errors.New("node already has another parent")
	ErrInvalidRoot        = errors.New("operation not allowed on the root node")
	ErrPersistenceCorrupt = errors.New("persisted store is corrupt")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvalidOutline     = errors.New("invalid outline")
)

// NameError reports which naming rule a candidate name violated.
type NameError struct {
	Name   string
	Reason string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("invalid name %q: %s", e.Name, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidName) match.
func (e *NameError) Is(target error) bool {
	return target == ErrInvalidName
}

// CycleError identifies the node whose descendant walk revisited a node on its own path.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in hierarchy of node %s", e.NodeID)
}

// Is makes errors.Is(err, ErrCycleDetected) match.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}
