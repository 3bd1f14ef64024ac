package engine

import (
	"errors"
	"fmt"

	"github.com/zjrosen/tabtree/internal/host"
)

var (
	// ErrInitializationTimeout is returned when cold start did not complete
	// within Settings.InitTimeout. The engine stays usable; callers retry.
	ErrInitializationTimeout = errors.New("initialization timeout")

	// ErrTargetNotFound is matched by every *TargetNotFoundError.
	ErrTargetNotFound = errors.New("target not found")

	// ErrNotInitialized is returned when cold start ran and failed. It wraps
	// the failure; Reset followed by Initialize or SyncTabs recovers.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrInvalidRelation is returned for a drop relation other than
	// before, after or child.
	ErrInvalidRelation = errors.New("invalid drop relation")
)

// TargetNotFoundError names the tab a request referenced.
type TargetNotFoundError struct {
	TabID host.TabID
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("tab %d not found", e.TabID)
}

// Is lets errors.Is(err, ErrTargetNotFound) match.
func (e *TargetNotFoundError) Is(target error) bool {
	return target == ErrTargetNotFound
}

func targetNotFound(id host.TabID) error {
	return &TargetNotFoundError{TabID: id}
}
