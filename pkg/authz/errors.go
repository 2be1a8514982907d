package authz

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	ErrForbidden = errors.New("forbidden")
	ErrNotFound  = errors.New("not found")
)

// ForbiddenError is returned by the Require* gate functions when the user
// has no access, or has a role below the required minimum. Evaluator
// functions never return it; they report "no access" as zero values.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// NotFoundError is returned by the gate when the referenced resource does
// not exist, for callers that need to distinguish "missing" from
// "forbidden".
type NotFoundError struct {
	Resource ResourceType
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func forbiddenf(format string, args ...interface{}) error {
	return &ForbiddenError{Reason: fmt.Sprintf(format, args...)}
}
