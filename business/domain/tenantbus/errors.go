package tenantbus

import (
	"errors"
	"fmt"
)

// Set of error variables for tenant operations.
var (
	ErrNotFound           = errors.New("tenant not found")
	ErrVMAssigned         = errors.New("vm is already assigned to a tenant")
	ErrDuplicatePrivilege = errors.New("privilege already defined for datastore")
	ErrInvalidInput       = errors.New("invalid input")
	ErrVolumeRemoval      = errors.New("volume removal failed")
)

// StoreError reports that a statement or transaction against the tenant
// store failed. The store is left as it was before the operation began.
type StoreError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("tenant store: %s: %s", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err carries a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// storeError wraps a store failure for op. Missing records are reported as
// they are since they are a valid answer, not a failure.
func storeError(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return &StoreError{Op: op, Err: err}
}
