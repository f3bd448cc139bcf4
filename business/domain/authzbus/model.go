package authzbus

import (
	"fmt"

	"github.com/google/uuid"
)

// SizeOption is the options key holding the requested volume size, such as
// "10GB". It is required for the create command.
const SizeOption = "size"

// Options carries the command options sent along with a request.
type Options map[string]string

// Decision is the outcome of an authorization request. An empty
// DenialReason means the command may proceed. The tenant fields are set
// when the VM belongs to a tenant.
type Decision struct {
	DenialReason string
	TenantID     uuid.UUID
	TenantName   string
}

// Allowed reports whether the command may proceed.
func (d Decision) Allowed() bool {
	return d.DenialReason == ""
}

// HasTenant reports whether the VM was found to belong to a tenant.
func (d Decision) HasTenant() bool {
	return d.TenantID != uuid.Nil
}

// =============================================================================

// FailurePolicy decides what a request gets when the tenant store fails.
type FailurePolicy int

// Set of failure policies.
const (
	FailClosed FailurePolicy = iota
	FailOpen
)

// String returns the name of the policy.
func (fp FailurePolicy) String() string {
	switch fp {
	case FailOpen:
		return "fail-open"
	default:
		return "fail-closed"
	}
}

// ParseFailurePolicy parses "fail-closed" or "fail-open".
func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch value {
	case "fail-closed", "":
		return FailClosed, nil
	case "fail-open":
		return FailOpen, nil
	}

	return FailClosed, fmt.Errorf("invalid failure policy %q", value)
}
