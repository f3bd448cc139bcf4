package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/authzbus"
	"github.com/jcpaschoal/volauth/business/types/command"
)

// Authorize runs an authorization request for a VM without executing the
// command, and reports the decision.
func Authorize(ctx context.Context, d Deps, vm string, datastore string, cmd string, size string) error {
	vmID, err := uuid.Parse(vm)
	if err != nil {
		return fmt.Errorf("vm %q: %w", vm, err)
	}

	c, err := command.Parse(cmd)
	if err != nil {
		return err
	}

	opts := authzbus.Options{}
	if size != "" {
		opts[authzbus.SizeOption] = size
	}

	dec, err := d.Authz.Authorize(ctx, vmID, datastore, c, opts)
	if err != nil && dec.Allowed() {
		return fmt.Errorf("authorize: %w", err)
	}

	tenant := "-"
	if dec.HasTenant() {
		tenant = fmt.Sprintf("%s (%s)", dec.TenantName, dec.TenantID)
	}

	switch {
	case dec.Allowed():
		fmt.Fprintf(d.Out, "ALLOWED vm[%s] datastore[%s] command[%s] tenant[%s]\n", vmID, datastore, c, tenant)
	default:
		fmt.Fprintf(d.Out, "DENIED vm[%s] datastore[%s] command[%s] tenant[%s] reason[%s]\n", vmID, datastore, c, tenant, dec.DenialReason)
	}

	return err
}
