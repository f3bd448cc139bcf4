package commands

import (
	"context"
	"fmt"
)

// VMAdd maps the VMs, given as "uuid" or "uuid=name", to the tenant.
func VMAdd(ctx context.Context, d Deps, ref string, args []string) error {
	vms, err := parseVMs(args)
	if err != nil {
		return err
	}

	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		return err
	}

	if err := d.Tenant.Handle(t).AddVMs(ctx, vms); err != nil {
		return fmt.Errorf("add vms: %w", err)
	}

	fmt.Fprintf(d.Out, "vms added: tenant[%s] count[%d]\n", t.Name, len(vms))

	return nil
}

// VMRemove removes the VM mappings from the tenant.
func VMRemove(ctx context.Context, d Deps, ref string, args []string) error {
	vms, err := parseVMs(args)
	if err != nil {
		return err
	}

	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		return err
	}

	if err := d.Tenant.Handle(t).RemoveVMs(ctx, vms); err != nil {
		return fmt.Errorf("remove vms: %w", err)
	}

	fmt.Fprintf(d.Out, "vms removed: tenant[%s] count[%d]\n", t.Name, len(vms))

	return nil
}
