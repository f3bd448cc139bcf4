package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
)

// TenantCreateArgs holds the inputs of tenant create.
type TenantCreateArgs struct {
	Name             string
	Description      string
	DefaultDatastore string
	Privilege        PrivilegeArgs
	VMs              []string
}

// TenantCreate adds a new tenant.
func TenantCreate(ctx context.Context, d Deps, args TenantCreateArgs) error {
	priv, err := args.Privilege.toPrivilege()
	if err != nil {
		return err
	}

	vms, err := parseVMs(args.VMs)
	if err != nil {
		return err
	}

	nt := tenantbus.NewTenant{
		Name:              args.Name,
		Description:       args.Description,
		DefaultDatastore:  args.DefaultDatastore,
		DefaultPrivileges: priv,
		VMs:               vms,
	}

	t, err := d.Tenant.Create(ctx, nt)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}

	fmt.Fprintf(d.Out, "tenant created: id[%s] name[%s]\n", t.ID, t.Name)

	return nil
}

// TenantList writes every tenant as a tenant file document.
func TenantList(ctx context.Context, d Deps) error {
	tenants, err := d.Tenant.Query(ctx)
	if err != nil {
		return fmt.Errorf("query tenants: %w", err)
	}

	return encodeTenantFile(d.Out, tenants)
}

// TenantRemove deletes a tenant, and its volumes with removeVolumes.
func TenantRemove(ctx context.Context, d Deps, ref string, removeVolumes bool) error {
	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		return err
	}

	if err := d.Tenant.Remove(ctx, t.ID, removeVolumes); err != nil {
		return fmt.Errorf("remove tenant: %w", err)
	}

	fmt.Fprintf(d.Out, "tenant removed: id[%s] name[%s]\n", t.ID, t.Name)

	return nil
}

// TenantUpdate renames a tenant or replaces its description. Empty values
// are left unchanged.
func TenantUpdate(ctx context.Context, d Deps, ref string, name string, description string) error {
	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		return err
	}

	h := d.Tenant.Handle(t)

	if name != "" {
		if err := h.SetName(ctx, name); err != nil {
			return fmt.Errorf("set name: %w", err)
		}
	}

	if description != "" {
		if err := h.SetDescription(ctx, description); err != nil {
			return fmt.Errorf("set description: %w", err)
		}
	}

	fmt.Fprintf(d.Out, "tenant updated: id[%s]\n", t.ID)

	return nil
}

// TenantImport creates every tenant in the tenant file read from r. Each
// tenant is created in its own transaction; the first failure stops the
// import.
func TenantImport(ctx context.Context, d Deps, r io.Reader) error {
	nts, err := decodeTenantFile(r)
	if err != nil {
		return err
	}

	for _, nt := range nts {
		t, err := d.Tenant.Create(ctx, nt)
		if err != nil {
			return fmt.Errorf("create tenant %q: %w", nt.Name, err)
		}

		fmt.Fprintf(d.Out, "tenant created: id[%s] name[%s]\n", t.ID, t.Name)
	}

	return nil
}
