package tenantbus

import (
	"context"
)

// Handle is a tenant bound to the core that loaded it. Mutations are
// forwarded by tenant id. The embedded fields are a snapshot and are not
// refreshed after a mutation; re-read through Core.Query or Core.QueryByID.
type Handle struct {
	Tenant
	core *Core
}

// Handle binds the tenant to the core.
func (c *Core) Handle(t Tenant) *Handle {
	return &Handle{
		Tenant: t,
		core:   c,
	}
}

// AddVMs maps the VMs to this tenant.
func (h *Handle) AddVMs(ctx context.Context, vms []VM) error {
	return h.core.AddVMs(ctx, h.ID, vms)
}

// RemoveVMs removes the VM mappings from this tenant.
func (h *Handle) RemoveVMs(ctx context.Context, vms []VM) error {
	return h.core.RemoveVMs(ctx, h.ID, vms)
}

// SetName renames this tenant.
func (h *Handle) SetName(ctx context.Context, name string) error {
	return h.core.SetName(ctx, h.ID, name)
}

// SetDescription replaces the description of this tenant.
func (h *Handle) SetDescription(ctx context.Context, description string) error {
	return h.core.SetDescription(ctx, h.ID, description)
}

// SetDefaultDatastoreAndPrivileges moves this tenant's default datastore.
func (h *Handle) SetDefaultDatastoreAndPrivileges(ctx context.Context, datastore string, priv Privilege) error {
	return h.core.SetDefaultDatastoreAndPrivileges(ctx, h.ID, datastore, priv)
}

// SetDatastoreAccessPrivileges upserts privileges for this tenant.
func (h *Handle) SetDatastoreAccessPrivileges(ctx context.Context, privs []Privilege) error {
	return h.core.SetDatastoreAccessPrivileges(ctx, h.ID, privs)
}

// Remove deletes this tenant.
func (h *Handle) Remove(ctx context.Context, cascadeVolumes bool) error {
	return h.core.Remove(ctx, h.ID, cascadeVolumes)
}
