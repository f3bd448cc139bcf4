package commands

import (
	"context"
	"fmt"

	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
)

// PrivilegeArgs holds privilege flags. Sizes are specifiers such as "10GB".
type PrivilegeArgs struct {
	Datastore        string
	GlobalVisibility bool
	CreateVolume     bool
	DeleteVolume     bool
	MountVolume      bool
	MaxVolumeSize    string
	UsageQuota       string
}

func (pa PrivilegeArgs) toPrivilege() (tenantbus.Privilege, error) {
	pd := privilegeDoc{
		Datastore:        pa.Datastore,
		GlobalVisibility: pa.GlobalVisibility,
		CreateVolume:     pa.CreateVolume,
		DeleteVolume:     pa.DeleteVolume,
		MountVolume:      pa.MountVolume,
		MaxVolumeSize:    pa.MaxVolumeSize,
		UsageQuota:       pa.UsageQuota,
	}

	return pd.toPrivilege()
}

// PrivilegeSet inserts or replaces the tenant's privilege for a datastore.
func PrivilegeSet(ctx context.Context, d Deps, ref string, args PrivilegeArgs) error {
	priv, err := args.toPrivilege()
	if err != nil {
		return err
	}

	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		return err
	}

	if err := d.Tenant.Handle(t).SetDatastoreAccessPrivileges(ctx, []tenantbus.Privilege{priv}); err != nil {
		return fmt.Errorf("set privileges: %w", err)
	}

	fmt.Fprintf(d.Out, "privilege set: tenant[%s] datastore[%s]\n", t.Name, priv.Datastore)

	return nil
}

// PrivilegeDefault moves the tenant's default datastore and sets its
// privilege.
func PrivilegeDefault(ctx context.Context, d Deps, ref string, args PrivilegeArgs) error {
	priv, err := args.toPrivilege()
	if err != nil {
		return err
	}

	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		return err
	}

	if err := d.Tenant.Handle(t).SetDefaultDatastoreAndPrivileges(ctx, args.Datastore, priv); err != nil {
		return fmt.Errorf("set default datastore: %w", err)
	}

	fmt.Fprintf(d.Out, "default datastore set: tenant[%s] datastore[%s]\n", t.Name, args.Datastore)

	return nil
}
