package tenantdb

import (
	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
)

type tenantDB struct {
	ID               uuid.UUID `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	DefaultDatastore string    `db:"default_datastore"`
}

type vmDB struct {
	ID       uuid.UUID `db:"vm_id"`
	Name     string    `db:"vm_name"`
	TenantID uuid.UUID `db:"tenant_id"`
}

type privilegeDB struct {
	TenantID         uuid.UUID `db:"tenant_id"`
	Datastore        string    `db:"datastore"`
	GlobalVisibility bool      `db:"global_visibility"`
	CreateVolume     bool      `db:"create_volume"`
	DeleteVolume     bool      `db:"delete_volume"`
	MountVolume      bool      `db:"mount_volume"`
	MaxVolumeSize    int64     `db:"max_volume_size"`
	UsageQuota       int64     `db:"usage_quota"`
}

type volumeDB struct {
	TenantID   uuid.UUID `db:"tenant_id"`
	Datastore  string    `db:"datastore"`
	VolumeName string    `db:"volume_name"`
	VolumeSize int64     `db:"volume_size"`
}

func toDBTenant(bus tenantbus.Tenant) tenantDB {
	return tenantDB{
		ID:               bus.ID,
		Name:             bus.Name,
		Description:      bus.Description,
		DefaultDatastore: bus.DefaultDatastore,
	}
}

func toDBVM(tenantID uuid.UUID, bus tenantbus.VM) vmDB {
	return vmDB{
		ID:       bus.ID,
		Name:     bus.Name,
		TenantID: tenantID,
	}
}

func toBusVM(db vmDB) tenantbus.VM {
	return tenantbus.VM{
		ID:   db.ID,
		Name: db.Name,
	}
}

func toDBPrivilege(tenantID uuid.UUID, bus tenantbus.Privilege) privilegeDB {
	return privilegeDB{
		TenantID:         tenantID,
		Datastore:        bus.Datastore,
		GlobalVisibility: bus.GlobalVisibility,
		CreateVolume:     bus.CreateVolume,
		DeleteVolume:     bus.DeleteVolume,
		MountVolume:      bus.MountVolume,
		MaxVolumeSize:    bus.MaxVolumeSize,
		UsageQuota:       bus.UsageQuota,
	}
}

func toBusPrivilege(db privilegeDB) tenantbus.Privilege {
	return tenantbus.Privilege{
		Datastore:        db.Datastore,
		GlobalVisibility: db.GlobalVisibility,
		CreateVolume:     db.CreateVolume,
		DeleteVolume:     db.DeleteVolume,
		MountVolume:      db.MountVolume,
		MaxVolumeSize:    db.MaxVolumeSize,
		UsageQuota:       db.UsageQuota,
	}
}

func toDBVolume(bus tenantbus.VolumeUsage) volumeDB {
	return volumeDB{
		TenantID:   bus.TenantID,
		Datastore:  bus.Datastore,
		VolumeName: bus.VolumeName,
		VolumeSize: bus.VolumeSize,
	}
}

func toBusVolumes(dbs []volumeDB) []tenantbus.VolumeUsage {
	bus := make([]tenantbus.VolumeUsage, len(dbs))

	for i, db := range dbs {
		bus[i] = tenantbus.VolumeUsage{
			TenantID:   db.TenantID,
			Datastore:  db.Datastore,
			VolumeName: db.VolumeName,
			VolumeSize: db.VolumeSize,
		}
	}

	return bus
}

// toBusTenants assembles tenants from their rows. The privilege at the
// tenant's default datastore becomes DefaultPrivileges, the rest are extras.
func toBusTenants(tdbs []tenantDB, vdbs []vmDB, pdbs []privilegeDB) []tenantbus.Tenant {
	vmsByTenant := make(map[uuid.UUID][]tenantbus.VM)
	for _, v := range vdbs {
		vmsByTenant[v.TenantID] = append(vmsByTenant[v.TenantID], toBusVM(v))
	}

	privsByTenant := make(map[uuid.UUID][]privilegeDB)
	for _, p := range pdbs {
		privsByTenant[p.TenantID] = append(privsByTenant[p.TenantID], p)
	}

	bus := make([]tenantbus.Tenant, len(tdbs))
	for i, t := range tdbs {
		bus[i] = toBusTenant(t, vmsByTenant[t.ID], privsByTenant[t.ID])
	}

	return bus
}

func toBusTenant(db tenantDB, vms []tenantbus.VM, pdbs []privilegeDB) tenantbus.Tenant {
	t := tenantbus.Tenant{
		ID:               db.ID,
		Name:             db.Name,
		Description:      db.Description,
		DefaultDatastore: db.DefaultDatastore,
		VMs:              vms,
	}

	for _, p := range pdbs {
		if p.Datastore == db.DefaultDatastore {
			t.DefaultPrivileges = toBusPrivilege(p)
			continue
		}
		t.Privileges = append(t.Privileges, toBusPrivilege(p))
	}

	return t
}
