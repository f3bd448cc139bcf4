package tenantbus

import (
	"github.com/google/uuid"
)

// Tenant represents an authorization principal that owns VMs and holds
// privileges per datastore.
type Tenant struct {
	ID                uuid.UUID
	Name              string
	Description       string
	DefaultDatastore  string
	DefaultPrivileges Privilege
	Privileges        []Privilege
	VMs               []VM
}

// VM represents a virtual machine mapped to a tenant.
type VM struct {
	ID   uuid.UUID `json:"vm_id" validate:"required"`
	Name string    `json:"vm_name"`
}

// Privilege represents the permissions and limits for one datastore. Sizes
// are in MB.
type Privilege struct {
	Datastore        string `json:"datastore" validate:"required"`
	GlobalVisibility bool   `json:"global_visibility"`
	CreateVolume     bool   `json:"create_volume"`
	DeleteVolume     bool   `json:"delete_volume"`
	MountVolume      bool   `json:"mount_volume"`
	MaxVolumeSize    int64  `json:"max_volume_size" validate:"gte=0"`
	UsageQuota       int64  `json:"usage_quota" validate:"gte=0"`
}

// VolumeUsage is one row of the usage ledger.
type VolumeUsage struct {
	TenantID   uuid.UUID `json:"tenant_id" validate:"required"`
	Datastore  string    `json:"datastore" validate:"required"`
	VolumeName string    `json:"volume_name" validate:"required"`
	VolumeSize int64     `json:"volume_size" validate:"gte=0"`
}

// NewTenant contains information needed to create a new tenant. The
// datastore of DefaultPrivileges is always set to DefaultDatastore.
type NewTenant struct {
	Name              string      `json:"name" validate:"required"`
	Description       string      `json:"description"`
	DefaultDatastore  string      `json:"default_datastore" validate:"required"`
	DefaultPrivileges Privilege   `json:"default_privileges"`
	VMs               []VM        `json:"vms" validate:"dive"`
	Privileges        []Privilege `json:"privileges" validate:"dive"`
}

type privileges struct {
	Privileges []Privilege `json:"privileges" validate:"dive"`
}

type vms struct {
	VMs []VM `json:"vms" validate:"dive"`
}
