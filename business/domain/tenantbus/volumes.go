package tenantbus

import "context"

// Volume identifies a volume file owned by a tenant.
type Volume struct {
	Path     string
	Filename string
}

// VolumeManager is the collaborator that owns the physical volumes. It is
// only used when a tenant is removed together with its volumes.
type VolumeManager interface {
	ListVolumesForTenant(ctx context.Context, tenantName string) ([]Volume, error)
	DeleteVolume(ctx context.Context, path string) error
}
