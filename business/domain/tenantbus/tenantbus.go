// Package tenantbus provides business access to the tenant domain: tenants,
// their VM mappings, per-datastore privileges and the volume usage ledger.
package tenantbus

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/sdk/sqldb"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jcpaschoal/volauth/foundation/otel"
	"github.com/jcpaschoal/volauth/foundation/validate"
	"go.opentelemetry.io/otel/attribute"
)

// Storer defines the behavior required by the tenantbus to interact with the
// database. Each method issues its statements against whatever the storer is
// bound to, so multi-row operations get their atomicity from NewWithTx.
type Storer interface {
	NewWithTx(tx sqldb.CommitRollbacker) (Storer, error)
	SchemaReady(ctx context.Context) (bool, error)

	Create(ctx context.Context, t Tenant) error
	Delete(ctx context.Context, tenantID uuid.UUID) error
	UpdateName(ctx context.Context, tenantID uuid.UUID, name string) error
	UpdateDescription(ctx context.Context, tenantID uuid.UUID, description string) error
	UpdateDefaultDatastore(ctx context.Context, tenantID uuid.UUID, datastore string) error
	Query(ctx context.Context) ([]Tenant, error)
	QueryByID(ctx context.Context, tenantID uuid.UUID) (Tenant, error)
	QueryByVM(ctx context.Context, vmID uuid.UUID) (Tenant, error)

	AddVMs(ctx context.Context, tenantID uuid.UUID, vms []VM) error
	RemoveVMs(ctx context.Context, tenantID uuid.UUID, vms []VM) error
	DeleteVMs(ctx context.Context, tenantID uuid.UUID) error

	AddPrivileges(ctx context.Context, tenantID uuid.UUID, privs []Privilege) error
	UpsertPrivileges(ctx context.Context, tenantID uuid.UUID, privs []Privilege) error
	DeletePrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) error
	DeletePrivileges(ctx context.Context, tenantID uuid.UUID) error
	QueryPrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) (Privilege, error)

	AddVolume(ctx context.Context, vu VolumeUsage) error
	DeleteVolumes(ctx context.Context, tenantID uuid.UUID) error
	QueryVolumes(ctx context.Context, tenantID uuid.UUID) ([]VolumeUsage, error)
	SumVolumeSize(ctx context.Context, tenantID uuid.UUID, datastore string) (int64, error)
}

// committer is implemented by storers that act once the transaction their
// bound copy ran in has committed.
type committer interface {
	Committed()
}

// Core manages the set of APIs for tenant access.
type Core struct {
	log      *logger.Logger
	beginner sqldb.Beginner
	storer   Storer
	volumes  VolumeManager
}

// NewCore constructs a core for tenant api access. The volume manager is
// only needed for cascading tenant removal and may be nil.
func NewCore(log *logger.Logger, beginner sqldb.Beginner, storer Storer, volumes VolumeManager) *Core {
	return &Core{
		log:      log,
		beginner: beginner,
		storer:   storer,
		volumes:  volumes,
	}
}

// Create adds a new tenant together with its VMs, its default privilege and
// any extra privileges. Nothing is stored if any row can't be inserted.
func (c *Core) Create(ctx context.Context, nt NewTenant) (Tenant, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.create")
	defer span.End()

	nt.DefaultPrivileges.Datastore = nt.DefaultDatastore

	if err := validate.Check(nt); err != nil {
		return Tenant{}, fmt.Errorf("validate: %w: %w", ErrInvalidInput, err)
	}

	t := Tenant{
		ID:                uuid.New(),
		Name:              nt.Name,
		Description:       nt.Description,
		DefaultDatastore:  nt.DefaultDatastore,
		DefaultPrivileges: nt.DefaultPrivileges,
		Privileges:        slices.Clone(nt.Privileges),
		VMs:               slices.Clone(nt.VMs),
	}

	f := func(s Storer) error {
		if err := s.Create(ctx, t); err != nil {
			return fmt.Errorf("create: %w", err)
		}

		if err := s.AddVMs(ctx, t.ID, t.VMs); err != nil {
			return fmt.Errorf("addvms: %w", err)
		}

		privs := append([]Privilege{t.DefaultPrivileges}, t.Privileges...)
		if err := s.AddPrivileges(ctx, t.ID, privs); err != nil {
			return fmt.Errorf("addprivileges: %w", err)
		}

		return nil
	}

	if err := c.withinTran(ctx, "create", f); err != nil {
		return Tenant{}, err
	}

	c.log.Info(ctx, "tenantbus: tenant created", "tenant_id", t.ID, "name", t.Name, "vms", len(t.VMs), "privileges", len(t.Privileges)+1)

	return t, nil
}

// Query returns every tenant with its VMs and privileges.
func (c *Core) Query(ctx context.Context) ([]Tenant, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.query")
	defer span.End()

	tenants, err := c.storer.Query(ctx)
	if err != nil {
		return nil, storeError("query", err)
	}

	return tenants, nil
}

// QueryByID finds the tenant by the specified ID.
func (c *Core) QueryByID(ctx context.Context, tenantID uuid.UUID) (Tenant, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.queryByID")
	defer span.End()

	t, err := c.storer.QueryByID(ctx, tenantID)
	if err != nil {
		return Tenant{}, storeError(fmt.Sprintf("query: tenantID[%s]", tenantID), err)
	}

	return t, nil
}

// QueryByVM finds the tenant the VM is mapped to. ErrNotFound means the VM
// is not tracked by any tenant.
func (c *Core) QueryByVM(ctx context.Context, vmID uuid.UUID) (Tenant, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.queryByVM")
	defer span.End()

	t, err := c.storer.QueryByVM(ctx, vmID)
	if err != nil {
		return Tenant{}, storeError(fmt.Sprintf("query: vmID[%s]", vmID), err)
	}

	return t, nil
}

// QueryPrivilege returns the privilege row for the tenant and datastore.
// ErrNotFound means no row exists.
func (c *Core) QueryPrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) (Privilege, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.queryPrivilege")
	defer span.End()

	p, err := c.storer.QueryPrivilege(ctx, tenantID, datastore)
	if err != nil {
		return Privilege{}, storeError(fmt.Sprintf("query privilege: tenantID[%s] datastore[%s]", tenantID, datastore), err)
	}

	return p, nil
}

// Usage returns the sum of the volume sizes in MB recorded for the tenant
// on the datastore.
func (c *Core) Usage(ctx context.Context, tenantID uuid.UUID, datastore string) (int64, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.usage")
	defer span.End()

	total, err := c.storer.SumVolumeSize(ctx, tenantID, datastore)
	if err != nil {
		return 0, storeError(fmt.Sprintf("usage: tenantID[%s] datastore[%s]", tenantID, datastore), err)
	}

	return total, nil
}

// SchemaReady reports whether every table the tenant model needs exists.
func (c *Core) SchemaReady(ctx context.Context) (bool, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.schemaReady")
	defer span.End()

	ready, err := c.storer.SchemaReady(ctx)
	if err != nil {
		return false, storeError("schema ready", err)
	}

	return ready, nil
}

// Remove deletes the tenant with its VM mappings and privileges. With
// cascadeVolumes the tenant's volumes are deleted through the volume manager
// first, and its usage ledger is purged with the other rows. If any volume
// can't be deleted the tenant is left untouched.
func (c *Core) Remove(ctx context.Context, tenantID uuid.UUID, cascadeVolumes bool) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.remove", attribute.Bool("cascade", cascadeVolumes))
	defer span.End()

	if cascadeVolumes {
		t, err := c.QueryByID(ctx, tenantID)
		if err != nil {
			return err
		}

		if err := c.removeVolumes(ctx, t); err != nil {
			return err
		}
	}

	f := func(s Storer) error {
		if _, err := s.QueryByID(ctx, tenantID); err != nil {
			return fmt.Errorf("querybyid: %w", err)
		}

		if cascadeVolumes {
			if err := s.DeleteVolumes(ctx, tenantID); err != nil {
				return fmt.Errorf("deletevolumes: %w", err)
			}
		}

		if err := s.DeleteVMs(ctx, tenantID); err != nil {
			return fmt.Errorf("deletevms: %w", err)
		}

		if err := s.DeletePrivileges(ctx, tenantID); err != nil {
			return fmt.Errorf("deleteprivileges: %w", err)
		}

		if err := s.Delete(ctx, tenantID); err != nil {
			return fmt.Errorf("delete: %w", err)
		}

		return nil
	}

	if err := c.withinTran(ctx, "remove", f); err != nil {
		return err
	}

	c.log.Info(ctx, "tenantbus: tenant removed", "tenant_id", tenantID, "cascade", cascadeVolumes)

	return nil
}

// AddVMs maps the VMs to the tenant. A VM already mapped to any tenant
// fails the whole call.
func (c *Core) AddVMs(ctx context.Context, tenantID uuid.UUID, vmList []VM) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.addVMs")
	defer span.End()

	if len(vmList) == 0 {
		return nil
	}

	if err := validate.Check(vms{VMs: vmList}); err != nil {
		return fmt.Errorf("validate: %w: %w", ErrInvalidInput, err)
	}

	f := func(s Storer) error {
		return s.AddVMs(ctx, tenantID, vmList)
	}

	return c.withinTran(ctx, "add vms", f)
}

// RemoveVMs removes the VM mappings owned by the tenant. VMs mapped to
// other tenants are left alone.
func (c *Core) RemoveVMs(ctx context.Context, tenantID uuid.UUID, vmList []VM) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.removeVMs")
	defer span.End()

	if len(vmList) == 0 {
		return nil
	}

	f := func(s Storer) error {
		return s.RemoveVMs(ctx, tenantID, vmList)
	}

	return c.withinTran(ctx, "remove vms", f)
}

// SetName renames the tenant.
func (c *Core) SetName(ctx context.Context, tenantID uuid.UUID, name string) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.setName")
	defer span.End()

	if name == "" {
		return fmt.Errorf("name: %w: name is required", ErrInvalidInput)
	}

	f := func(s Storer) error {
		if _, err := s.QueryByID(ctx, tenantID); err != nil {
			return err
		}
		return s.UpdateName(ctx, tenantID, name)
	}

	return c.withinTran(ctx, "set name", f)
}

// SetDescription replaces the tenant description.
func (c *Core) SetDescription(ctx context.Context, tenantID uuid.UUID, description string) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.setDescription")
	defer span.End()

	f := func(s Storer) error {
		if _, err := s.QueryByID(ctx, tenantID); err != nil {
			return err
		}
		return s.UpdateDescription(ctx, tenantID, description)
	}

	return c.withinTran(ctx, "set description", f)
}

// SetDefaultDatastoreAndPrivileges moves the tenant's default datastore. The
// privilege row at the old default datastore is dropped and the row at the
// new one is written with priv, in one transaction.
func (c *Core) SetDefaultDatastoreAndPrivileges(ctx context.Context, tenantID uuid.UUID, datastore string, priv Privilege) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.setDefaultDatastoreAndPrivileges", attribute.String("datastore", datastore))
	defer span.End()

	priv.Datastore = datastore

	if err := validate.Check(priv); err != nil {
		return fmt.Errorf("validate: %w: %w", ErrInvalidInput, err)
	}

	f := func(s Storer) error {
		t, err := s.QueryByID(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("querybyid: %w", err)
		}

		if err := s.UpdateDefaultDatastore(ctx, tenantID, datastore); err != nil {
			return fmt.Errorf("updatedefaultdatastore: %w", err)
		}

		if err := s.DeletePrivilege(ctx, tenantID, t.DefaultDatastore); err != nil {
			return fmt.Errorf("deleteprivilege: %w", err)
		}

		if err := s.UpsertPrivileges(ctx, tenantID, []Privilege{priv}); err != nil {
			return fmt.Errorf("upsertprivileges: %w", err)
		}

		return nil
	}

	return c.withinTran(ctx, "set default datastore", f)
}

// SetDatastoreAccessPrivileges inserts or replaces the privilege row for
// each datastore in privs. Calling it again with the same input leaves a
// single row per datastore.
func (c *Core) SetDatastoreAccessPrivileges(ctx context.Context, tenantID uuid.UUID, privs []Privilege) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.setDatastoreAccessPrivileges")
	defer span.End()

	if len(privs) == 0 {
		return nil
	}

	if err := validate.Check(privileges{Privileges: privs}); err != nil {
		return fmt.Errorf("validate: %w: %w", ErrInvalidInput, err)
	}

	f := func(s Storer) error {
		if _, err := s.QueryByID(ctx, tenantID); err != nil {
			return fmt.Errorf("querybyid: %w", err)
		}

		return s.UpsertPrivileges(ctx, tenantID, privs)
	}

	return c.withinTran(ctx, "set datastore access privileges", f)
}

// RecordVolumeCreated appends a row to the usage ledger.
func (c *Core) RecordVolumeCreated(ctx context.Context, tenantID uuid.UUID, datastore string, volumeName string, sizeMB int64) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.recordVolumeCreated")
	defer span.End()

	vu := VolumeUsage{
		TenantID:   tenantID,
		Datastore:  datastore,
		VolumeName: volumeName,
		VolumeSize: sizeMB,
	}

	if err := validate.Check(vu); err != nil {
		return fmt.Errorf("validate: %w: %w", ErrInvalidInput, err)
	}

	if err := c.storer.AddVolume(ctx, vu); err != nil {
		return storeError("record volume", err)
	}

	c.log.Debug(ctx, "tenantbus: volume recorded", "tenant_id", tenantID, "datastore", datastore, "volume", volumeName, "size_mb", sizeMB)

	return nil
}

// QueryVolumes returns the usage ledger rows for the tenant. Rows remain
// after the tenant itself is removed without cascading.
func (c *Core) QueryVolumes(ctx context.Context, tenantID uuid.UUID) ([]VolumeUsage, error) {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.queryVolumes")
	defer span.End()

	vus, err := c.storer.QueryVolumes(ctx, tenantID)
	if err != nil {
		return nil, storeError("query volumes", err)
	}

	return vus, nil
}

// RemoveVolumeUsage purges the usage ledger rows for the tenant.
func (c *Core) RemoveVolumeUsage(ctx context.Context, tenantID uuid.UUID) error {
	ctx, span := otel.AddSpan(ctx, "business.tenantbus.removeVolumeUsage")
	defer span.End()

	if err := c.storer.DeleteVolumes(ctx, tenantID); err != nil {
		return storeError("remove volume usage", err)
	}

	return nil
}

// =============================================================================

// withinTran runs fn with a storer bound to a new transaction.
func (c *Core) withinTran(ctx context.Context, op string, fn func(s Storer) error) error {
	var txStorer Storer

	f := func(tx sqldb.CommitRollbacker) error {
		s, err := c.storer.NewWithTx(tx)
		if err != nil {
			return fmt.Errorf("newwithtx: %w", err)
		}
		txStorer = s

		return fn(s)
	}

	if err := sqldb.WithinTran(ctx, c.log, c.beginner, f); err != nil {
		return storeError(op, err)
	}

	if cm, ok := txStorer.(committer); ok {
		cm.Committed()
	}

	return nil
}

func (c *Core) removeVolumes(ctx context.Context, t Tenant) error {
	if c.volumes == nil {
		return fmt.Errorf("%w: no volume manager configured", ErrVolumeRemoval)
	}

	vols, err := c.volumes.ListVolumesForTenant(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("%w: list volumes: %w", ErrVolumeRemoval, err)
	}

	var errs []error
	for _, v := range vols {
		path := filepath.Join(v.Path, v.Filename)

		c.log.Info(ctx, "tenantbus: deleting volume", "tenant_id", t.ID, "path", path)

		if err := c.volumes.DeleteVolume(ctx, path); err != nil {
			c.log.Error(ctx, "tenantbus: delete volume failed", "tenant_id", t.ID, "path", path, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrVolumeRemoval, errors.Join(errs...))
	}

	return nil
}
