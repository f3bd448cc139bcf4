// Package tenantdb contains tenant related CRUD functionality.
package tenantdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/sdk/migrate"
	"github.com/jcpaschoal/volauth/business/sdk/sqldb"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jmoiron/sqlx"
)

// Store manages the set of APIs for tenant database access.
type Store struct {
	log *logger.Logger
	db  sqlx.ExtContext
}

// NewStore constructs the api for data access.
func NewStore(log *logger.Logger, db *sqlx.DB) *Store {
	return &Store{
		log: log,
		db:  db,
	}
}

// NewWithTx constructs a new Store value replacing the sqlx DB
// value with a sqlx DB value that is currently inside a transaction.
func (s *Store) NewWithTx(tx sqldb.CommitRollbacker) (tenantbus.Storer, error) {
	ec, err := sqldb.GetExtContext(tx)
	if err != nil {
		return nil, err
	}

	store := Store{
		log: s.log,
		db:  ec,
	}

	return &store, nil
}

// SchemaReady reports whether every table of the tenant schema exists.
func (s *Store) SchemaReady(ctx context.Context) (bool, error) {
	for _, table := range migrate.Tables {
		ok, err := sqldb.TableExists(ctx, s.log, s.db, table)
		if err != nil {
			return false, fmt.Errorf("tableexists: %s: %w", table, err)
		}

		if !ok {
			s.log.Debug(ctx, "tenantdb: schema not provisioned", "missing_table", table)
			return false, nil
		}
	}

	return true, nil
}

// Create inserts a new tenant row into the database.
func (s *Store) Create(ctx context.Context, t tenantbus.Tenant) error {
	const q = `
	INSERT INTO tenants
		(id, name, description, default_datastore)
	VALUES
		(:id, :name, :description, :default_datastore)`

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, toDBTenant(t)); err != nil {
		return fmt.Errorf("namedexeccontext: %w", err)
	}

	return nil
}

// Delete removes the tenant row from the database.
func (s *Store) Delete(ctx context.Context, tenantID uuid.UUID) error {
	data := struct {
		ID string `db:"id"`
	}{
		ID: tenantID.String(),
	}

	const q = `
	DELETE FROM
		tenants
	WHERE
		id = :id`

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, data); err != nil {
		return fmt.Errorf("namedexeccontext: %w", err)
	}

	return nil
}

// UpdateName replaces the name of the tenant.
func (s *Store) UpdateName(ctx context.Context, tenantID uuid.UUID, name string) error {
	data := struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}{
		ID:   tenantID.String(),
		Name: name,
	}

	const q = `
	UPDATE
		tenants
	SET
		name = :name
	WHERE
		id = :id`

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, data); err != nil {
		return fmt.Errorf("namedexeccontext: %w", err)
	}

	return nil
}

// UpdateDescription replaces the description of the tenant.
func (s *Store) UpdateDescription(ctx context.Context, tenantID uuid.UUID, description string) error {
	data := struct {
		ID          string `db:"id"`
		Description string `db:"description"`
	}{
		ID:          tenantID.String(),
		Description: description,
	}

	const q = `
	UPDATE
		tenants
	SET
		description = :description
	WHERE
		id = :id`

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, data); err != nil {
		return fmt.Errorf("namedexeccontext: %w", err)
	}

	return nil
}

// UpdateDefaultDatastore replaces the default datastore of the tenant.
func (s *Store) UpdateDefaultDatastore(ctx context.Context, tenantID uuid.UUID, datastore string) error {
	data := struct {
		ID        string `db:"id"`
		Datastore string `db:"default_datastore"`
	}{
		ID:        tenantID.String(),
		Datastore: datastore,
	}

	const q = `
	UPDATE
		tenants
	SET
		default_datastore = :default_datastore
	WHERE
		id = :id`

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, data); err != nil {
		return fmt.Errorf("namedexeccontext: %w", err)
	}

	return nil
}

// Query retrieves every tenant with its VMs and privileges.
func (s *Store) Query(ctx context.Context) ([]tenantbus.Tenant, error) {
	const qt = `
	SELECT
		id, name, description, default_datastore
	FROM
		tenants
	ORDER BY
		name, id`

	var tdbs []tenantDB
	if err := sqldb.QuerySlice(ctx, s.log, s.db, qt, &tdbs); err != nil {
		return nil, fmt.Errorf("db: tenants: %w", err)
	}

	const qv = `
	SELECT
		vm_id, vm_name, tenant_id
	FROM
		vms
	ORDER BY
		vm_name, vm_id`

	var vdbs []vmDB
	if err := sqldb.QuerySlice(ctx, s.log, s.db, qv, &vdbs); err != nil {
		return nil, fmt.Errorf("db: vms: %w", err)
	}

	const qp = `
	SELECT
		tenant_id, datastore, global_visibility, create_volume, delete_volume,
		mount_volume, max_volume_size, usage_quota
	FROM
		privileges
	ORDER BY
		datastore`

	var pdbs []privilegeDB
	if err := sqldb.QuerySlice(ctx, s.log, s.db, qp, &pdbs); err != nil {
		return nil, fmt.Errorf("db: privileges: %w", err)
	}

	return toBusTenants(tdbs, vdbs, pdbs), nil
}

// QueryByID gets the specified tenant with its VMs and privileges.
func (s *Store) QueryByID(ctx context.Context, tenantID uuid.UUID) (tenantbus.Tenant, error) {
	data := struct {
		ID string `db:"tenant_id"`
	}{
		ID: tenantID.String(),
	}

	const qt = `
	SELECT
		id, name, description, default_datastore
	FROM
		tenants
	WHERE
		id = :tenant_id`

	var tdb tenantDB
	if err := sqldb.NamedQueryStruct(ctx, s.log, s.db, qt, data, &tdb); err != nil {
		if errors.Is(err, sqldb.ErrDBNotFound) {
			return tenantbus.Tenant{}, fmt.Errorf("db: %w", tenantbus.ErrNotFound)
		}
		return tenantbus.Tenant{}, fmt.Errorf("db: %w", err)
	}

	const qv = `
	SELECT
		vm_id, vm_name, tenant_id
	FROM
		vms
	WHERE
		tenant_id = :tenant_id
	ORDER BY
		vm_name, vm_id`

	var vdbs []vmDB
	if err := sqldb.NamedQuerySlice(ctx, s.log, s.db, qv, data, &vdbs); err != nil {
		return tenantbus.Tenant{}, fmt.Errorf("db: vms: %w", err)
	}

	const qp = `
	SELECT
		tenant_id, datastore, global_visibility, create_volume, delete_volume,
		mount_volume, max_volume_size, usage_quota
	FROM
		privileges
	WHERE
		tenant_id = :tenant_id
	ORDER BY
		datastore`

	var pdbs []privilegeDB
	if err := sqldb.NamedQuerySlice(ctx, s.log, s.db, qp, data, &pdbs); err != nil {
		return tenantbus.Tenant{}, fmt.Errorf("db: privileges: %w", err)
	}

	var vms []tenantbus.VM
	for _, v := range vdbs {
		vms = append(vms, toBusVM(v))
	}

	return toBusTenant(tdb, vms, pdbs), nil
}

// QueryByVM gets the tenant the specified VM is mapped to.
func (s *Store) QueryByVM(ctx context.Context, vmID uuid.UUID) (tenantbus.Tenant, error) {
	data := struct {
		ID string `db:"vm_id"`
	}{
		ID: vmID.String(),
	}

	const q = `
	SELECT
		vm_id, vm_name, tenant_id
	FROM
		vms
	WHERE
		vm_id = :vm_id`

	var vdb vmDB
	if err := sqldb.NamedQueryStruct(ctx, s.log, s.db, q, data, &vdb); err != nil {
		if errors.Is(err, sqldb.ErrDBNotFound) {
			return tenantbus.Tenant{}, fmt.Errorf("db: %w", tenantbus.ErrNotFound)
		}
		return tenantbus.Tenant{}, fmt.Errorf("db: %w", err)
	}

	return s.QueryByID(ctx, vdb.TenantID)
}

// AddVMs maps the VMs to the tenant.
func (s *Store) AddVMs(ctx context.Context, tenantID uuid.UUID, vms []tenantbus.VM) error {
	const q = `
	INSERT INTO vms
		(vm_id, vm_name, tenant_id)
	VALUES
		(:vm_id, :vm_name, :tenant_id)`

	for _, vm := range vms {
		if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, toDBVM(tenantID, vm)); err != nil {
			return fmt.Errorf("namedexeccontext: vm[%s]: %w", vm.ID, constraintError(err))
		}
	}

	return nil
}

// RemoveVMs deletes the VM mappings that belong to the tenant.
func (s *Store) RemoveVMs(ctx context.Context, tenantID uuid.UUID, vms []tenantbus.VM) error {
	const q = `
	DELETE FROM
		vms
	WHERE
		vm_id = :vm_id AND tenant_id = :tenant_id`

	for _, vm := range vms {
		if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, toDBVM(tenantID, vm)); err != nil {
			return fmt.Errorf("namedexeccontext: vm[%s]: %w", vm.ID, err)
		}
	}

	return nil
}

// DeleteVMs deletes every VM mapping of the tenant.
func (s *Store) DeleteVMs(ctx context.Context, tenantID uuid.UUID) error {
	return s.deleteByTenant(ctx, "vms", tenantID)
}

// AddPrivileges inserts the privilege rows. A row that already exists for
// the same datastore fails the call.
func (s *Store) AddPrivileges(ctx context.Context, tenantID uuid.UUID, privs []tenantbus.Privilege) error {
	const q = `
	INSERT INTO privileges
		(tenant_id, datastore, global_visibility, create_volume, delete_volume,
		mount_volume, max_volume_size, usage_quota)
	VALUES
		(:tenant_id, :datastore, :global_visibility, :create_volume, :delete_volume,
		:mount_volume, :max_volume_size, :usage_quota)`

	for _, p := range privs {
		if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, toDBPrivilege(tenantID, p)); err != nil {
			return fmt.Errorf("namedexeccontext: datastore[%s]: %w", p.Datastore, constraintError(err))
		}
	}

	return nil
}

// UpsertPrivileges inserts each privilege row or replaces the one already
// stored for the same datastore.
func (s *Store) UpsertPrivileges(ctx context.Context, tenantID uuid.UUID, privs []tenantbus.Privilege) error {
	const q = `
	INSERT INTO privileges
		(tenant_id, datastore, global_visibility, create_volume, delete_volume,
		mount_volume, max_volume_size, usage_quota)
	VALUES
		(:tenant_id, :datastore, :global_visibility, :create_volume, :delete_volume,
		:mount_volume, :max_volume_size, :usage_quota)
	ON CONFLICT (tenant_id, datastore) DO UPDATE SET
		global_visibility = excluded.global_visibility,
		create_volume = excluded.create_volume,
		delete_volume = excluded.delete_volume,
		mount_volume = excluded.mount_volume,
		max_volume_size = excluded.max_volume_size,
		usage_quota = excluded.usage_quota`

	for _, p := range privs {
		if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, toDBPrivilege(tenantID, p)); err != nil {
			return fmt.Errorf("namedexeccontext: datastore[%s]: %w", p.Datastore, err)
		}
	}

	return nil
}

// DeletePrivilege deletes the privilege row for the tenant and datastore.
func (s *Store) DeletePrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) error {
	data := struct {
		TenantID  string `db:"tenant_id"`
		Datastore string `db:"datastore"`
	}{
		TenantID:  tenantID.String(),
		Datastore: datastore,
	}

	const q = `
	DELETE FROM
		privileges
	WHERE
		tenant_id = :tenant_id AND datastore = :datastore`

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, data); err != nil {
		return fmt.Errorf("namedexeccontext: %w", err)
	}

	return nil
}

// DeletePrivileges deletes every privilege row of the tenant.
func (s *Store) DeletePrivileges(ctx context.Context, tenantID uuid.UUID) error {
	return s.deleteByTenant(ctx, "privileges", tenantID)
}

// QueryPrivilege gets the privilege row for the tenant and datastore.
func (s *Store) QueryPrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) (tenantbus.Privilege, error) {
	data := struct {
		TenantID  string `db:"tenant_id"`
		Datastore string `db:"datastore"`
	}{
		TenantID:  tenantID.String(),
		Datastore: datastore,
	}

	const q = `
	SELECT
		tenant_id, datastore, global_visibility, create_volume, delete_volume,
		mount_volume, max_volume_size, usage_quota
	FROM
		privileges
	WHERE
		tenant_id = :tenant_id AND datastore = :datastore`

	var pdb privilegeDB
	if err := sqldb.NamedQueryStruct(ctx, s.log, s.db, q, data, &pdb); err != nil {
		if errors.Is(err, sqldb.ErrDBNotFound) {
			return tenantbus.Privilege{}, fmt.Errorf("db: %w", tenantbus.ErrNotFound)
		}
		return tenantbus.Privilege{}, fmt.Errorf("db: %w", err)
	}

	return toBusPrivilege(pdb), nil
}

// AddVolume appends a row to the usage ledger.
func (s *Store) AddVolume(ctx context.Context, vu tenantbus.VolumeUsage) error {
	const q = `
	INSERT INTO volumes
		(tenant_id, datastore, volume_name, volume_size)
	VALUES
		(:tenant_id, :datastore, :volume_name, :volume_size)`

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, toDBVolume(vu)); err != nil {
		return fmt.Errorf("namedexeccontext: %w", err)
	}

	return nil
}

// DeleteVolumes deletes every usage ledger row of the tenant.
func (s *Store) DeleteVolumes(ctx context.Context, tenantID uuid.UUID) error {
	return s.deleteByTenant(ctx, "volumes", tenantID)
}

// QueryVolumes retrieves the usage ledger rows of the tenant.
func (s *Store) QueryVolumes(ctx context.Context, tenantID uuid.UUID) ([]tenantbus.VolumeUsage, error) {
	data := struct {
		TenantID string `db:"tenant_id"`
	}{
		TenantID: tenantID.String(),
	}

	const q = `
	SELECT
		tenant_id, datastore, volume_name, volume_size
	FROM
		volumes
	WHERE
		tenant_id = :tenant_id
	ORDER BY
		datastore, volume_name`

	var vdbs []volumeDB
	if err := sqldb.NamedQuerySlice(ctx, s.log, s.db, q, data, &vdbs); err != nil {
		return nil, fmt.Errorf("namedqueryslice: %w", err)
	}

	return toBusVolumes(vdbs), nil
}

// SumVolumeSize returns the total size in MB recorded for the tenant on the
// datastore.
func (s *Store) SumVolumeSize(ctx context.Context, tenantID uuid.UUID, datastore string) (int64, error) {
	data := struct {
		TenantID  string `db:"tenant_id"`
		Datastore string `db:"datastore"`
	}{
		TenantID:  tenantID.String(),
		Datastore: datastore,
	}

	const q = `
	SELECT
		COALESCE(SUM(volume_size), 0) AS total
	FROM
		volumes
	WHERE
		tenant_id = :tenant_id AND datastore = :datastore`

	var result struct {
		Total int64 `db:"total"`
	}

	if err := sqldb.NamedQueryStruct(ctx, s.log, s.db, q, data, &result); err != nil {
		return 0, fmt.Errorf("namedquerystruct: %w", err)
	}

	return result.Total, nil
}

// =============================================================================

// deleteByTenant removes the rows of table owned by the tenant. The table
// name comes from this package only.
func (s *Store) deleteByTenant(ctx context.Context, table string, tenantID uuid.UUID) error {
	data := struct {
		TenantID string `db:"tenant_id"`
	}{
		TenantID: tenantID.String(),
	}

	q := fmt.Sprintf(`
	DELETE FROM
		%s
	WHERE
		tenant_id = :tenant_id`, table)

	if err := sqldb.NamedExecContext(ctx, s.log, s.db, q, data); err != nil {
		return fmt.Errorf("namedexeccontext: %s: %w", table, err)
	}

	return nil
}

// constraintError maps a duplicated key on the vms or privileges table to
// the matching tenantbus error. The driver error stays in the chain.
func constraintError(err error) error {
	var dupErr sqldb.ErrDBDuplicatedEntry
	if !errors.As(err, &dupErr) {
		return err
	}

	switch dupErr.Table {
	case "vms":
		return fmt.Errorf("%w: %w", tenantbus.ErrVMAssigned, err)
	case "privileges":
		return fmt.Errorf("%w: %w", tenantbus.ErrDuplicatePrivilege, err)
	}

	return err
}
