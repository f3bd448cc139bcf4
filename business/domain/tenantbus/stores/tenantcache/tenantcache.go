// Package tenantcache contains tenant related CRUD functionality with
// caching of the lookups made on every authorization.
package tenantcache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/sdk/sqldb"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/viccon/sturdyc"
)

// Store manages the set of APIs for tenant data and caching. Writes go to
// the wrapped storer and drop the affected entries. A store bound to a
// transaction drops them again from Committed, since a reader outside the
// transaction can cache the old rows until it commits. Usage sums and
// schema checks are never cached.
type Store struct {
	log     *logger.Logger
	storer  tenantbus.Storer
	vms     *sturdyc.Client[uuid.UUID]
	cache   *sturdyc.Client[tenantbus.Tenant]
	privs   *sturdyc.Client[tenantbus.Privilege]
	evicted *evictions
}

// evictions holds the keys dropped inside a transaction.
type evictions struct {
	mu      sync.Mutex
	tenants []string
	vms     []string
	privs   []string
}

// NewStore constructs the api for data and caching access.
func NewStore(log *logger.Logger, storer tenantbus.Storer, ttl time.Duration) *Store {
	const capacity = 10000
	const numShards = 10
	const evictionPercentage = 10

	return &Store{
		log:    log,
		storer: storer,
		vms:    sturdyc.New[uuid.UUID](capacity, numShards, ttl, evictionPercentage),
		cache:  sturdyc.New[tenantbus.Tenant](capacity, numShards, ttl, evictionPercentage),
		privs:  sturdyc.New[tenantbus.Privilege](capacity, numShards, ttl, evictionPercentage),
	}
}

// NewWithTx constructs a new Store value replacing the sqlx DB
// value with a sqlx DB value that is currently inside a transaction.
// The caches are shared with the original store.
func (s *Store) NewWithTx(tx sqldb.CommitRollbacker) (tenantbus.Storer, error) {
	storer, err := s.storer.NewWithTx(tx)
	if err != nil {
		return nil, err
	}

	store := Store{
		log:     s.log,
		storer:  storer,
		vms:     s.vms,
		cache:   s.cache,
		privs:   s.privs,
		evicted: &evictions{},
	}

	return &store, nil
}

// Committed drops every entry the transaction bound store dropped, once
// more. It is a no-op on a store not bound to a transaction.
func (s *Store) Committed() {
	if s.evicted == nil {
		return
	}

	ev := s.evicted
	ev.mu.Lock()
	defer ev.mu.Unlock()

	for _, k := range ev.tenants {
		s.cache.Delete(k)
	}
	for _, k := range ev.vms {
		s.vms.Delete(k)
	}
	for _, k := range ev.privs {
		s.privs.Delete(k)
	}

	ev.tenants, ev.vms, ev.privs = nil, nil, nil
}

// SchemaReady reports whether every table of the tenant schema exists.
func (s *Store) SchemaReady(ctx context.Context) (bool, error) {
	return s.storer.SchemaReady(ctx)
}

// Create inserts a new tenant row into the database.
func (s *Store) Create(ctx context.Context, t tenantbus.Tenant) error {
	if err := s.storer.Create(ctx, t); err != nil {
		return err
	}

	s.deleteTenant(t.ID)

	return nil
}

// Delete removes the tenant row from the database.
func (s *Store) Delete(ctx context.Context, tenantID uuid.UUID) error {
	if err := s.storer.Delete(ctx, tenantID); err != nil {
		return err
	}

	s.deleteTenant(tenantID)

	return nil
}

// UpdateName replaces the name of the tenant.
func (s *Store) UpdateName(ctx context.Context, tenantID uuid.UUID, name string) error {
	if err := s.storer.UpdateName(ctx, tenantID, name); err != nil {
		return err
	}

	s.deleteTenant(tenantID)

	return nil
}

// UpdateDescription replaces the description of the tenant.
func (s *Store) UpdateDescription(ctx context.Context, tenantID uuid.UUID, description string) error {
	if err := s.storer.UpdateDescription(ctx, tenantID, description); err != nil {
		return err
	}

	s.deleteTenant(tenantID)

	return nil
}

// UpdateDefaultDatastore replaces the default datastore of the tenant.
func (s *Store) UpdateDefaultDatastore(ctx context.Context, tenantID uuid.UUID, datastore string) error {
	if err := s.storer.UpdateDefaultDatastore(ctx, tenantID, datastore); err != nil {
		return err
	}

	s.deleteTenant(tenantID)

	return nil
}

// Query retrieves every tenant. The result is not cached.
func (s *Store) Query(ctx context.Context) ([]tenantbus.Tenant, error) {
	return s.storer.Query(ctx)
}

// QueryByID gets the specified tenant.
func (s *Store) QueryByID(ctx context.Context, tenantID uuid.UUID) (tenantbus.Tenant, error) {
	if t, ok := s.cache.Get(tenantID.String()); ok {
		return t, nil
	}

	t, err := s.storer.QueryByID(ctx, tenantID)
	if err != nil {
		return tenantbus.Tenant{}, err
	}

	s.cache.Set(tenantID.String(), t)

	return t, nil
}

// QueryByVM gets the tenant the specified VM is mapped to.
func (s *Store) QueryByVM(ctx context.Context, vmID uuid.UUID) (tenantbus.Tenant, error) {
	if tenantID, ok := s.vms.Get(vmID.String()); ok {
		if t, ok := s.cache.Get(tenantID.String()); ok {
			return t, nil
		}
	}

	t, err := s.storer.QueryByVM(ctx, vmID)
	if err != nil {
		return tenantbus.Tenant{}, err
	}

	s.vms.Set(vmID.String(), t.ID)
	s.cache.Set(t.ID.String(), t)

	return t, nil
}

// AddVMs maps the VMs to the tenant.
func (s *Store) AddVMs(ctx context.Context, tenantID uuid.UUID, vms []tenantbus.VM) error {
	if err := s.storer.AddVMs(ctx, tenantID, vms); err != nil {
		return err
	}

	s.deleteVMs(vms)
	s.deleteTenant(tenantID)

	return nil
}

// RemoveVMs deletes the VM mappings that belong to the tenant.
func (s *Store) RemoveVMs(ctx context.Context, tenantID uuid.UUID, vms []tenantbus.VM) error {
	if err := s.storer.RemoveVMs(ctx, tenantID, vms); err != nil {
		return err
	}

	s.deleteVMs(vms)
	s.deleteTenant(tenantID)

	return nil
}

// DeleteVMs deletes every VM mapping of the tenant.
func (s *Store) DeleteVMs(ctx context.Context, tenantID uuid.UUID) error {
	t, err := s.storer.QueryByID(ctx, tenantID)
	if err != nil {
		return err
	}

	if err := s.storer.DeleteVMs(ctx, tenantID); err != nil {
		return err
	}

	s.deleteVMs(t.VMs)
	s.deleteTenant(tenantID)

	return nil
}

// AddPrivileges inserts the privilege rows.
func (s *Store) AddPrivileges(ctx context.Context, tenantID uuid.UUID, privs []tenantbus.Privilege) error {
	if err := s.storer.AddPrivileges(ctx, tenantID, privs); err != nil {
		return err
	}

	s.deletePrivileges(tenantID, privs)
	s.deleteTenant(tenantID)

	return nil
}

// UpsertPrivileges inserts or replaces the privilege rows.
func (s *Store) UpsertPrivileges(ctx context.Context, tenantID uuid.UUID, privs []tenantbus.Privilege) error {
	if err := s.storer.UpsertPrivileges(ctx, tenantID, privs); err != nil {
		return err
	}

	s.deletePrivileges(tenantID, privs)
	s.deleteTenant(tenantID)

	return nil
}

// DeletePrivilege deletes the privilege row for the tenant and datastore.
func (s *Store) DeletePrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) error {
	if err := s.storer.DeletePrivilege(ctx, tenantID, datastore); err != nil {
		return err
	}

	s.deletePrivilege(tenantID, datastore)
	s.deleteTenant(tenantID)

	return nil
}

// DeletePrivileges deletes every privilege row of the tenant.
func (s *Store) DeletePrivileges(ctx context.Context, tenantID uuid.UUID) error {
	t, err := s.storer.QueryByID(ctx, tenantID)
	if err != nil {
		return err
	}

	if err := s.storer.DeletePrivileges(ctx, tenantID); err != nil {
		return err
	}

	s.deletePrivilege(tenantID, t.DefaultDatastore)
	s.deletePrivileges(tenantID, t.Privileges)
	s.deleteTenant(tenantID)

	return nil
}

// QueryPrivilege gets the privilege row for the tenant and datastore.
func (s *Store) QueryPrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) (tenantbus.Privilege, error) {
	key := privilegeKey(tenantID, datastore)

	if p, ok := s.privs.Get(key); ok {
		return p, nil
	}

	p, err := s.storer.QueryPrivilege(ctx, tenantID, datastore)
	if err != nil {
		return tenantbus.Privilege{}, err
	}

	s.privs.Set(key, p)

	return p, nil
}

// AddVolume appends a row to the usage ledger.
func (s *Store) AddVolume(ctx context.Context, vu tenantbus.VolumeUsage) error {
	return s.storer.AddVolume(ctx, vu)
}

// DeleteVolumes deletes every usage ledger row of the tenant.
func (s *Store) DeleteVolumes(ctx context.Context, tenantID uuid.UUID) error {
	return s.storer.DeleteVolumes(ctx, tenantID)
}

// QueryVolumes retrieves the usage ledger rows of the tenant.
func (s *Store) QueryVolumes(ctx context.Context, tenantID uuid.UUID) ([]tenantbus.VolumeUsage, error) {
	return s.storer.QueryVolumes(ctx, tenantID)
}

// SumVolumeSize returns the total size in MB recorded for the tenant on the
// datastore.
func (s *Store) SumVolumeSize(ctx context.Context, tenantID uuid.UUID, datastore string) (int64, error) {
	return s.storer.SumVolumeSize(ctx, tenantID, datastore)
}

// =============================================================================

func (s *Store) deleteTenant(tenantID uuid.UUID) {
	key := tenantID.String()
	s.cache.Delete(key)

	if ev := s.evicted; ev != nil {
		ev.mu.Lock()
		ev.tenants = append(ev.tenants, key)
		ev.mu.Unlock()
	}
}

func (s *Store) deleteVMs(vms []tenantbus.VM) {
	for _, vm := range vms {
		key := vm.ID.String()
		s.vms.Delete(key)

		if ev := s.evicted; ev != nil {
			ev.mu.Lock()
			ev.vms = append(ev.vms, key)
			ev.mu.Unlock()
		}
	}
}

func (s *Store) deletePrivilege(tenantID uuid.UUID, datastore string) {
	key := privilegeKey(tenantID, datastore)
	s.privs.Delete(key)

	if ev := s.evicted; ev != nil {
		ev.mu.Lock()
		ev.privs = append(ev.privs, key)
		ev.mu.Unlock()
	}
}

func (s *Store) deletePrivileges(tenantID uuid.UUID, privs []tenantbus.Privilege) {
	for _, p := range privs {
		s.deletePrivilege(tenantID, p.Datastore)
	}
}

func privilegeKey(tenantID uuid.UUID, datastore string) string {
	return tenantID.String() + "/" + datastore
}
