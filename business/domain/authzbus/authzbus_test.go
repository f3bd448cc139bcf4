package authzbus_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/authzbus"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/sdk/dbtest"
	"github.com/jcpaschoal/volauth/business/sdk/metrics"
	"github.com/jcpaschoal/volauth/business/types/command"
	"github.com/jcpaschoal/volauth/business/types/volsize"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fixture struct {
	db     *dbtest.Database
	engine *authzbus.Core
	tenant tenantbus.Tenant
	vm     tenantbus.VM
}

// newFixture creates one tenant owning one vm, with priv at datastore1.
func newFixture(t *testing.T, name string, priv tenantbus.Privilege) fixture {
	t.Helper()

	db := dbtest.New(t, name)

	vm := tenantbus.VM{ID: uuid.New(), Name: "vm1"}

	nt := tenantbus.NewTenant{
		Name:              "tenant1",
		DefaultDatastore:  "datastore1",
		DefaultPrivileges: priv,
		VMs:               []tenantbus.VM{vm},
	}

	tnt, err := db.BusDomain.Tenant.Create(context.Background(), nt)
	if err != nil {
		t.Fatalf("Should be able to create tenant: %s", err)
	}

	engine, err := authzbus.NewCore(db.Log, db.BusDomain.Tenant)
	if err != nil {
		t.Fatalf("Should be able to create engine: %s", err)
	}

	return fixture{
		db:     db,
		engine: engine,
		tenant: tnt,
		vm:     vm,
	}
}

func size(s string) authzbus.Options {
	return authzbus.Options{authzbus.SizeOption: s}
}

// =============================================================================

func Test_Authorize(t *testing.T) {
	t.Parallel()

	t.Run("untracked-vm", untrackedVM)
	t.Run("policy", policyTable)
	t.Run("quota", quotaAdmission)
	t.Run("last-failure-wins", lastFailureWins)
	t.Run("no-privilege-row", noPrivilegeRow)
	t.Run("schema-missing", schemaMissing)
	t.Run("caller-contract", callerContract)
	t.Run("fail-closed", failClosed)
	t.Run("fail-open", failOpen)
	t.Run("concurrent", concurrent)
}

func untrackedVM(t *testing.T) {
	f := newFixture(t, "untrackedVM", tenantbus.Privilege{})

	for _, cmd := range []command.Command{command.Attach, command.Remove, command.List} {
		d, err := f.engine.Authorize(context.Background(), uuid.New(), "datastore1", cmd, nil)
		if err != nil {
			t.Fatalf("Should be able to authorize %s: %s", cmd, err)
		}

		if diff := cmp.Diff(authzbus.Decision{}, d); diff != "" {
			t.Fatalf("Should allow an untracked vm without a tenant. Diff:\n%s", diff)
		}
	}
}

func policyTable(t *testing.T) {
	f := newFixture(t, "policyTable", tenantbus.Privilege{MountVolume: false, CreateVolume: true, MaxVolumeSize: 100, UsageQuota: 100})

	ctx := context.Background()

	table := []struct {
		name   string
		cmd    command.Command
		opts   authzbus.Options
		reason string
	}{
		{name: "list", cmd: command.List, reason: authzbus.ReasonNoMount},
		{name: "get", cmd: command.Get, reason: authzbus.ReasonNoMount},
		{name: "attach", cmd: command.Attach, reason: authzbus.ReasonNoMount},
		{name: "detach", cmd: command.Detach, reason: authzbus.ReasonNoMount},
		{name: "remove", cmd: command.Remove, reason: authzbus.ReasonNoDelete},
		{name: "create", cmd: command.Create, opts: size("100MB")},
		{name: "create-too-big", cmd: command.Create, opts: size("101MB"), reason: authzbus.ReasonUsageQuota},
	}

	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", tt.cmd, tt.opts)
			if err != nil {
				t.Fatalf("Should be able to authorize: %s", err)
			}

			exp := authzbus.Decision{
				DenialReason: tt.reason,
				TenantID:     f.tenant.ID,
				TenantName:   "tenant1",
			}

			if diff := cmp.Diff(exp, d); diff != "" {
				t.Fatalf("Should get the expected decision. Diff:\n%s", diff)
			}

			if d.Allowed() != (tt.reason == "") {
				t.Fatalf("Should report Allowed consistently with the reason")
			}

			if !d.HasTenant() {
				t.Fatalf("Should report the tenant")
			}
		})
	}

	priv := tenantbus.Privilege{MountVolume: true, DeleteVolume: true}
	if err := f.db.BusDomain.Tenant.SetDatastoreAccessPrivileges(ctx, f.tenant.ID, []tenantbus.Privilege{{Datastore: "datastore1", MountVolume: priv.MountVolume, DeleteVolume: priv.DeleteVolume}}); err != nil {
		t.Fatalf("Should be able to set privileges: %s", err)
	}

	for _, cmd := range []command.Command{command.List, command.Get, command.Attach, command.Detach, command.Remove} {
		d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", cmd, nil)
		if err != nil {
			t.Fatalf("Should be able to authorize %s: %s", cmd, err)
		}

		if !d.Allowed() {
			t.Fatalf("Should allow %s once granted: %s", cmd, d.DenialReason)
		}
	}
}

func quotaAdmission(t *testing.T) {
	f := newFixture(t, "quotaAdmission", tenantbus.Privilege{CreateVolume: true, MaxVolumeSize: 1000, UsageQuota: 1000})

	ctx := context.Background()

	if err := f.db.BusDomain.Tenant.RecordVolumeCreated(ctx, f.tenant.ID, "datastore1", "vol1", 950); err != nil {
		t.Fatalf("Should be able to record volume: %s", err)
	}

	table := []struct {
		size   string
		reason string
	}{
		{size: "40MB"},
		{size: "50MB"},
		{size: "60MB", reason: authzbus.ReasonUsageQuota},
		{size: "1GB", reason: authzbus.ReasonUsageQuota},
	}

	for _, tt := range table {
		t.Run(tt.size, func(t *testing.T) {
			d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", command.Create, size(tt.size))
			if err != nil {
				t.Fatalf("Should be able to authorize: %s", err)
			}

			if d.DenialReason != tt.reason {
				t.Fatalf("Should get reason %q, got %q", tt.reason, d.DenialReason)
			}
		})
	}

	// Usage on another datastore does not count.
	if err := f.db.BusDomain.Tenant.SetDatastoreAccessPrivileges(ctx, f.tenant.ID, []tenantbus.Privilege{{Datastore: "datastore2", CreateVolume: true, MaxVolumeSize: 100, UsageQuota: 100}}); err != nil {
		t.Fatalf("Should be able to set privileges: %s", err)
	}

	d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore2", command.Create, size("100MB"))
	if err != nil {
		t.Fatalf("Should be able to authorize: %s", err)
	}

	if !d.Allowed() {
		t.Fatalf("Should allow the create on datastore2: %s", d.DenialReason)
	}
}

func lastFailureWins(t *testing.T) {
	f := newFixture(t, "lastFailureWins", tenantbus.Privilege{CreateVolume: false, MaxVolumeSize: 10, UsageQuota: 1000})

	ctx := context.Background()

	table := []struct {
		name   string
		size   string
		reason string
	}{
		{name: "create-only", size: "10MB", reason: authzbus.ReasonNoCreate},
		{name: "create-and-size", size: "20MB", reason: authzbus.ReasonMaxVolumeSize},
		{name: "create-size-quota", size: "2000MB", reason: authzbus.ReasonUsageQuota},
	}

	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", command.Create, size(tt.size))
			if err != nil {
				t.Fatalf("Should be able to authorize: %s", err)
			}

			if d.DenialReason != tt.reason {
				t.Fatalf("Should report the last failing check %q, got %q", tt.reason, d.DenialReason)
			}
		})
	}
}

func noPrivilegeRow(t *testing.T) {
	f := newFixture(t, "noPrivilegeRow", tenantbus.Privilege{CreateVolume: true, MountVolume: true, DeleteVolume: true, MaxVolumeSize: 10, UsageQuota: 10})

	ctx := context.Background()

	table := []struct {
		cmd    command.Command
		opts   authzbus.Options
		reason string
	}{
		{cmd: command.Create, opts: size("10TB"), reason: authzbus.ReasonNoCreate},
		{cmd: command.Remove, reason: authzbus.ReasonNoDelete},
		{cmd: command.Attach, reason: authzbus.ReasonNoMount},
	}

	for _, tt := range table {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore9", tt.cmd, tt.opts)
			if err != nil {
				t.Fatalf("Should be able to authorize: %s", err)
			}

			exp := authzbus.Decision{
				DenialReason: tt.reason,
				TenantID:     f.tenant.ID,
				TenantName:   "tenant1",
			}

			if diff := cmp.Diff(exp, d); diff != "" {
				t.Fatalf("Should deny without a privilege row. Diff:\n%s", diff)
			}
		})
	}
}

func schemaMissing(t *testing.T) {
	f := newFixture(t, "schemaMissing", tenantbus.Privilege{})

	ctx := context.Background()

	d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", command.Attach, nil)
	if err != nil {
		t.Fatalf("Should be able to authorize: %s", err)
	}

	if d.Allowed() {
		t.Fatalf("Should deny before the schema is dropped")
	}

	if _, err := f.db.DB.ExecContext(ctx, "DROP TABLE privileges"); err != nil {
		t.Fatalf("Should be able to drop table: %s", err)
	}

	for _, cmd := range []command.Command{command.Attach, command.Remove} {
		d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", cmd, nil)
		if err != nil {
			t.Fatalf("Should be able to authorize: %s", err)
		}

		if diff := cmp.Diff(authzbus.Decision{}, d); diff != "" {
			t.Fatalf("Should allow everything without a schema. Diff:\n%s", diff)
		}
	}
}

func callerContract(t *testing.T) {
	f := newFixture(t, "callerContract", tenantbus.Privilege{CreateVolume: true, MaxVolumeSize: 10, UsageQuota: 10})

	ctx := context.Background()

	table := []struct {
		name string
		cmd  command.Command
		opts authzbus.Options
	}{
		{name: "zero-command", cmd: command.Command{}},
		{name: "no-size", cmd: command.Create},
		{name: "blank-size", cmd: command.Create, opts: size("")},
		{name: "bad-size", cmd: command.Create, opts: size("lots")},
		{name: "no-unit", cmd: command.Create, opts: size("10")},
	}

	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", tt.cmd, tt.opts)
			if !errors.Is(err, authzbus.ErrCallerContract) {
				t.Fatalf("Should get ErrCallerContract: %v", err)
			}
		})
	}

	_, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", command.Create, size("10XB"))
	if !errors.Is(err, volsize.ErrInvalidSizeFormat) {
		t.Fatalf("Should keep the size error in the chain: %v", err)
	}

	// The size is only read for a vm owned by a tenant.
	bypassed := []struct {
		name string
		opts authzbus.Options
	}{
		{name: "no-size", opts: nil},
		{name: "bad-size", opts: size("lots")},
		{name: "no-unit", opts: size("10")},
	}

	for _, tt := range bypassed {
		t.Run("untracked-"+tt.name, func(t *testing.T) {
			d, err := f.engine.Authorize(ctx, uuid.New(), "datastore1", command.Create, tt.opts)
			if err != nil {
				t.Fatalf("Should allow an untracked vm whatever the options: %s", err)
			}

			if diff := cmp.Diff(authzbus.Decision{}, d); diff != "" {
				t.Fatalf("Should allow without a tenant. Diff:\n%s", diff)
			}
		})
	}

	if _, err := f.db.DB.ExecContext(ctx, "DROP TABLE volumes"); err != nil {
		t.Fatalf("Should be able to drop table: %s", err)
	}

	for _, tt := range bypassed {
		t.Run("no-schema-"+tt.name, func(t *testing.T) {
			d, err := f.engine.Authorize(ctx, f.vm.ID, "datastore1", command.Create, tt.opts)
			if err != nil {
				t.Fatalf("Should allow without a schema whatever the options: %s", err)
			}

			if diff := cmp.Diff(authzbus.Decision{}, d); diff != "" {
				t.Fatalf("Should allow without a tenant. Diff:\n%s", diff)
			}
		})
	}
}

func concurrent(t *testing.T) {
	table := []struct {
		name string
		ttl  time.Duration
	}{
		{name: "store"},
		{name: "cached", ttl: time.Minute},
	}

	for _, tt := range table {
		t.Run(tt.name, func(t *testing.T) {
			db := dbtest.New(t, "concurrent-"+tt.name, dbtest.Options{CacheTTL: tt.ttl})
			core := db.BusDomain.Tenant
			ctx := context.Background()

			vm := tenantbus.VM{ID: uuid.New(), Name: "vm1"}

			nt := tenantbus.NewTenant{
				Name:              "tenant1",
				DefaultDatastore:  "datastore1",
				DefaultPrivileges: tenantbus.Privilege{MountVolume: true, CreateVolume: true, MaxVolumeSize: 100, UsageQuota: 10000},
				VMs:               []tenantbus.VM{vm},
			}

			tnt, err := core.Create(ctx, nt)
			if err != nil {
				t.Fatalf("Should be able to create tenant: %s", err)
			}

			engine, err := authzbus.NewCore(db.Log, core)
			if err != nil {
				t.Fatalf("Should be able to create engine: %s", err)
			}

			privs := []tenantbus.Privilege{
				{Datastore: "datastore2", MountVolume: true, UsageQuota: 50},
				{Datastore: "datastore3", DeleteVolume: true},
			}

			const workers = 20

			var wg sync.WaitGroup
			errs := make(chan error, workers*3)

			for i := range workers {
				wg.Add(3)

				go func() {
					defer wg.Done()
					if err := core.SetDatastoreAccessPrivileges(ctx, tnt.ID, privs); err != nil {
						errs <- fmt.Errorf("set privileges: %w", err)
					}
				}()

				go func() {
					defer wg.Done()
					if err := core.RecordVolumeCreated(ctx, tnt.ID, "datastore1", fmt.Sprintf("vol%d", i), 1); err != nil {
						errs <- fmt.Errorf("record volume: %w", err)
					}
				}()

				go func() {
					defer wg.Done()
					d, err := engine.Authorize(ctx, vm.ID, "datastore1", command.Attach, nil)
					switch {
					case err != nil:
						errs <- fmt.Errorf("authorize: %w", err)
					case !d.Allowed() || d.TenantID != tnt.ID:
						errs <- fmt.Errorf("authorize: unexpected decision %+v", d)
					}
				}()
			}

			wg.Wait()
			close(errs)

			for err := range errs {
				t.Errorf("Should run concurrently without errors: %s", err)
			}

			var rows []struct {
				Datastore string `db:"datastore"`
				N         int    `db:"n"`
			}

			const q = `SELECT datastore, COUNT(*) AS n FROM privileges WHERE tenant_id = ? GROUP BY datastore ORDER BY datastore`

			if err := db.DB.SelectContext(ctx, &rows, q, tnt.ID.String()); err != nil {
				t.Fatalf("Should be able to count privilege rows: %s", err)
			}

			if len(rows) != 3 {
				t.Fatalf("Should have a row for each of the 3 datastores: %+v", rows)
			}

			for _, r := range rows {
				if r.N != 1 {
					t.Fatalf("Should have exactly one row for %s, got %d", r.Datastore, r.N)
				}
			}

			used, err := core.Usage(ctx, tnt.ID, "datastore1")
			if err != nil {
				t.Fatalf("Should be able to read usage: %s", err)
			}

			vus, err := core.QueryVolumes(ctx, tnt.ID)
			if err != nil {
				t.Fatalf("Should be able to query volumes: %s", err)
			}

			if used != workers || len(vus) != workers {
				t.Fatalf("Should count every recorded volume: usage[%d] rows[%d] exp[%d]", used, len(vus), workers)
			}
		})
	}
}

// =============================================================================

type brokenStore struct {
	err error
}

func (b brokenStore) SchemaReady(ctx context.Context) (bool, error) {
	return true, nil
}

func (b brokenStore) QueryByVM(ctx context.Context, vmID uuid.UUID) (tenantbus.Tenant, error) {
	return tenantbus.Tenant{ID: uuid.MustParse("8f2a1c3e-5b4d-4e6f-9a7b-0c1d2e3f4a5b"), Name: "tenant1"}, nil
}

func (b brokenStore) QueryPrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) (tenantbus.Privilege, error) {
	return tenantbus.Privilege{}, b.err
}

func (b brokenStore) Usage(ctx context.Context, tenantID uuid.UUID, datastore string) (int64, error) {
	return 0, b.err
}

func failClosed(t *testing.T) {
	storeErr := &tenantbus.StoreError{Op: "query privilege", Err: errors.New("disk I/O error")}

	m := metrics.New("test")

	engine, err := authzbus.NewCore(logger.Discard(), brokenStore{err: storeErr}, authzbus.WithMetrics(m))
	if err != nil {
		t.Fatalf("Should be able to create engine: %s", err)
	}

	d, err := engine.Authorize(context.Background(), uuid.New(), "datastore1", command.Attach, nil)
	if !tenantbus.IsStoreError(err) {
		t.Fatalf("Should get the store error back: %v", err)
	}

	exp := authzbus.Decision{
		DenialReason: authzbus.ReasonStoreFailure,
		TenantID:     uuid.MustParse("8f2a1c3e-5b4d-4e6f-9a7b-0c1d2e3f4a5b"),
		TenantName:   "tenant1",
	}

	if diff := cmp.Diff(exp, d); diff != "" {
		t.Fatalf("Should deny on a store failure. Diff:\n%s", diff)
	}

	expMetrics := `
# HELP test_authz_decisions_total Total number of authorization decisions by command and outcome
# TYPE test_authz_decisions_total counter
test_authz_decisions_total{command="attach",outcome="error"} 1
# HELP test_tenant_store_errors_total Total number of tenant store failures seen while authorizing
# TYPE test_tenant_store_errors_total counter
test_tenant_store_errors_total{op="privilege"} 1
`

	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expMetrics), "test_authz_decisions_total", "test_tenant_store_errors_total"); err != nil {
		t.Fatalf("Should record the failure: %s", err)
	}
}

func failOpen(t *testing.T) {
	storeErr := &tenantbus.StoreError{Op: "usage", Err: errors.New("database is locked")}

	m := metrics.New("test")

	engine, err := authzbus.NewCore(logger.Discard(), brokenStore{err: storeErr}, authzbus.WithFailurePolicy(authzbus.FailOpen), authzbus.WithMetrics(m))
	if err != nil {
		t.Fatalf("Should be able to create engine: %s", err)
	}

	d, err := engine.Authorize(context.Background(), uuid.New(), "datastore1", command.Remove, nil)
	if err != nil {
		t.Fatalf("Should not get an error under fail open: %s", err)
	}

	if !d.Allowed() {
		t.Fatalf("Should allow under fail open: %s", d.DenialReason)
	}

	expMetrics := `
# HELP test_authz_fail_open_total Total number of requests allowed because the tenant store failed
# TYPE test_authz_fail_open_total counter
test_authz_fail_open_total 1
`

	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expMetrics), "test_authz_fail_open_total"); err != nil {
		t.Fatalf("Should record the fail open: %s", err)
	}

	fp, err := authzbus.ParseFailurePolicy("fail-open")
	if err != nil || fp != authzbus.FailOpen {
		t.Fatalf("Should parse fail-open: %v %v", fp, err)
	}

	if _, err := authzbus.ParseFailurePolicy("maybe"); err == nil {
		t.Fatalf("Should reject an unknown policy")
	}
}
