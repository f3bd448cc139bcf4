package commands

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/authzbus"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/sdk/dbtest"
	"github.com/jcpaschoal/volauth/business/sdk/metrics"
	"github.com/jcpaschoal/volauth/business/types/volsize"
)

const tenantsYAML = `
tenants:
  - name: tenant1
    description: first tenant
    default_datastore: datastore1
    default_privileges:
      mount_volume: true
      create_volume: true
      max_volume_size: 1GB
      usage_quota: 2GB
    privileges:
      - datastore: datastore2
        mount_volume: true
        max_volume_size: 512MB
        usage_quota: 512MB
    vms:
      - id: 1f0b5c2a-6f64-4d7a-9b1e-3c5d7e9f0a11
        name: vm1
  - name: tenant2
    default_datastore: datastore1
    default_privileges:
      mount_volume: true
`

func newDeps(t *testing.T, name string) (Deps, *bytes.Buffer) {
	t.Helper()

	db := dbtest.New(t, name)

	m := metrics.New("test")

	authz, err := authzbus.NewCore(db.Log, db.BusDomain.Tenant, authzbus.WithMetrics(m))
	if err != nil {
		t.Fatalf("Should be able to create engine: %s", err)
	}

	var out bytes.Buffer

	d := Deps{
		Log:     db.Log,
		DB:      db.DB,
		Tenant:  db.BusDomain.Tenant,
		Authz:   authz,
		Metrics: m,
		Out:     &out,
	}

	return d, &out
}

func Test_DecodeTenantFile(t *testing.T) {
	nts, err := decodeTenantFile(strings.NewReader(tenantsYAML))
	if err != nil {
		t.Fatalf("Should be able to decode: %s", err)
	}

	exp := []tenantbus.NewTenant{
		{
			Name:             "tenant1",
			Description:      "first tenant",
			DefaultDatastore: "datastore1",
			DefaultPrivileges: tenantbus.Privilege{
				MountVolume:   true,
				CreateVolume:  true,
				MaxVolumeSize: 1024,
				UsageQuota:    2048,
			},
			Privileges: []tenantbus.Privilege{
				{Datastore: "datastore2", MountVolume: true, MaxVolumeSize: 512, UsageQuota: 512},
			},
			VMs: []tenantbus.VM{
				{ID: uuid.MustParse("1f0b5c2a-6f64-4d7a-9b1e-3c5d7e9f0a11"), Name: "vm1"},
			},
		},
		{
			Name:              "tenant2",
			DefaultDatastore:  "datastore1",
			DefaultPrivileges: tenantbus.Privilege{MountVolume: true},
			Privileges:        []tenantbus.Privilege{},
			VMs:               []tenantbus.VM{},
		},
	}

	if diff := cmp.Diff(exp, nts); diff != "" {
		t.Fatalf("Should decode the tenants. Diff:\n%s", diff)
	}

	bad := `
tenants:
  - name: tenant1
    default_datastore: datastore1
    default_privileges:
      usage_quota: lots
`

	if _, err := decodeTenantFile(strings.NewReader(bad)); !errors.Is(err, volsize.ErrInvalidSizeFormat) {
		t.Fatalf("Should reject a bad size: %v", err)
	}

	unknown := `
tenants:
  - name: tenant1
    quota: 1GB
`

	if _, err := decodeTenantFile(strings.NewReader(unknown)); err == nil {
		t.Fatalf("Should reject unknown fields")
	}
}

func Test_Commands(t *testing.T) {
	d, out := newDeps(t, "commands")
	ctx := context.Background()

	if err := TenantImport(ctx, d, strings.NewReader(tenantsYAML)); err != nil {
		t.Fatalf("Should be able to import tenants: %s", err)
	}

	vm := "1f0b5c2a-6f64-4d7a-9b1e-3c5d7e9f0a11"

	out.Reset()
	if err := Authorize(ctx, d, vm, "datastore1", "create", "1GB"); err != nil {
		t.Fatalf("Should be able to authorize: %s", err)
	}

	if !strings.HasPrefix(out.String(), "ALLOWED") {
		t.Fatalf("Should allow a 1GB create: %s", out.String())
	}

	if err := VolumeRecord(ctx, d, "tenant1", "datastore1", "vol1", "1GB"); err != nil {
		t.Fatalf("Should be able to record volume: %s", err)
	}

	out.Reset()
	if err := Authorize(ctx, d, vm, "datastore1", "create", "1025MB"); err != nil {
		t.Fatalf("Should be able to authorize: %s", err)
	}

	if !strings.Contains(out.String(), authzbus.ReasonUsageQuota) {
		t.Fatalf("Should deny on the usage quota: %s", out.String())
	}

	other := uuid.New().String()
	if err := VMAdd(ctx, d, "tenant2", []string{other + "=vm2"}); err != nil {
		t.Fatalf("Should be able to add vm: %s", err)
	}

	out.Reset()
	if err := Authorize(ctx, d, other, "datastore1", "remove", ""); err != nil {
		t.Fatalf("Should be able to authorize: %s", err)
	}

	if !strings.Contains(out.String(), authzbus.ReasonNoDelete) {
		t.Fatalf("Should deny the remove: %s", out.String())
	}

	args := PrivilegeArgs{Datastore: "datastore1", MountVolume: true, DeleteVolume: true}
	if err := PrivilegeSet(ctx, d, "tenant2", args); err != nil {
		t.Fatalf("Should be able to set privilege: %s", err)
	}

	out.Reset()
	if err := Authorize(ctx, d, other, "datastore1", "remove", ""); err != nil {
		t.Fatalf("Should be able to authorize: %s", err)
	}

	if !strings.HasPrefix(out.String(), "ALLOWED") {
		t.Fatalf("Should allow the remove: %s", out.String())
	}

	if err := Authorize(ctx, d, vm, "datastore1", "create", ""); !errors.Is(err, authzbus.ErrCallerContract) {
		t.Fatalf("Should get ErrCallerContract: %v", err)
	}

	if err := TenantUpdate(ctx, d, "tenant2", "tenant2-renamed", ""); err != nil {
		t.Fatalf("Should be able to update tenant: %s", err)
	}

	out.Reset()
	if err := TenantList(ctx, d); err != nil {
		t.Fatalf("Should be able to list tenants: %s", err)
	}

	nts, err := decodeTenantFile(strings.NewReader(out.String()))
	if err != nil {
		t.Fatalf("Should be able to read the listing back as a tenant file: %s\n%s", err, out.String())
	}

	if len(nts) != 2 || nts[0].DefaultPrivileges.UsageQuota != 2048 {
		t.Fatalf("Should get both tenants back with their sizes: %+v", nts)
	}

	if !strings.Contains(out.String(), "name: tenant2-renamed") {
		t.Fatalf("Should list the renamed tenant:\n%s", out.String())
	}

	tnt, err := resolveTenant(ctx, d, "tenant1")
	if err != nil {
		t.Fatalf("Should resolve tenant by name: %s", err)
	}

	if err := TenantRemove(ctx, d, "tenant1", false); err != nil {
		t.Fatalf("Should be able to remove tenant: %s", err)
	}

	out.Reset()
	if err := VolumeList(ctx, d, tnt.ID.String()); err != nil {
		t.Fatalf("Should list the ledger of a removed tenant: %s", err)
	}

	if !strings.Contains(out.String(), "vol1") {
		t.Fatalf("Should keep the ledger rows of a removed tenant:\n%s", out.String())
	}

	if _, err := resolveTenant(ctx, d, "tenant1"); !errors.Is(err, tenantbus.ErrNotFound) {
		t.Fatalf("Should not resolve a removed tenant: %v", err)
	}
}
