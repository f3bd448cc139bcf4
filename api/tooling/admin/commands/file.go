package commands

import (
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/types/volsize"
	"gopkg.in/yaml.v3"
)

// tenantFile is the document read by tenant import and written by
// tenant list.
type tenantFile struct {
	Tenants []tenantDoc `yaml:"tenants"`
}

type tenantDoc struct {
	ID                string         `yaml:"id,omitempty"`
	Name              string         `yaml:"name"`
	Description       string         `yaml:"description,omitempty"`
	DefaultDatastore  string         `yaml:"default_datastore"`
	DefaultPrivileges privilegeDoc   `yaml:"default_privileges"`
	Privileges        []privilegeDoc `yaml:"privileges,omitempty"`
	VMs               []vmDoc        `yaml:"vms,omitempty"`
}

type vmDoc struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// privilegeDoc holds sizes as specifiers such as "10GB".
type privilegeDoc struct {
	Datastore        string `yaml:"datastore,omitempty"`
	GlobalVisibility bool   `yaml:"global_visibility"`
	CreateVolume     bool   `yaml:"create_volume"`
	DeleteVolume     bool   `yaml:"delete_volume"`
	MountVolume      bool   `yaml:"mount_volume"`
	MaxVolumeSize    string `yaml:"max_volume_size"`
	UsageQuota       string `yaml:"usage_quota"`
}

func decodeTenantFile(r io.Reader) ([]tenantbus.NewTenant, error) {
	var f tenantFile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	nts := make([]tenantbus.NewTenant, len(f.Tenants))
	for i, doc := range f.Tenants {
		nt, err := doc.toNewTenant()
		if err != nil {
			return nil, fmt.Errorf("tenant %d %q: %w", i, doc.Name, err)
		}
		nts[i] = nt
	}

	return nts, nil
}

func encodeTenantFile(w io.Writer, tenants []tenantbus.Tenant) error {
	f := tenantFile{
		Tenants: make([]tenantDoc, len(tenants)),
	}

	for i, t := range tenants {
		f.Tenants[i] = toTenantDoc(t)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)

	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	return enc.Close()
}

func (doc tenantDoc) toNewTenant() (tenantbus.NewTenant, error) {
	def, err := doc.DefaultPrivileges.toPrivilege()
	if err != nil {
		return tenantbus.NewTenant{}, fmt.Errorf("default privileges: %w", err)
	}

	privs := make([]tenantbus.Privilege, len(doc.Privileges))
	for i, pd := range doc.Privileges {
		p, err := pd.toPrivilege()
		if err != nil {
			return tenantbus.NewTenant{}, fmt.Errorf("privileges %q: %w", pd.Datastore, err)
		}
		privs[i] = p
	}

	vms := make([]tenantbus.VM, len(doc.VMs))
	for i, vd := range doc.VMs {
		id, err := uuid.Parse(vd.ID)
		if err != nil {
			return tenantbus.NewTenant{}, fmt.Errorf("vm %q: %w", vd.ID, err)
		}
		vms[i] = tenantbus.VM{ID: id, Name: vd.Name}
	}

	nt := tenantbus.NewTenant{
		Name:              doc.Name,
		Description:       doc.Description,
		DefaultDatastore:  doc.DefaultDatastore,
		DefaultPrivileges: def,
		Privileges:        privs,
		VMs:               vms,
	}

	return nt, nil
}

func (pd privilegeDoc) toPrivilege() (tenantbus.Privilege, error) {
	maxSize, err := sizeMB(pd.MaxVolumeSize)
	if err != nil {
		return tenantbus.Privilege{}, fmt.Errorf("max_volume_size: %w", err)
	}

	usageQuota, err := sizeMB(pd.UsageQuota)
	if err != nil {
		return tenantbus.Privilege{}, fmt.Errorf("usage_quota: %w", err)
	}

	p := tenantbus.Privilege{
		Datastore:        pd.Datastore,
		GlobalVisibility: pd.GlobalVisibility,
		CreateVolume:     pd.CreateVolume,
		DeleteVolume:     pd.DeleteVolume,
		MountVolume:      pd.MountVolume,
		MaxVolumeSize:    maxSize,
		UsageQuota:       usageQuota,
	}

	return p, nil
}

func toTenantDoc(t tenantbus.Tenant) tenantDoc {
	doc := tenantDoc{
		ID:                t.ID.String(),
		Name:              t.Name,
		Description:       t.Description,
		DefaultDatastore:  t.DefaultDatastore,
		DefaultPrivileges: toPrivilegeDoc(t.DefaultPrivileges),
	}

	for _, p := range t.Privileges {
		doc.Privileges = append(doc.Privileges, toPrivilegeDoc(p))
	}

	for _, vm := range t.VMs {
		doc.VMs = append(doc.VMs, vmDoc{ID: vm.ID.String(), Name: vm.Name})
	}

	return doc
}

func toPrivilegeDoc(p tenantbus.Privilege) privilegeDoc {
	return privilegeDoc{
		Datastore:        p.Datastore,
		GlobalVisibility: p.GlobalVisibility,
		CreateVolume:     p.CreateVolume,
		DeleteVolume:     p.DeleteVolume,
		MountVolume:      p.MountVolume,
		MaxVolumeSize:    fmt.Sprintf("%dMB", p.MaxVolumeSize),
		UsageQuota:       fmt.Sprintf("%dMB", p.UsageQuota),
	}
}

// sizeMB converts a size specifier. An empty specifier is zero.
func sizeMB(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}

	return volsize.ToMB(s)
}
