// Package volfs manages tenant volume files laid out as
// <root>/<datastore>/<tenant>/<volume>.vmdk.
package volfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/foundation/logger"
)

// Extension of the volume files.
const Extension = ".vmdk"

// Manager lists and deletes volume files under a root directory.
type Manager struct {
	log  *logger.Logger
	root string
}

// New constructs a manager for the volumes under root.
func New(log *logger.Logger, root string) *Manager {
	return &Manager{
		log:  log,
		root: root,
	}
}

// ListVolumesForTenant returns the volume files of the tenant on every
// datastore under the root.
func (m *Manager) ListVolumesForTenant(ctx context.Context, tenantName string) ([]tenantbus.Volume, error) {
	if tenantName == "" || strings.ContainsRune(tenantName, filepath.Separator) {
		return nil, fmt.Errorf("invalid tenant name %q", tenantName)
	}

	datastores, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("read root: %w", err)
	}

	var vols []tenantbus.Volume
	for _, ds := range datastores {
		if !ds.IsDir() {
			continue
		}

		dir := filepath.Join(m.root, ds.Name(), tenantName)

		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", dir, err)
		}

		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != Extension {
				continue
			}

			vols = append(vols, tenantbus.Volume{Path: dir, Filename: e.Name()})
		}
	}

	m.log.Debug(ctx, "volfs: listed volumes", "tenant", tenantName, "count", len(vols))

	return vols, nil
}

// DeleteVolume removes the volume file. The tenant directory is removed
// once it is empty.
func (m *Manager) DeleteVolume(ctx context.Context, path string) error {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("path %q is outside %q", path, m.root)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.Remove(dir); err != nil {
		m.log.Debug(ctx, "volfs: tenant directory kept", "dir", dir, "reason", err)
	}

	return nil
}
