// Package commands contains the functionality for the set of admin commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/authzbus"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/sdk/metrics"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jmoiron/sqlx"
)

// ErrTenantAmbiguous is returned when a tenant name matches more than one
// tenant.
var ErrTenantAmbiguous = errors.New("tenant name matches more than one tenant")

// Deps holds what the commands operate on.
type Deps struct {
	Log     *logger.Logger
	DB      *sqlx.DB
	Tenant  *tenantbus.Core
	Authz   *authzbus.Core
	Metrics *metrics.Metrics
	Out     io.Writer
}

// resolveTenant finds a tenant by id or by name.
func resolveTenant(ctx context.Context, d Deps, ref string) (tenantbus.Tenant, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return d.Tenant.QueryByID(ctx, id)
	}

	tenants, err := d.Tenant.Query(ctx)
	if err != nil {
		return tenantbus.Tenant{}, fmt.Errorf("query: %w", err)
	}

	var found []tenantbus.Tenant
	for _, t := range tenants {
		if t.Name == ref {
			found = append(found, t)
		}
	}

	switch len(found) {
	case 0:
		return tenantbus.Tenant{}, fmt.Errorf("tenant %q: %w", ref, tenantbus.ErrNotFound)
	case 1:
		return found[0], nil
	}

	return tenantbus.Tenant{}, fmt.Errorf("tenant %q: %w", ref, ErrTenantAmbiguous)
}

// parseVMs turns "uuid" or "uuid=name" arguments into VMs.
func parseVMs(args []string) ([]tenantbus.VM, error) {
	vms := make([]tenantbus.VM, 0, len(args))

	for _, arg := range args {
		idStr, name, _ := strings.Cut(arg, "=")

		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("vm %q: %w", arg, err)
		}

		vms = append(vms, tenantbus.VM{ID: id, Name: name})
	}

	return vms, nil
}
