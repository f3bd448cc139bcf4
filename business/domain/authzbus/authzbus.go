// Package authzbus decides whether a VM may run a volume command on a
// datastore, based on the privileges and quota of the tenant owning it.
package authzbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/sdk/metrics"
	"github.com/jcpaschoal/volauth/business/sdk/quota"
	"github.com/jcpaschoal/volauth/business/types/command"
	"github.com/jcpaschoal/volauth/business/types/volsize"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jcpaschoal/volauth/foundation/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ErrCallerContract is returned when a request is malformed: an unknown
// command, or a create without a parsable size option from a VM owned by a
// tenant. It is never reported as a denial.
var ErrCallerContract = errors.New("caller contract violation")

// TenantFinder is the tenant data the engine reads. tenantbus.Core
// implements it.
type TenantFinder interface {
	SchemaReady(ctx context.Context) (bool, error)
	QueryByVM(ctx context.Context, vmID uuid.UUID) (tenantbus.Tenant, error)
	QueryPrivilege(ctx context.Context, tenantID uuid.UUID, datastore string) (tenantbus.Privilege, error)
	Usage(ctx context.Context, tenantID uuid.UUID, datastore string) (int64, error)
}

// Option configures the engine.
type Option func(c *Core)

// WithFailurePolicy sets what a request gets when the tenant store fails.
// The default is FailClosed.
func WithFailurePolicy(fp FailurePolicy) Option {
	return func(c *Core) {
		c.failure = fp
	}
}

// WithMetrics records every decision in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Core) {
		c.metrics = m
	}
}

// Core manages the set of APIs for authorization.
type Core struct {
	log     *logger.Logger
	tenants TenantFinder
	policy  *policy
	failure FailurePolicy
	metrics *metrics.Metrics
}

// NewCore constructs an authorization engine over the tenant data.
func NewCore(log *logger.Logger, tenants TenantFinder, opts ...Option) (*Core, error) {
	p, err := newPolicy()
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}

	c := Core{
		log:     log,
		tenants: tenants,
		policy:  p,
	}

	for _, opt := range opts {
		opt(&c)
	}

	log.Info(context.Background(), "authzbus: engine ready", "failure_policy", c.failure)

	return &c, nil
}

// Authorize decides whether the VM may run cmd on the datastore.
//
// When the tenant schema is not provisioned, or the VM belongs to no tenant,
// every command is allowed and the decision carries no tenant, whatever its
// options. Otherwise the checks cmd requires are run in a fixed order and
// the reason of the last failing check is reported. With no privilege row for the datastore every
// privilege check fails and the size checks are skipped.
//
// A store failure is resolved by the failure policy: FailClosed returns a
// denial together with the error, FailOpen allows the command.
func (c *Core) Authorize(ctx context.Context, vmID uuid.UUID, datastore string, cmd command.Command, opts Options) (Decision, error) {
	ctx, span := otel.AddSpan(ctx, "business.authzbus.authorize",
		attribute.String("vm_id", vmID.String()),
		attribute.String("datastore", datastore),
		attribute.String("command", cmd.String()),
	)
	defer span.End()

	if cmd.IsZero() {
		return Decision{}, fmt.Errorf("%w: command is required", ErrCallerContract)
	}

	ready, err := c.tenants.SchemaReady(ctx)
	if err != nil {
		return c.storeFailure(ctx, cmd, "schema", Decision{}, err)
	}

	if !ready {
		c.log.Debug(ctx, "authzbus: tenant schema not provisioned, allowing", "vm_id", vmID, "command", cmd)
		c.metrics.Decision(cmd.String(), metrics.OutcomeBypassed)
		return Decision{}, nil
	}

	tnt, err := c.tenants.QueryByVM(ctx, vmID)
	if err != nil {
		if errors.Is(err, tenantbus.ErrNotFound) {
			c.log.Debug(ctx, "authzbus: vm not tracked by any tenant, allowing", "vm_id", vmID, "command", cmd)
			c.metrics.Decision(cmd.String(), metrics.OutcomeBypassed)
			return Decision{}, nil
		}
		return c.storeFailure(ctx, cmd, "tenant", Decision{}, err)
	}

	sizeMB, err := requestedSize(cmd, opts)
	if err != nil {
		return Decision{}, err
	}

	d := Decision{
		TenantID:   tnt.ID,
		TenantName: tnt.Name,
	}

	found := true
	priv, err := c.tenants.QueryPrivilege(ctx, tnt.ID, datastore)
	if err != nil {
		if !errors.Is(err, tenantbus.ErrNotFound) {
			return c.storeFailure(ctx, cmd, "privilege", d, err)
		}
		found = false
	}

	in := evaluation{
		tenantID:  tnt.ID,
		datastore: datastore,
		priv:      priv,
		found:     found,
		sizeMB:    sizeMB,
	}

	reason, err := c.evaluate(ctx, cmd, in)
	if err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			return c.storeFailure(ctx, cmd, "usage", d, ue.err)
		}
		return Decision{}, err
	}

	d.DenialReason = reason

	if d.Allowed() {
		c.metrics.Decision(cmd.String(), metrics.OutcomeAllowed)
		c.log.Debug(ctx, "authzbus: allowed", "vm_id", vmID, "tenant_id", tnt.ID, "datastore", datastore, "command", cmd)
		return d, nil
	}

	c.metrics.Decision(cmd.String(), metrics.OutcomeDenied)
	c.log.Info(ctx, "authzbus: denied", "vm_id", vmID, "tenant_id", tnt.ID, "datastore", datastore, "command", cmd, "reason", reason)

	return d, nil
}

// =============================================================================

// requestedSize returns the size in MB a create asks for. Other commands
// carry no size.
func requestedSize(cmd command.Command, opts Options) (int64, error) {
	if !cmd.Equal(command.Create) {
		return 0, nil
	}

	size, ok := opts[SizeOption]
	if !ok || size == "" {
		return 0, fmt.Errorf("%w: %q option is required for %s", ErrCallerContract, SizeOption, cmd)
	}

	mb, err := volsize.ToMB(size)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCallerContract, err)
	}

	return mb, nil
}

type evaluation struct {
	tenantID  uuid.UUID
	datastore string
	priv      tenantbus.Privilege
	found     bool
	sizeMB    int64
}

// usageError marks a failure to read the usage ledger so it can be told
// apart from a policy failure.
type usageError struct {
	err error
}

func (ue usageError) Error() string {
	return ue.err.Error()
}

// evaluate runs the checks cmd requires and returns the denial reason of the
// last one that failed.
func (c *Core) evaluate(ctx context.Context, cmd command.Command, in evaluation) (string, error) {
	var reason string

	for _, chk := range checkOrder {
		ok, err := c.policy.requires(cmd, chk.name)
		if err != nil {
			return "", err
		}

		if !ok || (chk.sized && !in.found) {
			continue
		}

		pass, err := c.check(ctx, chk.name, in)
		if err != nil {
			return "", err
		}

		if !pass {
			reason = chk.reason
		}
	}

	return reason, nil
}

func (c *Core) check(ctx context.Context, name string, in evaluation) (bool, error) {
	p := in.priv

	switch name {
	case checkMountVolume:
		return in.found && p.MountVolume, nil

	case checkCreateVolume:
		return in.found && p.CreateVolume, nil

	case checkDeleteVolume:
		return in.found && p.DeleteVolume, nil

	case checkMaxVolumeSize:
		return in.sizeMB <= p.MaxVolumeSize, nil

	case checkUsageQuota:
		// The ledger row for this volume is written by the creator after the
		// volume exists, so concurrent creates can both be admitted.
		used, err := c.tenants.Usage(ctx, in.tenantID, in.datastore)
		if err != nil {
			return false, usageError{err: err}
		}
		return quota.Fits(in.sizeMB, used, p.UsageQuota), nil
	}

	return false, fmt.Errorf("unknown check %q", name)
}

// storeFailure applies the failure policy to a tenant store error.
func (c *Core) storeFailure(ctx context.Context, cmd command.Command, op string, d Decision, err error) (Decision, error) {
	c.metrics.StoreError(op)

	if c.failure == FailOpen {
		c.log.Warn(ctx, "authzbus: tenant store failed, allowing", "failure_policy", c.failure, "op", op, "command", cmd, "ERROR", err)
		c.metrics.FailOpen()
		c.metrics.Decision(cmd.String(), metrics.OutcomeAllowed)
		d.DenialReason = ""
		return d, nil
	}

	c.log.Error(ctx, "authzbus: tenant store failed, denying", "failure_policy", c.failure, "op", op, "command", cmd, "ERROR", err)
	c.metrics.Decision(cmd.String(), metrics.OutcomeError)
	d.DenialReason = ReasonStoreFailure

	return d, fmt.Errorf("authorize: %s: %w", op, err)
}
