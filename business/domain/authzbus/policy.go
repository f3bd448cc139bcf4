package authzbus

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/jcpaschoal/volauth/business/types/command"
)

// Denial reasons reported by the checks.
const (
	ReasonNoMount       = "No mount privilege"
	ReasonNoCreate      = "No create privilege"
	ReasonMaxVolumeSize = "volume size exceeds the max volume size limit"
	ReasonUsageQuota    = "The total volume size exceeds the usage quota"
	ReasonNoDelete      = "No delete privilege"
	ReasonStoreFailure  = "authorization store unavailable"
)

// Names of the checks a command can require.
const (
	checkMountVolume   = "mount_volume"
	checkCreateVolume  = "create_volume"
	checkMaxVolumeSize = "max_volume_size"
	checkUsageQuota    = "usage_quota"
	checkDeleteVolume  = "delete_volume"
)

const casbinModel = `
[request_definition]
r = cmd, check

[policy_definition]
p = cmd, check

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.cmd == p.cmd && r.check == p.check
`

// requirements maps each command to the checks it must pass.
var requirements = [][]string{
	{command.List.String(), checkMountVolume},
	{command.Get.String(), checkMountVolume},
	{command.Attach.String(), checkMountVolume},
	{command.Detach.String(), checkMountVolume},
	{command.Create.String(), checkCreateVolume},
	{command.Create.String(), checkMaxVolumeSize},
	{command.Create.String(), checkUsageQuota},
	{command.Remove.String(), checkDeleteVolume},
}

// checkOrder is the order checks are evaluated in. A later failing check
// replaces the reason set by an earlier one.
var checkOrder = []struct {
	name   string
	reason string
	sized  bool
}{
	{name: checkMountVolume, reason: ReasonNoMount},
	{name: checkCreateVolume, reason: ReasonNoCreate},
	{name: checkMaxVolumeSize, reason: ReasonMaxVolumeSize, sized: true},
	{name: checkUsageQuota, reason: ReasonUsageQuota, sized: true},
	{name: checkDeleteVolume, reason: ReasonNoDelete},
}

type policy struct {
	enforcer *casbin.SyncedEnforcer
}

func newPolicy() (*policy, error) {
	m, err := model.NewModelFromString(casbinModel)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}

	if _, err := e.AddPolicies(requirements); err != nil {
		return nil, fmt.Errorf("add policies: %w", err)
	}

	return &policy{
		enforcer: e,
	}, nil
}

// requires reports whether cmd must pass the named check.
func (p *policy) requires(cmd command.Command, check string) (bool, error) {
	ok, err := p.enforcer.Enforce(cmd.String(), check)
	if err != nil {
		return false, fmt.Errorf("enforce: %s %s: %w", cmd, check, err)
	}

	return ok, nil
}
