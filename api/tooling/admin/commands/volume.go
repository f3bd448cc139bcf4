package commands

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/types/volsize"
)

// VolumeRecord adds a created volume to the tenant's usage ledger.
func VolumeRecord(ctx context.Context, d Deps, ref string, datastore string, name string, size string) error {
	mb, err := volsize.ToMB(size)
	if err != nil {
		return err
	}

	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		return err
	}

	if err := d.Tenant.RecordVolumeCreated(ctx, t.ID, datastore, name, mb); err != nil {
		return fmt.Errorf("record volume: %w", err)
	}

	fmt.Fprintf(d.Out, "volume recorded: tenant[%s] datastore[%s] volume[%s] size_mb[%d]\n", t.Name, datastore, name, mb)

	return nil
}

// VolumeList writes the usage ledger of a tenant. ref may be the id of a
// removed tenant whose ledger rows were kept.
func VolumeList(ctx context.Context, d Deps, ref string) error {
	t, err := resolveTenant(ctx, d, ref)
	if err != nil {
		id, perr := uuid.Parse(ref)
		if perr != nil || !errors.Is(err, tenantbus.ErrNotFound) {
			return err
		}
		t.ID = id
	}

	vus, err := d.Tenant.QueryVolumes(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("query volumes: %w", err)
	}

	w := tabwriter.NewWriter(d.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATASTORE\tVOLUME\tSIZE_MB")

	var total int64
	for _, vu := range vus {
		fmt.Fprintf(w, "%s\t%s\t%d\n", vu.Datastore, vu.VolumeName, vu.VolumeSize)
		total += vu.VolumeSize
	}
	fmt.Fprintf(w, "\t\t%d\n", total)

	return w.Flush()
}
