package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jcpaschoal/volauth/business/sdk/migrate"
)

// Migrate creates the tenant schema.
func Migrate(ctx context.Context, d Deps) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := migrate.Migrate(ctx, d.Log, d.DB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	fmt.Fprintln(d.Out, "migrations complete")

	return nil
}
