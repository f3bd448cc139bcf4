// Package migrate contains the database schema and the support for
// applying it.
package migrate

import (
	"context"
	_ "embed" // Calls init function.
	"fmt"
	"strings"

	"github.com/jcpaschoal/volauth/business/sdk/sqldb"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jmoiron/sqlx"
)

var (
	//go:embed sql/schema.sql
	schemaDoc string
)

// Tables lists the record sets the schema creates. All of them must exist
// for tenant authorization to be enforced.
var Tables = []string{"tenants", "vms", "privileges", "volumes"}

// Migrate attempts to bring the database up to date with the schema. The
// statements are idempotent and run inside one transaction.
func Migrate(ctx context.Context, log *logger.Logger, db *sqlx.DB) error {
	if err := sqldb.StatusCheck(ctx, db); err != nil {
		return fmt.Errorf("status check database: %w", err)
	}

	f := func(tx sqldb.CommitRollbacker) error {
		ec, err := sqldb.GetExtContext(tx)
		if err != nil {
			return err
		}

		for _, stmt := range statements(schemaDoc) {
			if err := sqldb.ExecContext(ctx, log, ec, stmt); err != nil {
				return fmt.Errorf("exec: %w", err)
			}
		}

		return nil
	}

	if err := sqldb.WithinTran(ctx, log, sqldb.NewBeginner(db), f); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

// statements splits the schema document into executable statements,
// dropping comment lines.
func statements(doc string) []string {
	var b strings.Builder
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	var stmts []string
	for _, stmt := range strings.Split(b.String(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		stmts = append(stmts, stmt)
	}

	return stmts
}
