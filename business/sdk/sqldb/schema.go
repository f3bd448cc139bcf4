package sqldb

import (
	"context"
	"fmt"

	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jmoiron/sqlx"
)

// TableExists reports whether the named table is present in the database
// the connection points at.
func TableExists(ctx context.Context, log *logger.Logger, db sqlx.ExtContext, table string) (bool, error) {
	data := struct {
		Name string `db:"name"`
	}{
		Name: table,
	}

	var q string
	switch db.DriverName() {
	case DriverSQLite:
		q = `
		SELECT
			count(1) AS count
		FROM
			sqlite_master
		WHERE
			type = 'table' AND name = :name`

	case DriverPostgres:
		q = `
		SELECT
			count(1) AS count
		FROM
			information_schema.tables
		WHERE
			table_schema = current_schema() AND table_name = :name`

	default:
		return false, fmt.Errorf("table lookup: unsupported driver %q", db.DriverName())
	}

	var count struct {
		Count int `db:"count"`
	}
	if err := NamedQueryStruct(ctx, log, db, q, data, &count); err != nil {
		return false, fmt.Errorf("namedquerystruct: %w", err)
	}

	return count.Count > 0, nil
}
