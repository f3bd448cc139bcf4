// Package dbtest contains supporting code for running tests that hit the DB.
package dbtest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus/stores/tenantcache"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus/stores/tenantdb"
	"github.com/jcpaschoal/volauth/business/sdk/migrate"
	"github.com/jcpaschoal/volauth/business/sdk/sqldb"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jmoiron/sqlx"
)

// BusDomain represents all the business domain apis needed for testing.
type BusDomain struct {
	Tenant *tenantbus.Core
}

// Database owns state for running and shutting down tests.
type Database struct {
	Path      string
	DB        *sqlx.DB
	Log       *logger.Logger
	Beginner  sqldb.Beginner
	Storer    tenantbus.Storer
	BusDomain BusDomain
}

// Options tunes the database handed to a test.
type Options struct {
	Volumes  tenantbus.VolumeManager
	CacheTTL time.Duration
	NoSchema bool
}

// New creates a new sqlite database file under the test's temp directory
// and applies the schema. The database is closed when the test ends.
func New(t *testing.T, testName string, opts ...Options) *Database {
	t.Helper()

	var opt Options
	if len(opts) > 0 {
		opt = opts[0]
	}

	cfg := sqldb.Config{
		Driver: sqldb.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), testName+".db"),
	}

	db, err := sqldb.Open(cfg)
	if err != nil {
		t.Fatalf("Opening database connection: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqldb.StatusCheck(ctx, db); err != nil {
		t.Fatalf("status check database: %v", err)
	}

	var buf bytes.Buffer
	log := logger.New(&buf, logger.LevelInfo, "TEST", func(context.Context) string { return "00000000-0000-0000-0000-000000000000" })

	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("******************** LOGS (%s) ********************\n%s", testName, buf.String())
		}
	})

	if !opt.NoSchema {
		if err := migrate.Migrate(ctx, log, db); err != nil {
			t.Fatalf("Migrating error: %s", err)
		}
	}

	var storer tenantbus.Storer = tenantdb.NewStore(log, db)
	if opt.CacheTTL > 0 {
		storer = tenantcache.NewStore(log, storer, opt.CacheTTL)
	}

	beginner := sqldb.NewBeginner(db)

	return &Database{
		Path:     cfg.Path,
		DB:       db,
		Log:      log,
		Beginner: beginner,
		Storer:   storer,
		BusDomain: BusDomain{
			Tenant: tenantbus.NewCore(log, beginner, storer, opt.Volumes),
		},
	}
}
