// This program performs administrative tasks for the tenant authorization
// store: schema provisioning, tenant management and dry run authorization.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jcpaschoal/volauth/api/tooling/admin/commands"
	"github.com/jcpaschoal/volauth/business/domain/authzbus"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus/stores/tenantcache"
	"github.com/jcpaschoal/volauth/business/domain/tenantbus/stores/tenantdb"
	"github.com/jcpaschoal/volauth/business/sdk/metrics"
	"github.com/jcpaschoal/volauth/business/sdk/sqldb"
	"github.com/jcpaschoal/volauth/business/sdk/volfs"
	"github.com/jcpaschoal/volauth/foundation/logger"
	"github.com/jcpaschoal/volauth/foundation/otel"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
)

var build = "develop"

// Config holds the settings read from the environment.
type Config struct {
	Version struct {
		Build string `json:"build"`
		Desc  string `json:"desc"`
	} `json:"version"`
	DB struct {
		Driver       string `envconfig:"DB_DRIVER" default:"sqlite3"`
		Path         string `envconfig:"DB_PATH" default:"auth-db.sqlite"`
		User         string `envconfig:"DB_USER" default:"postgres"`
		Password     string `envconfig:"DB_PASSWORD" default:"postgres"`
		Host         string `envconfig:"DB_HOST" default:"localhost"`
		Name         string `envconfig:"DB_NAME" default:"volauth"`
		Schema       string `envconfig:"DB_SCHEMA" default:""`
		MaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"0"`
		MaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"0"`
		DisableTLS   bool   `envconfig:"DB_DISABLE_TLS" default:"true"`
	}
	Auth struct {
		FailurePolicy string        `envconfig:"AUTH_FAILURE_POLICY" default:"fail-closed"`
		CacheTTL      time.Duration `envconfig:"AUTH_CACHE_TTL" default:"0s"`
	}
	Volumes struct {
		Root string `envconfig:"VOLUMES_ROOT" default:"/vmfs/volumes"`
	}
	Tempo struct {
		Host        string  `envconfig:"TEMPO_HOST" default:""`
		ServiceName string  `envconfig:"TEMPO_SERVICE_NAME" default:"VOLAUTH-ADMIN"`
		Probability float64 `envconfig:"TEMPO_PROBABILITY" default:"0.05"`
	}
}

func main() {
	var log *logger.Logger

	events := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			log.Info(ctx, "******* SEND ALERT *******")
		},
	}

	log = logger.NewWithEvents(os.Stderr, logger.LevelInfo, "VOLAUTH-ADMIN", otel.GetTraceID, events)

	ctx := context.Background()

	if err := run(ctx, log); err != nil {
		log.Error(ctx, "admin", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger) error {

	// -------------------------------------------------------------------------
	// Configuration

	var cfg Config

	cfg.Version.Build = build
	cfg.Version.Desc = "VOLAUTH-ADMIN"

	if err := envconfig.Process("", &cfg); err != nil {
		return fmt.Errorf("processing config: %w", err)
	}

	log.Debug(ctx, "startup", "config", sanitizeConfig(cfg))

	root, closeDeps := newRoot(log, cfg, buildDeps)
	defer closeDeps()

	return root.ExecuteContext(ctx)
}

// depsFn builds what the commands operate on, and returns the tracer for the
// command context and the function releasing it all.
type depsFn func(ctx context.Context, log *logger.Logger, cfg Config) (commands.Deps, trace.Tracer, func(), error)

// newRoot constructs the command tree. The dependencies are built lazily so
// help output needs no database. The returned function releases them and
// must run whether or not the command failed.
func newRoot(log *logger.Logger, cfg Config, build depsFn) (*cobra.Command, func()) {
	var deps commands.Deps
	var teardown func()

	setup := func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || !cmd.Runnable() || cmd.Annotations[noDeps] != "" {
			return nil
		}

		d, tracer, td, err := build(cmd.Context(), log, cfg)
		if err != nil {
			return err
		}
		deps = d
		teardown = td
		cmd.SetContext(otel.InjectTracing(cmd.Context(), tracer))
		return nil
	}

	closeDeps := func() {
		if teardown != nil {
			teardown()
			teardown = nil
		}
	}

	root := &cobra.Command{
		Use:               "admin",
		Short:             "Administer tenants, privileges and volume usage",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	root.AddCommand(
		versionCmd(log, cfg.Version.Build),
		migrateCmd(&deps),
		tenantCmd(&deps),
		vmCmd(&deps),
		privilegeCmd(&deps),
		volumeCmd(&deps),
		authorizeCmd(&deps),
	)

	return root, closeDeps
}

// buildDeps opens the database and constructs the business layer.
func buildDeps(ctx context.Context, log *logger.Logger, cfg Config) (commands.Deps, trace.Tracer, func(), error) {
	failure, err := authzbus.ParseFailurePolicy(cfg.Auth.FailurePolicy)
	if err != nil {
		return commands.Deps{}, nil, nil, err
	}

	// -------------------------------------------------------------------------
	// Database Support

	log.Debug(ctx, "startup", "status", "initializing database support", "driver", cfg.DB.Driver)

	db, err := sqldb.Open(sqldb.Config{
		Driver:       cfg.DB.Driver,
		Path:         cfg.DB.Path,
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		Schema:       cfg.DB.Schema,
		MaxIdleConns: cfg.DB.MaxIdleConns,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		DisableTLS:   cfg.DB.DisableTLS,
	})
	if err != nil {
		return commands.Deps{}, nil, nil, fmt.Errorf("connecting to db: %w", err)
	}

	if err := sqldb.StatusCheck(ctx, db); err != nil {
		db.Close()
		return commands.Deps{}, nil, nil, fmt.Errorf("status check database: %w", err)
	}

	// -------------------------------------------------------------------------
	// Start Tracing Support

	traceProvider, tracingTeardown, err := otel.InitTracing(log, otel.Config{
		ServiceName: cfg.Tempo.ServiceName,
		Host:        cfg.Tempo.Host,
		Probability: cfg.Tempo.Probability,
	})
	if err != nil {
		db.Close()
		return commands.Deps{}, nil, nil, fmt.Errorf("starting tracing: %w", err)
	}

	tracer := traceProvider.Tracer(cfg.Tempo.ServiceName)

	// -------------------------------------------------------------------------
	// Business Support

	var storer tenantbus.Storer = tenantdb.NewStore(log, db)
	if cfg.Auth.CacheTTL > 0 {
		storer = tenantcache.NewStore(log, storer, cfg.Auth.CacheTTL)
	}

	tenantBus := tenantbus.NewCore(log, sqldb.NewBeginner(db), storer, volfs.New(log, cfg.Volumes.Root))

	m := metrics.New("volauth")

	authzBus, err := authzbus.NewCore(log, tenantBus, authzbus.WithFailurePolicy(failure), authzbus.WithMetrics(m))
	if err != nil {
		tracingTeardown(context.Background())
		db.Close()
		return commands.Deps{}, nil, nil, fmt.Errorf("authz: %w", err)
	}

	deps := commands.Deps{
		Log:     log,
		DB:      db,
		Tenant:  tenantBus,
		Authz:   authzBus,
		Metrics: m,
		Out:     os.Stdout,
	}

	teardown := func() {
		tracingTeardown(context.Background())
		db.Close()
	}

	return deps, tracer, teardown, nil
}

func sanitizeConfig(cfg Config) string {
	cfg.DB.Password = "[MASKED]"

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Sprintf("%+v", cfg)
	}
	return string(data)
}
