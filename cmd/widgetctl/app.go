package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/faciam-dev/widgetdeck/internal/config"
	"github.com/faciam-dev/widgetdeck/internal/events"
	"github.com/faciam-dev/widgetdeck/internal/logger"
	"github.com/faciam-dev/widgetdeck/internal/rbac"
	"github.com/faciam-dev/widgetdeck/internal/registry/catalog"
	widgetsrepo "github.com/faciam-dev/widgetdeck/internal/repository/widgets"
	"github.com/faciam-dev/widgetdeck/pkg/statecodec"
	"github.com/faciam-dev/widgetdeck/pkg/util"
	"github.com/faciam-dev/widgetdeck/pkg/widgetpolicy"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// app holds everything a command needs, built from the config file.
type app struct {
	cfg        config.Config
	log        *zap.SugaredLogger
	db         *sql.DB
	mongo      *mongo.Client
	repo       widgetsrepo.Repo
	serializer widgets.StateSerializer
	catalog    catalog.Registry
	policies   *widgetpolicy.Store
	rbac       *rbac.Filter
	dispatcher *events.Dispatcher
	closers    []func() error
	manager    *widgets.Manager
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	var (
		z   *zap.Logger
		err error
	)
	if verbose {
		z, err = zap.NewDevelopment()
	} else {
		z, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return z.Sugar(), nil
}

// loadConfig reads the config named by --config and configures logging.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.SugaredLogger, error) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger.Set(logger.New(os.Stderr, verbose))
	log, err := newLogger(verbose)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(flagString(cmd, "config"))
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func openDB(cfg config.Config) (*sql.DB, error) {
	dsn := cfg.DSN
	if cfg.Driver == "mysql" {
		dsn = cfg.MySQLDSN()
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// newApp wires persistence, the catalog, filters and events.
func newApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, catalog: catalog.NewInMemory()}
	if err := a.openRepo(ctx); err != nil {
		a.close()
		return nil, err
	}
	if a.serializer, err = statecodec.ByName(cfg.Serializer); err != nil {
		a.close()
		return nil, err
	}
	if cfg.CatalogDir != "" {
		if _, err := catalog.Reload(ctx, catalog.DirSource{Dir: cfg.CatalogDir}, a.catalog, "startup"); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.PolicyFile != "" {
		a.policies = widgetpolicy.NewStore(cfg.PolicyFile, logger.L)
		if err := a.policies.Load(); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.RBAC.Enabled {
		if err := a.loadRBAC(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.EventsFile != "" {
		ecfg, err := events.LoadConfig(cfg.EventsFile)
		if err != nil {
			a.close()
			return nil, err
		}
		var dlq events.DLQ
		if a.db != nil {
			dlq = &events.SQLDLQ{DB: a.db, Driver: cfg.Driver, TablePrefix: cfg.TablePrefix}
		}
		d, closeFn, err := events.Build(ecfg, dlq)
		if err != nil {
			a.close()
			return nil, err
		}
		a.dispatcher = d
		a.closers = append(a.closers, closeFn)
	}
	if a.manager, err = a.newManager(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openRepo(ctx context.Context) error {
	switch a.cfg.Persister {
	case "memory":
		a.repo = widgetsrepo.WithMetrics(widgetsrepo.NewMemoryRepo(), "memory")
	case "mongo":
		cli, err := mongo.Connect(ctx, options.Client().ApplyURI(a.cfg.DSN))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		a.mongo = cli
		a.closers = append(a.closers, func() error { return cli.Disconnect(context.Background()) })
		repo := widgetsrepo.NewMongoRepo(cli, a.cfg.Mongo.Database, a.cfg.TablePrefix)
		repo.Transactions = a.cfg.Mongo.Transactions
		if err := repo.EnsureIndexes(ctx); err != nil {
			return err
		}
		a.repo = widgetsrepo.WithMetrics(repo, "mongo")
	default:
		db, err := openDB(a.cfg)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if err := config.CheckPrefix(ctx, db, a.cfg.Driver, util.DialectFromDriver(a.cfg.Driver), a.cfg.TablePrefix); err != nil {
			return fmt.Errorf("%w (run widgetctl migrate)", err)
		}
		a.repo = widgetsrepo.WithMetrics(widgetsrepo.NewSQLRepo(db, a.cfg.Driver, a.cfg.TablePrefix), a.cfg.Driver)
	}
	return nil
}

func (a *app) loadRBAC(ctx context.Context) error {
	e, err := rbac.NewEnforcer()
	if err != nil {
		return err
	}
	if err := rbac.Load(ctx, a.db, util.DialectFromDriver(a.cfg.Driver), a.cfg.TablePrefix, e); err != nil {
		return err
	}
	if a.rbac == nil {
		a.rbac = rbac.NewFilter(e)
	} else {
		a.rbac.Swap(e)
	}
	return nil
}

// newManager builds a manager over the current catalog snapshot.
func (a *app) newManager() (*widgets.Manager, error) {
	cfg := widgets.Config{
		Persister:     a.repo,
		Serializer:    a.serializer,
		ContextPrefix: a.cfg.ContextPrefix,
		Logger:        a.log,
	}
	if a.dispatcher != nil {
		cfg.Observer = a.dispatcher
	}
	m := widgets.New(cfg)
	if err := m.AddFactory(&catalog.Factory{Reg: a.catalog, AppVersion: a.cfg.AppVersion, Logger: logger.L}); err != nil {
		return nil, fmt.Errorf("register catalog: %w", err)
	}
	if a.policies != nil {
		m.AddFilter(&widgetpolicy.Filter{
			Policies:   a.policies,
			Attributes: widgetpolicy.StaticAttributes(a.cfg.Users),
			AppVersion: a.cfg.AppVersion,
			Logger:     logger.L,
		})
	}
	if a.rbac != nil {
		m.AddFilter(a.rbac)
	}
	return m, nil
}

// userID resolves --user, falling back to $WIDGETDECK_USER.
func (a *app) userID(cmd *cobra.Command) (string, error) {
	u := flagString(cmd, "user")
	if u == "" {
		u = util.GetEnv("WIDGETDECK_USER", "")
	}
	if u == "" {
		return "", errors.New("--user is required")
	}
	return u, nil
}

func (a *app) service(cmd *cobra.Command) (widgets.Service, string, error) {
	u, err := a.userID(cmd)
	if err != nil {
		return nil, "", err
	}
	return a.manager.For(u), u, nil
}

func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warnw("close", "err", err)
		}
	}
	_ = a.log.Sync()
}

// withApp runs fn with a fully wired app and releases it afterwards.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a, args)
	}
}
