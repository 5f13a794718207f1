package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
	"gopkg.in/yaml.v3"

	"github.com/faciam-dev/widgetdeck/pkg/util"
	"github.com/faciam-dev/widgetdeck/pkg/widgetpolicy"
)

// Config holds the settings of a widgetdeck deployment.
type Config struct {
	Driver        string `yaml:"driver"`
	DSN           string `yaml:"dsn"`
	TablePrefix   string `yaml:"table_prefix"`
	ContextPrefix string `yaml:"context_prefix"`
	// Persister selects the record store: sql, mongo or memory.
	Persister  string `yaml:"persister"`
	Serializer string `yaml:"serializer"`
	AppVersion string `yaml:"app_version"`

	Mongo      MongoConfig                        `yaml:"mongo"`
	CatalogDir string                             `yaml:"catalog_dir"`
	PolicyFile string                             `yaml:"policy_file"`
	Users      map[string]widgetpolicy.Attributes `yaml:"users"`
	RBAC       RBACConfig                         `yaml:"rbac"`
	EventsFile string                             `yaml:"events_file"`
	Redis      RedisConfig                        `yaml:"redis"`
	Snapshot   SnapshotConfig                     `yaml:"snapshot"`
	Compaction CompactionConfig                   `yaml:"compaction"`
	Metrics    MetricsConfig                      `yaml:"metrics"`
}

type MongoConfig struct {
	Database     string `yaml:"database"`
	Transactions bool   `yaml:"transactions"`
}

type RBACConfig struct {
	Enabled bool `yaml:"enabled"`
}

type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type SnapshotConfig struct {
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
}

type CompactionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Driver:        "sqlite3",
		DSN:           "widgetdeck.db",
		TablePrefix:   "wd_",
		ContextPrefix: "user:",
		Persister:     "sql",
		Serializer:    "auto",
		Mongo:         MongoConfig{Database: "widgetdeck"},
		Redis:         RedisConfig{Channel: "widget_catalog"},
		Snapshot:      SnapshotConfig{Dir: "snapshots"},
		Compaction:    CompactionConfig{Cron: "0 3 * * *"},
	}
}

// Load reads path over the defaults and applies WIDGETDECK_* environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	dsn := util.GetEnv("WIDGETDECK_DSN", "")
	if dsn != "" {
		c.DSN = dsn
		// a new DSN without an explicit driver implies its own driver
		if d, err := util.DetectDriver(dsn); err == nil {
			c.Driver = d
		}
	}
	c.Driver = util.GetEnv("WIDGETDECK_DB_DRIVER", c.Driver)
	c.TablePrefix = util.GetEnv("WIDGETDECK_TABLE_PREFIX", c.TablePrefix)
	c.ContextPrefix = util.GetEnv("WIDGETDECK_CONTEXT_PREFIX", c.ContextPrefix)
	c.Redis.URL = util.GetEnv("WIDGETDECK_REDIS_URL", c.Redis.URL)
	c.CatalogDir = util.GetEnv("WIDGETDECK_CATALOG_DIR", c.CatalogDir)
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	switch c.Persister {
	case "sql", "memory":
	case "mongo":
		if c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo.database required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown persister %q", c.Persister))
	}
	if c.Persister == "sql" {
		switch c.Driver {
		case "postgres", "mysql", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("unsupported sql driver %q", c.Driver))
		}
	}
	if c.RBAC.Enabled && c.Persister != "sql" {
		errs = append(errs, errors.New("rbac requires the sql persister"))
	}
	return errors.Join(errs...)
}

// MySQLDSN strips the URL scheme the go-sql-driver does not accept.
func (c *Config) MySQLDSN() string {
	return strings.TrimPrefix(c.DSN, "mysql://")
}

// T prefixes the given table name with the configured prefix.
func (c *Config) T(name string) string {
	return c.TablePrefix + name
}

// CheckPrefix verifies that the widget record table exists with the
// configured prefix.
func CheckPrefix(ctx context.Context, db *sql.DB, driver string, dialect ormdriver.Dialect, prefix string) error {
	table := prefix + "widget_records"
	var q *query.Query
	if driver == "sqlite3" {
		q = query.New(db, "sqlite_master", dialect).
			SelectRaw("COUNT(*) AS cnt").
			Where("type", "table").
			Where("name", table)
	} else {
		q = query.New(db, "information_schema.tables", dialect).
			SelectRaw("COUNT(*) AS cnt").
			Where("table_name", table)
	}
	var res struct{ Cnt int }
	if err := q.WithContext(ctx).First(&res); err != nil {
		return err
	}
	if res.Cnt == 0 {
		return fmt.Errorf("table %q not found; run migrations or set table_prefix correctly", table)
	}
	return nil
}
