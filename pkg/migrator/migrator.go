package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Migration holds migration data for one version.
type Migration struct {
	Version int
	SemVer  string
	UpSQL   string
	DownSQL string
}

// SchemaMigrator applies migrations for the widget schema.
type SchemaMigrator interface {
	Current(ctx context.Context, db *sql.DB) (int, error)
	Up(ctx context.Context, db *sql.DB, target int) error   // 0=latest
	Down(ctx context.Context, db *sql.DB, target int) error // target<current
}

// Migrator implements SchemaMigrator using embedded SQL.
type Migrator struct {
	migrations  []Migration
	TablePrefix string
	Driver      string
}

var _ SchemaMigrator = (*Migrator)(nil)

// sourcePrefix is the table prefix used by the embedded SQL files.
const sourcePrefix = "wd_"

func (m *Migrator) versionTable() string {
	return m.TablePrefix + "widget_schema_version"
}

// NewWithDriver returns a Migrator for the specified driver without a table prefix.
func NewWithDriver(driver string) *Migrator {
	return NewWithDriverAndPrefix(driver, "")
}

// NewWithDriverAndPrefix returns a Migrator for the driver with table prefix.
// Drivers other than postgres and sqlite3 use the MySQL dialect.
func NewWithDriverAndPrefix(driver, prefix string) *Migrator {
	var migs []Migration
	switch driver {
	case "postgres":
		migs = postgresMigrations
	case "sqlite3", "sqlite":
		driver = "sqlite3"
		migs = sqliteMigrations
	default:
		migs = mysqlMigrations
	}
	migs = withPrefix(migs, prefix)
	return &Migrator{migrations: migs, TablePrefix: prefix, Driver: driver}
}

func withPrefix(migs []Migration, prefix string) []Migration {
	res := make([]Migration, len(migs))
	for i, m := range migs {
		m.UpSQL = strings.ReplaceAll(m.UpSQL, sourcePrefix, prefix)
		m.DownSQL = strings.ReplaceAll(m.DownSQL, sourcePrefix, prefix)
		res[i] = m
	}
	return res
}

// ErrNoVersionTable indicates the schema version table is missing.
var ErrNoVersionTable = errors.New("widget_schema_version table not found")

// Latest returns the newest known version.
func (m *Migrator) Latest() int { return len(m.migrations) }

// SemVer returns the semantic version of schema version v.
func (m *Migrator) SemVer(v int) string {
	for _, mig := range m.migrations {
		if mig.Version == v {
			return mig.SemVer
		}
	}
	return "0.0.0"
}

// SemVerToInt converts a semver string to its integer version.
func (m *Migrator) SemVerToInt(v string) (int, bool) {
	for _, mig := range m.migrations {
		if mig.SemVer == v || strings.TrimPrefix(v, "v") == mig.SemVer {
			return mig.Version, true
		}
	}
	return 0, false
}

func (m *Migrator) quote(tbl string) string {
	switch m.Driver {
	case "postgres":
		return pq.QuoteIdentifier(tbl)
	case "sqlite3":
		return `"` + tbl + `"`
	default:
		return "`" + tbl + "`"
	}
}

func (m *Migrator) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		if m.Driver == "postgres" {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

func (m *Migrator) ensureVersionTable(ctx context.Context, db *sql.DB) error {
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (version INT NOT NULL PRIMARY KEY, semver VARCHAR(32) NOT NULL)", m.quote(m.versionTable())) // #nosec G201 -- table name derived from trusted prefix
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	return nil
}

// Current returns current version (integer). If the version table cannot be
// read ErrNoVersionTable is returned.
func (m *Migrator) Current(ctx context.Context, db *sql.DB) (int, error) {
	if err := m.ensureVersionTable(ctx, db); err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT MAX(version) FROM %s", m.quote(m.versionTable()))
	row := db.QueryRowContext(ctx, query) // #nosec G201 -- table name derived from trusted prefix
	var v sql.NullInt64
	if err := row.Scan(&v); err != nil {
		if isTableMissing(err) {
			return 0, ErrNoVersionTable
		}
		return 0, err
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}

func splitSQL(src string) []string {
	var (
		res       []string
		buf       strings.Builder
		inSingle  bool
		inDouble  bool
		dollarTag string
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		if dollarTag != "" {
			if strings.HasPrefix(src[i:], dollarTag) {
				buf.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			buf.WriteByte(c)
			continue
		}
		switch c {
		case '\'':
			inSingle = !inSingle
		case '"':
			inDouble = !inDouble
		case '$':
			if !inSingle && !inDouble {
				j := i + 1
				for j < len(src) && ((src[j] >= 'a' && src[j] <= 'z') || (src[j] >= 'A' && src[j] <= 'Z') || (src[j] >= '0' && src[j] <= '9') || src[j] == '_') {
					j++
				}
				if j < len(src) && src[j] == '$' {
					dollarTag = src[i : j+1]
					buf.WriteString(dollarTag)
					i = j
					continue
				}
			}
		case ';':
			if !inSingle && !inDouble {
				s := strings.TrimSpace(buf.String())
				if s != "" {
					res = append(res, s)
				}
				buf.Reset()
				continue
			}
		}
		buf.WriteByte(c)
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		res = append(res, s)
	}
	return res
}

func execAll(ctx context.Context, tx *sql.Tx, src string) error {
	for _, stmt := range splitSQL(src) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func rollback(tx *sql.Tx, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return fmt.Errorf("rollback: %v: %w", rbErr, err)
	}
	return err
}

// Up migrates the schema up to target. target=0 means latest.
func (m *Migrator) Up(ctx context.Context, db *sql.DB, target int) error {
	if target == 0 || target > len(m.migrations) {
		target = len(m.migrations)
	}
	cur, err := m.Current(ctx, db)
	if err != nil {
		return err
	}
	if cur >= target {
		return nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	ins := fmt.Sprintf("INSERT INTO %s (version, semver) VALUES (%s)", m.quote(m.versionTable()), m.placeholders(2)) // #nosec G201 -- table name derived from trusted prefix
	for i := cur; i < target; i++ {
		mig := m.migrations[i]
		if err := execAll(ctx, tx, mig.UpSQL); err != nil {
			return rollback(tx, err)
		}
		if _, err := tx.ExecContext(ctx, ins, mig.Version, mig.SemVer); err != nil {
			return rollback(tx, fmt.Errorf("record version %d: %w", mig.Version, err))
		}
	}
	return tx.Commit()
}

// Down migrates schema down to target version.
func (m *Migrator) Down(ctx context.Context, db *sql.DB, target int) error {
	cur, err := m.Current(ctx, db)
	if err != nil {
		return err
	}
	if target >= cur {
		return nil
	}
	if target < 0 {
		target = 0
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	del := fmt.Sprintf("DELETE FROM %s WHERE version = %s", m.quote(m.versionTable()), m.placeholders(1)) // #nosec G201 -- table name derived from trusted prefix
	for i := cur - 1; i >= target; i-- {
		mig := m.migrations[i]
		if err := execAll(ctx, tx, mig.DownSQL); err != nil {
			return rollback(tx, err)
		}
		if _, err := tx.ExecContext(ctx, del, mig.Version); err != nil {
			return rollback(tx, fmt.Errorf("remove version %d: %w", mig.Version, err))
		}
	}
	return tx.Commit()
}

func isTableMissing(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "doesn't exist") || strings.Contains(msg, "no such table") || strings.Contains(msg, "undefined table")
}

// SQLForRange returns SQL statements needed to migrate from->to.
func (m *Migrator) SQLForRange(from, to int) []string {
	var res []string
	if to > from {
		for i := from; i < to; i++ {
			res = append(res, splitSQL(m.migrations[i].UpSQL)...)
		}
	} else if to < from {
		for i := from - 1; i >= to; i-- {
			res = append(res, splitSQL(m.migrations[i].DownSQL)...)
		}
	}
	return res
}
