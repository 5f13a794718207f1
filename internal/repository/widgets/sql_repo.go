package widgetsrepo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"

	"github.com/faciam-dev/widgetdeck/pkg/util"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

// SQLRepo implements Repo for PostgreSQL, MySQL and SQLite databases.
// Reads and single-row writes go through goquent; position shifting runs
// in a transaction.
type SQLRepo struct {
	DB          *sql.DB
	Driver      string
	Dialect     ormdriver.Dialect
	TablePrefix string
	Now         func() time.Time
}

var _ Repo = (*SQLRepo)(nil)

// NewSQLRepo creates a new SQLRepo.
func NewSQLRepo(db *sql.DB, driver, prefix string) *SQLRepo {
	return &SQLRepo{DB: db, Driver: driver, Dialect: util.DialectFromDriver(driver), TablePrefix: prefix}
}

func (r *SQLRepo) table() string { return r.TablePrefix + "widget_records" }

func (r *SQLRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

func (r *SQLRepo) query() *query.Query {
	return query.New(r.DB, r.table(), r.Dialect)
}

// stmt renders a statement template against the quoted table name.
func (r *SQLRepo) stmt(tmpl string) string {
	return util.Rebind(r.Driver, fmt.Sprintf(tmpl, r.Dialect.QuoteIdent(r.table())))
}

func (r *SQLRepo) check() error {
	if r == nil || r.DB == nil {
		return errNotInitialized
	}
	return nil
}

func (r *SQLRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback: %v: %w", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// UserRecords returns the records of owner ordered by position.
func (r *SQLRepo) UserRecords(ctx context.Context, owner string) ([]widgets.Record, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	var rows []Row
	q := r.query().
		Select(columns...).
		Where("context", owner).
		OrderBy("position", "asc").
		OrderBy("id", "asc").
		WithContext(ctx)
	if err := q.Get(&rows); err != nil {
		return nil, err
	}
	recs := make([]widgets.Record, 0, len(rows))
	for _, row := range rows {
		recs = append(recs, row.record())
	}
	return recs, nil
}

// Record returns the record with id or nil.
func (r *SQLRepo) Record(ctx context.Context, id string) (*widgets.Record, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	var row Row
	q := r.query().
		Select(columns...).
		Where("id", id).
		WithContext(ctx)
	if err := q.First(&row); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec := row.record()
	return &rec, nil
}

// InsertRecord creates a record before beforeID or at the end of owner's list.
func (r *SQLRepo) InsertRecord(ctx context.Context, typeID, owner, beforeID string) (widgets.Record, error) {
	if err := r.check(); err != nil {
		return widgets.Record{}, err
	}
	rec := widgets.Record{ID: NewID(), TypeID: typeID, Context: owner}
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if beforeID != "" {
			if rec.Position, err = r.positionOf(ctx, tx, beforeID, owner); err != nil {
				return err
			}
			if err := r.shift(ctx, tx, owner, rec.Position, ""); err != nil {
				return err
			}
		} else if rec.Position, err = r.nextPosition(ctx, tx, owner); err != nil {
			return err
		}
		now := r.now()
		_, err = tx.ExecContext(ctx,
			r.stmt("INSERT INTO %s (id, type_id, context, position, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)"),
			rec.ID, rec.TypeID, rec.Context, rec.Position, "", now, now)
		return err
	})
	if err != nil {
		return widgets.Record{}, err
	}
	return rec, nil
}

// MoveBefore places id before relatedID, or at the end when relatedID is empty.
func (r *SQLRepo) MoveBefore(ctx context.Context, id, relatedID string) error {
	if err := r.check(); err != nil {
		return err
	}
	if id == relatedID {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var owner string
		err := tx.QueryRowContext(ctx, r.stmt("SELECT context FROM %s WHERE id = ?"), id).Scan(&owner)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: widget %q", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		var pos int
		if relatedID == "" {
			if pos, err = r.nextPosition(ctx, tx, owner); err != nil {
				return err
			}
		} else {
			if pos, err = r.positionOf(ctx, tx, relatedID, owner); err != nil {
				return err
			}
			if err := r.shift(ctx, tx, owner, pos, id); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, r.stmt("UPDATE %s SET position = ?, updated_at = ? WHERE id = ?"), pos, r.now(), id)
		return err
	})
}

// RemoveRecord deletes a record.
func (r *SQLRepo) RemoveRecord(ctx context.Context, id string) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	_, err := r.query().Where("id", id).WithContext(ctx).Delete()
	return err
}

// SaveState replaces the serialized state of a record.
func (r *SQLRepo) SaveState(ctx context.Context, id, state string) error {
	if err := r.exists(ctx, id); err != nil {
		return err
	}
	data := map[string]any{"state": state, "updated_at": r.now()}
	_, err := r.query().Where("id", id).WithContext(ctx).Update(data)
	return err
}

// Contexts lists every context owning records.
func (r *SQLRepo) Contexts(ctx context.Context) ([]string, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, r.stmt("SELECT DISTINCT context FROM %s ORDER BY context"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// Compact renumbers owner's positions to 0..n-1.
func (r *SQLRepo) Compact(ctx context.Context, owner string) error {
	if err := r.check(); err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, r.stmt("SELECT id, position FROM %s WHERE context = ? ORDER BY position, id"), owner)
		if err != nil {
			return err
		}
		type idPos struct {
			id  string
			pos int
		}
		var list []idPos
		for rows.Next() {
			var p idPos
			if err := rows.Scan(&p.id, &p.pos); err != nil {
				rows.Close()
				return err
			}
			list = append(list, p)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		upd := r.stmt("UPDATE %s SET position = ? WHERE id = ?")
		for i, p := range list {
			if p.pos == i {
				continue
			}
			if _, err := tx.ExecContext(ctx, upd, i, p.id); err != nil {
				return err
			}
		}
		return nil
	})
}

// CountByType returns record counts grouped by widget type.
func (r *SQLRepo) CountByType(ctx context.Context) (map[string]int, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, r.stmt("SELECT type_id, COUNT(*) FROM %s GROUP BY type_id"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		res[t] = n
	}
	return res, rows.Err()
}

func (r *SQLRepo) exists(ctx context.Context, id string) error {
	rec, err := r.Record(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	return nil
}

func (r *SQLRepo) positionOf(ctx context.Context, tx *sql.Tx, id, owner string) (int, error) {
	var pos int
	err := tx.QueryRowContext(ctx, r.stmt("SELECT position FROM %s WHERE id = ? AND context = ?"), id, owner).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: widget %q", ErrNotFound, id)
	}
	return pos, err
}

func (r *SQLRepo) nextPosition(ctx context.Context, tx *sql.Tx, owner string) (int, error) {
	var pos int
	err := tx.QueryRowContext(ctx, r.stmt("SELECT COALESCE(MAX(position), -1) + 1 FROM %s WHERE context = ?"), owner).Scan(&pos)
	return pos, err
}

// shift moves every record of owner at or after from one slot down, except
// the record being moved.
func (r *SQLRepo) shift(ctx context.Context, tx *sql.Tx, owner string, from int, except string) error {
	_, err := tx.ExecContext(ctx, r.stmt("UPDATE %s SET position = position + 1 WHERE context = ? AND position >= ? AND id <> ?"), owner, from, except)
	return err
}
