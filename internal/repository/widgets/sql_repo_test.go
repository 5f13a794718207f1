package widgetsrepo

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	ormdriver "github.com/faciam-dev/goquent/orm/driver"
	"github.com/faciam-dev/goquent/orm/query"
	_ "github.com/mattn/go-sqlite3"

	"github.com/faciam-dev/widgetdeck/pkg/migrator"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

func newSQLiteRepo(t *testing.T) *SQLRepo {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := migrator.NewWithDriverAndPrefix("sqlite3", "wd_").Up(context.Background(), db, 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLRepo(db, "sqlite3", "wd_")
}

func TestSQLiteRepoContract(t *testing.T) {
	testRepoContract(t, newSQLiteRepo(t))
}

func TestSQLRepoNotInitialized(t *testing.T) {
	var r *SQLRepo
	if _, err := r.UserRecords(context.Background(), "u1"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected errNotInitialized, got %v", err)
	}
}

func TestPGRepoRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSQLRepo(db, "postgres", "wd_")

	sqlStr, _, _ := query.New(db, "wd_widget_records", ormdriver.PostgresDialect{}).
		Select(columns...).
		Where("id", "w1").
		Build()
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow("w1", "clock", "u1", 2, `{"n":1}`, now, now))
	rec, err := repo.Record(context.Background(), "w1")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	want := widgets.Record{ID: "w1", TypeID: "clock", Context: "u1", Position: 2, State: `{"n":1}`}
	if rec == nil || *rec != want {
		t.Fatalf("unexpected record %+v", rec)
	}

	mock.ExpectQuery(regexp.QuoteMeta(sqlStr)).WillReturnError(sql.ErrNoRows)
	rec, err = repo.Record(context.Background(), "w1")
	if err != nil || rec != nil {
		t.Fatalf("missing record: %v %v", rec, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoInsertBefore(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSQLRepo(db, "postgres", "wd_")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.Now = func() time.Time { return now }
	tbl := ormdriver.PostgresDialect{}.QuoteIdent("wd_widget_records")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT position FROM " + tbl + " WHERE id = $1 AND context = $2")).
		WithArgs("w1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE " + tbl + " SET position = position + 1 WHERE context = $1 AND position >= $2 AND id <> $3")).
		WithArgs("u1", 4, "").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO " + tbl + " (id, type_id, context, position, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)")).
		WithArgs(sqlmock.AnyArg(), "clock", "u1", 4, "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := repo.InsertRecord(context.Background(), "clock", "u1", "w1")
	if err != nil {
		t.Fatalf("InsertRecord: %v", err)
	}
	if rec.Position != 4 || rec.ID == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMySQLRepoInsertRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSQLRepo(db, "mysql", "wd_")
	tbl := ormdriver.MySQLDialect{}.QuoteIdent("wd_widget_records")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT position FROM " + tbl + " WHERE id = ? AND context = ?")).
		WithArgs("w9", "u1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	if _, err := repo.InsertRecord(context.Background(), "clock", "u1", "w9"); !errors.Is(err, widgets.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
