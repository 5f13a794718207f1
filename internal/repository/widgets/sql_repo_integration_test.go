//go:build integration
// +build integration

package widgetsrepo

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/faciam-dev/widgetdeck/pkg/migrator"
)

func runContract(t *testing.T, driver, dsn string) {
	t.Helper()
	ctx := context.Background()
	db, err := sql.Open(driver, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := migrator.NewWithDriverAndPrefix(driver, "wd_").Up(ctx, db, 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	testRepoContract(t, NewSQLRepo(db, driver, "wd_"))
}

func recoverRun[T any](run func() (T, error)) (c T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return run()
}

func TestPostgresRepoContract(t *testing.T) {
	ctx := context.Background()
	container, err := recoverRun(func() (*postgres.PostgresContainer, error) {
		return postgres.Run(ctx, "postgres:16",
			postgres.WithDatabase("widgets"),
			postgres.WithUsername("user"),
			postgres.WithPassword("pass"),
			postgres.BasicWaitStrategies(),
		)
	})
	if err != nil {
		t.Skipf("container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	runContract(t, "postgres", dsn)
}

func TestMySQLRepoContract(t *testing.T) {
	ctx := context.Background()
	container, err := recoverRun(func() (*mysql.MySQLContainer, error) {
		return mysql.Run(ctx, "mysql:8.4",
			mysql.WithDatabase("widgets"),
			mysql.WithUsername("user"),
			mysql.WithPassword("pass"),
		)
	})
	if err != nil {
		t.Skipf("container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })
	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	runContract(t, "mysql", dsn)
}
