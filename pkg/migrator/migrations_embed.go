package migrator

import _ "embed"

// PostgreSQL migration files
//
//go:embed sql/postgres/0001_widget_records.up.sql
var pg0001Up string

//go:embed sql/postgres/0001_widget_records.down.sql
var pg0001Down string

//go:embed sql/postgres/0002_widget_access.up.sql
var pg0002Up string

//go:embed sql/postgres/0002_widget_access.down.sql
var pg0002Down string

// MySQL migration files
//
//go:embed sql/mysql/0001_widget_records.up.sql
var mysql0001Up string

//go:embed sql/mysql/0001_widget_records.down.sql
var mysql0001Down string

//go:embed sql/mysql/0002_widget_access.up.sql
var mysql0002Up string

//go:embed sql/mysql/0002_widget_access.down.sql
var mysql0002Down string

// SQLite migration files
//
//go:embed sql/sqlite/0001_widget_records.up.sql
var sqlite0001Up string

//go:embed sql/sqlite/0001_widget_records.down.sql
var sqlite0001Down string

//go:embed sql/sqlite/0002_widget_access.up.sql
var sqlite0002Up string

//go:embed sql/sqlite/0002_widget_access.down.sql
var sqlite0002Down string

var postgresMigrations = []Migration{
	{Version: 1, SemVer: "0.1", UpSQL: pg0001Up, DownSQL: pg0001Down},
	{Version: 2, SemVer: "0.2", UpSQL: pg0002Up, DownSQL: pg0002Down},
}

var mysqlMigrations = []Migration{
	{Version: 1, SemVer: "0.1", UpSQL: mysql0001Up, DownSQL: mysql0001Down},
	{Version: 2, SemVer: "0.2", UpSQL: mysql0002Up, DownSQL: mysql0002Down},
}

var sqliteMigrations = []Migration{
	{Version: 1, SemVer: "0.1", UpSQL: sqlite0001Up, DownSQL: sqlite0001Down},
	{Version: 2, SemVer: "0.2", UpSQL: sqlite0002Up, DownSQL: sqlite0002Down},
}
