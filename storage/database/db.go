package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/trezcool/bhorti/core"
	appfs "github.com/trezcool/bhorti/fs"
)

const (
	sqliteDriver   = "sqlite"
	postgresDriver = "postgres"
	migrationsDir  = "migrations"
)

func init() {
	sqlx.BindDriver(sqliteDriver, sqlx.QUESTION)
}

func postgresURL(dbName string, admin bool, conf *core.Config) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   postgresDriver,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func sqliteDSN(path string) string {
	q := make(url.Values)
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}

func open(dbName string, admin bool, conf *core.Config) (*sqlx.DB, error) {
	if conf.Database.IsSqlite() {
		return sqlx.Open(sqliteDriver, sqliteDSN(conf.Database.Path))
	}
	return sqlx.Open(postgresDriver, postgresURL(dbName, admin, conf))
}

// Open opens the application database. It does not create nor migrate it.
func Open(conf *core.Config) (*sqlx.DB, error) {
	db, err := open(conf.Database.Name, false, conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sqlx.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}
	return errors.Wrap(err, "DB ping timeout")
}

func exists(db *sqlx.DB, query, name string) (bool, error) {
	var found bool
	err := db.Get(&found, query, name)
	if err != nil && errors.Cause(err) != sql.ErrNoRows {
		return false, err
	}
	return found, nil
}

func createAppUser(db *sqlx.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}
	found, err := exists(db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if !found {
		// identifiers & passwords cannot be bound as parameters
		q := fmt.Sprintf("CREATE USER %q CREATEDB ENCRYPTED PASSWORD '%s'", conf.Database.User, conf.Database.Password)
		if _, err = db.Exec(q); err != nil {
			return errors.Wrap(err, "creating app user")
		}
	}
	return nil
}

func createDB(db *sqlx.DB, conf *core.Config) error {
	found, err := exists(db, "SELECT true FROM pg_database WHERE datname = $1", conf.Database.Name)
	if err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if !found {
		if _, err = db.Exec(fmt.Sprintf("CREATE DATABASE %q", conf.Database.Name)); err != nil {
			return errors.Wrap(err, "creating database")
		}
	}
	return nil
}

// CreateIfNotExist creates the postgres app user and database.
// For sqlite, only the directory of the database file is created.
func CreateIfNotExist(conf *core.Config) error {
	if conf.Database.IsSqlite() {
		if dir := filepath.Dir(conf.Database.Path); dir != "" {
			return errors.Wrap(os.MkdirAll(dir, 0o755), "creating database directory")
		}
		return nil
	}

	// connect as admin
	db, err := open("postgres", true, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()

	if err = ping(db); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(db, conf); err != nil {
		return err
	}

	// create DB as app user
	appDB, err := open("postgres", false, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = appDB.Close() }()
	return createDB(appDB, conf)
}

func setupGoose(conf *core.Config) error {
	goose.SetBaseFS(appfs.FS)
	dialect := postgresDriver
	if conf.Database.IsSqlite() {
		dialect = "sqlite3"
	}
	return errors.Wrap(goose.SetDialect(dialect), "setting goose dialect")
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *sqlx.DB, conf *core.Config) error {
	if err := setupGoose(conf); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, migrationsDir); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// RunMigrations runs a goose command (up, down, status, version, redo, ...) against the embedded migrations.
func RunMigrations(ctx context.Context, db *sqlx.DB, conf *core.Config, command string, args ...string) error {
	if err := setupGoose(conf); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, command, db.DB, migrationsDir, args...); err != nil {
		return errors.Wrapf(err, "running migration command %q", command)
	}
	return nil
}
