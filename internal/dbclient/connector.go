// Package dbclient opens connections to the external databases responses
// are read from.
package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported drivers. Names are the database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// Config describes one database connection. DSN, when set, is used as is;
// otherwise it is built from the remaining fields.
type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	Username string
	// Password may reference environment variables ("${PGPASSWORD}").
	Password string
	Database string
	SSLMode  string
}

// NormalizeDriver maps common aliases onto a supported driver name.
func NormalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "mongo", "mongodb":
		return DriverMongoDB, nil
	}
	return "", fmt.Errorf("unsupported driver: %s", driver)
}

func (c Config) password() string {
	return os.ExpandEnv(c.Password)
}

// SQLDSN returns the database/sql data source name for c.
func (c Config) SQLDSN() (string, error) {
	driver, err := NormalizeDriver(c.Driver)
	if err != nil {
		return "", err
	}
	switch driver {
	case DriverSQLite:
		path := c.DSN
		if path == "" {
			path = c.Host
		}
		if path == "" {
			return "", fmt.Errorf("sqlite: dsn is required")
		}
		if strings.Contains(path, "?") {
			return path, nil
		}
		// WAL with busy timeout so the collector can keep writing.
		return path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case DriverMySQL:
		if c.DSN != "" {
			return c.DSN, nil
		}
		return buildMySQLDSN(c), nil
	case DriverPostgres:
		if c.DSN != "" {
			return c.DSN, nil
		}
		return buildPostgresDSN(c), nil
	}
	return "", fmt.Errorf("%s is not a sql driver", driver)
}

// buildMySQLDSN constructs a MySQL DSN from a Config.
func buildMySQLDSN(c Config) string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	// Format: user:password@tcp(host:port)/dbname?parseTime=true
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.Username, c.password(), c.Host, port, c.Database,
	)
	if c.SSLMode == "require" {
		dsn += "&tls=true"
	}
	return dsn
}

// buildPostgresDSN constructs a Postgres connection string from a Config.
func buildPostgresDSN(c Config) string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, port, c.Username, c.password(), c.Database, sslMode,
	)
}

// OpenSQL opens and pings a SQL database.
func OpenSQL(ctx context.Context, c Config) (*sql.DB, string, error) {
	driver, err := NormalizeDriver(c.Driver)
	if err != nil {
		return nil, "", err
	}
	dsn, err := c.SQLDSN()
	if err != nil {
		return nil, "", err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", driver, err)
	}
	// Reads are sequential; a small pool is enough.
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("connect %s: %w", driver, err)
	}
	return db, driver, nil
}
