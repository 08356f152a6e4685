package sources

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"survey/internal/dbclient"
	"survey/internal/domain"
	"survey/internal/etl"
)

// ── SQL Source ─────────────────────────────────────────────
// Reads responses stored by the SQLite response store, or a table of the
// same shape in MySQL or PostgreSQL:
//
//	id, tag, client, session, mode, results (JSON object), created_at

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type sqlSource struct{}

func init() { etl.RegisterSource(&sqlSource{}) }

func (s *sqlSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{
		Type:  "sql",
		Label: "SQL Table",
		ConfigFields: []etl.ConfigField{
			{Key: "driver", Label: "Driver", Type: "select", Required: true, Options: []string{"sqlite", "mysql", "postgres"}, Default: "sqlite"},
			{Key: "dsn", Label: "DSN", Type: "password", Help: "Connection string; the fields below are used when empty"},
			{Key: "host", Label: "Host", Type: "string"},
			{Key: "port", Label: "Port", Type: "number"},
			{Key: "user", Label: "User", Type: "string"},
			{Key: "password", Label: "Password", Type: "password", Help: "May reference environment variables, e.g. ${PGPASSWORD}"},
			{Key: "database", Label: "Database", Type: "string"},
			{Key: "sslmode", Label: "SSL Mode", Type: "string"},
			{Key: "table", Label: "Table", Type: "string", Default: "responses"},
			{Key: "tag", Label: "Tag", Type: "string", Help: "Only rows stored under this tag"},
		},
	}
}

// connConfig collects the connection fields shared by the database sources.
func connConfig(cfg etl.SourceConfig) dbclient.Config {
	return dbclient.Config{
		Driver:   cfg.String("driver"),
		DSN:      cfg.String("dsn"),
		Host:     cfg.String("host"),
		Port:     cfg.Int("port"),
		Username: cfg.String("user"),
		Password: cfg.String("password"),
		Database: cfg.String("database"),
		SSLMode:  cfg.String("sslmode"),
	}
}

func (s *sqlSource) Read(ctx context.Context, cfg etl.SourceConfig) (<-chan etl.Record, <-chan error) {
	conn := connConfig(cfg)
	driver, err := dbclient.NormalizeDriver(conn.Driver)
	if err != nil {
		return failed(err)
	}
	query, args, err := responseQuery(driver, cfg.String("table"), cfg.String("tag"))
	if err != nil {
		return failed(err)
	}
	if _, err := conn.SQLDSN(); err != nil {
		return failed(err)
	}

	out := make(chan etl.Record, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		db, _, err := dbclient.OpenSQL(ctx, conn)
		if err != nil {
			errCh <- err
			return
		}
		defer db.Close()

		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			errCh <- fmt.Errorf("query: %w", err)
			return
		}
		defer rows.Close()

		table := cfg.String("table")
		if table == "" {
			table = "responses"
		}
		for rows.Next() {
			var id, client, session, mode, results sql.NullString
			if err := rows.Scan(&id, &client, &session, &mode, &results); err != nil {
				errCh <- fmt.Errorf("scan: %w", err)
				return
			}
			if !send(ctx, out, rowRecord(table+"#"+id.String, client.String, session.String, mode.String, results.String)) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			errCh <- fmt.Errorf("rows: %w", err)
		}
	}()

	return out, errCh
}

func responseQuery(driver, table, tag string) (string, []any, error) {
	if table == "" {
		table = "responses"
	}
	if !identifier.MatchString(table) {
		return "", nil, fmt.Errorf("invalid table name %q", table)
	}
	switch driver {
	case dbclient.DriverSQLite, dbclient.DriverMySQL, dbclient.DriverPostgres:
	default:
		return "", nil, fmt.Errorf("unsupported driver %q", driver)
	}

	q := fmt.Sprintf("SELECT id, client, session, mode, results FROM %s", table)
	var args []any
	if tag != "" {
		if driver == dbclient.DriverPostgres {
			q += " WHERE tag = $1"
		} else {
			q += " WHERE tag = ?"
		}
		args = append(args, tag)
	}
	return q + " ORDER BY created_at, id", args, nil
}

// rowRecord turns a stored row into a record. The row's session fills in
// for a body that has none.
func rowRecord(location, client, session, mode, results string) etl.Record {
	rec, err := domain.ParseRawRecord([]byte(results))
	if err != nil {
		return etl.Failed(location, err)
	}
	if session != "" && !rec.Has(domain.KeySession) {
		rec.Set(domain.KeySession, domain.Single(session))
	}
	return etl.Record{Location: location, Client: client, Mode: mode, Data: rec}
}
