// Package db implements the database operations: creating and dropping databases, running SQL
// statements and files, and dumping a database.
//
// Connections are opened through an Opener so tests can substitute an in-memory driver. The
// default opener uses lib/pq and points the configured DSN at the requested database.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"

	"github.com/rushops/rush/handlers/shell"
	"github.com/rushops/rush/operations"
)

var version = semver.MustParse("1.0.0")

// Opener opens a connection to database. An empty database means the database named by the
// configured DSN.
type Opener func(ctx context.Context, database string) (*sql.DB, error)

// NewOpener returns an Opener for driverName and dsn. Postgres URLs have their path replaced
// by the requested database; other DSNs are passed through unchanged.
func NewOpener(driverName, dsn string) Opener {
	return func(ctx context.Context, database string) (*sql.DB, error) {
		db, err := sql.Open(driverName, WithDatabase(dsn, database))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s connection: %w", driverName, err)
		}
		if err = db.PingContext(ctx); err != nil {
			_ = db.Close()

			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		return db, nil
	}
}

// WithDatabase points a postgres URL DSN at database. Any other DSN is returned unchanged.
func WithDatabase(dsn, database string) string {
	if database == "" {
		return dsn
	}
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return dsn
	}
	u.Path = "/" + database

	return u.String()
}

// Deps are the collaborators of the db handlers.
type Deps struct {
	Open      Opener
	Fs        afero.Fs
	Commander shell.Commander
	// DSN is handed to the dump tool. Optional.
	DSN string
	// DumpCommand is the dump tool. Defaults to "pg_dump".
	DumpCommand string
}

// Handlers implements the db operations. Connections are opened on first use, one per
// database, and kept until Close.
type Handlers struct {
	open Opener
	fs   afero.Fs
	cmd  shell.Commander
	dsn  string
	dump string

	mu    sync.Mutex
	conns map[string]*sql.DB
}

// New returns the db handlers.
func New(deps Deps) *Handlers {
	dump := deps.DumpCommand
	if dump == "" {
		dump = "pg_dump"
	}

	return &Handlers{
		open:  deps.Open,
		fs:    deps.Fs,
		cmd:   deps.Commander,
		dsn:   deps.DSN,
		dump:  dump,
		conns: make(map[string]*sql.DB),
	}
}

// Close closes every connection opened so far.
func (h *Handlers) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	for name, db := range h.conns {
		errs = append(errs, db.Close())
		delete(h.conns, name)
	}

	return errors.Join(errs...)
}

// Specs returns the specs of every db operation.
func (h *Handlers) Specs() []operations.Spec {
	in := operations.InCategory(operations.CategoryDB)

	return []operations.Spec{
		operations.NewSpec("sql_create", version, "Create a database",
			operations.HandlerFunc(h.Create), in,
			operations.Required("db_name"), operations.Optional("owner", "if_not_exists")),
		operations.NewSpec("sql_destroy_db", version, "Drop a database",
			operations.HandlerFunc(h.Destroy), in,
			operations.Required("db_name")),
		operations.NewSpec("sql_query", version, "Run one SQL statement",
			operations.HandlerFunc(h.Query), in,
			operations.Required("query"), operations.Optional("db_name")),
		operations.NewSpec("sql_query_file", version, "Run the SQL statements of a file",
			operations.HandlerFunc(h.QueryFile), in,
			operations.Required("file"), operations.Optional("db_name")),
		operations.NewSpec("sql_dump", version, "Dump a database to a file",
			operations.HandlerFunc(h.Dump), in,
			operations.Required("db_name", "file")),
	}
}

// Create creates db_name, owned by owner when given. With if_not_exists=true an existing
// database is not an error.
func (h *Handlers) Create(ctx context.Context, args operations.Args) (operations.Result, error) {
	name := args.Get("db_name")
	ifNotExists, err := args.Bool("if_not_exists")
	if err != nil {
		return operations.Result{}, err
	}

	return h.withDB(ctx, "", func(db *sql.DB) (operations.Result, error) {
		if ifNotExists {
			var exists bool
			err := db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
			if err != nil {
				return operations.Result{}, fmt.Errorf("failed to look up database %s: %w", name, err)
			}
			if exists {
				return operations.Result{Message: "database " + name + " already exists"}, nil
			}
		}

		if _, err := db.ExecContext(ctx, createStatement(name, args.Get("owner"))); err != nil {
			return operations.Result{}, fmt.Errorf("failed to create database %s: %w", name, err)
		}

		return operations.Result{Message: "created database " + name}, nil
	})
}

func (h *Handlers) Destroy(ctx context.Context, args operations.Args) (operations.Result, error) {
	name := args.Get("db_name")

	return h.withDB(ctx, "", func(db *sql.DB) (operations.Result, error) {
		if _, err := db.ExecContext(ctx, dropStatement(name)); err != nil {
			return operations.Result{}, fmt.Errorf("failed to drop database %s: %w", name, err)
		}

		return operations.Result{Message: "dropped database " + name}, nil
	})
}

// Query runs one statement. Rows returned by a query are rendered as a table in the output.
func (h *Handlers) Query(ctx context.Context, args operations.Args) (operations.Result, error) {
	return h.withDB(ctx, args.Get("db_name"), func(db *sql.DB) (operations.Result, error) {
		return runStatement(ctx, db, args.Get("query"))
	})
}

// QueryFile runs every statement of file in order, stopping at the first failing one.
func (h *Handlers) QueryFile(ctx context.Context, args operations.Args) (operations.Result, error) {
	path := args.Get("file")
	content, err := afero.ReadFile(h.fs, path)
	if err != nil {
		return operations.Result{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	stmts := SplitStatements(string(content))

	return h.withDB(ctx, args.Get("db_name"), func(db *sql.DB) (operations.Result, error) {
		var out strings.Builder
		for i, stmt := range stmts {
			res, err := runStatement(ctx, db, stmt)
			out.WriteString(res.Output)
			if err != nil {
				return operations.Result{Output: out.String()}, fmt.Errorf("statement %d of %s: %w", i+1, path, err)
			}
		}

		return operations.Result{
			Message: fmt.Sprintf("ran %d statements from %s", len(stmts), path),
			Output:  out.String(),
		}, nil
	})
}

// Dump writes db_name to file with the dump tool.
func (h *Handlers) Dump(ctx context.Context, args operations.Args) (operations.Result, error) {
	name, file := args.Get("db_name"), args.Get("file")

	target := name
	if h.dsn != "" {
		target = WithDatabase(h.dsn, name)
	}
	out, err := h.cmd.Run(ctx, shell.Command{
		Name: h.dump,
		Args: []string{"--no-owner", "--file=" + file, "--dbname=" + target},
	})
	if err != nil {
		return operations.Result{Output: out}, fmt.Errorf("failed to dump %s: %w", name, err)
	}

	return operations.Result{Message: fmt.Sprintf("dumped %s to %s", name, file), Output: out}, nil
}

func (h *Handlers) withDB(ctx context.Context, database string, fn func(*sql.DB) (operations.Result, error)) (operations.Result, error) {
	db, err := h.conn(ctx, database)
	if err != nil {
		return operations.Result{}, err
	}

	return fn(db)
}

func (h *Handlers) conn(ctx context.Context, database string) (*sql.DB, error) {
	if h.open == nil {
		return nil, errors.New("no database configured")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if db, ok := h.conns[database]; ok {
		return db, nil
	}
	db, err := h.open(ctx, database)
	if err != nil {
		return nil, err
	}
	h.conns[database] = db

	return db, nil
}

func createStatement(name, owner string) string {
	stmt := "CREATE DATABASE " + pq.QuoteIdentifier(name)
	if owner != "" {
		stmt += " OWNER " + pq.QuoteIdentifier(owner)
	}

	return stmt
}

func dropStatement(name string) string {
	return "DROP DATABASE IF EXISTS " + pq.QuoteIdentifier(name)
}

func runStatement(ctx context.Context, db *sql.DB, stmt string) (operations.Result, error) {
	if !returnsRows(stmt) {
		res, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return operations.Result{}, err
		}
		msg := "statement executed"
		if n, err := res.RowsAffected(); err == nil {
			msg = fmt.Sprintf("%d rows affected", n)
		}

		return operations.Result{Message: msg}, nil
	}

	rows, err := db.QueryContext(ctx, stmt)
	if err != nil {
		return operations.Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return operations.Result{}, err
	}

	var out strings.Builder
	table := tablewriter.NewWriter(&out)
	table.SetHeader(columns)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)

	count := 0
	values := make([]sql.NullString, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	for rows.Next() {
		if err = rows.Scan(dest...); err != nil {
			return operations.Result{}, err
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = "NULL"
			if v.Valid {
				row[i] = v.String
			}
		}
		table.Append(row)
		count++
	}
	if err = rows.Err(); err != nil {
		return operations.Result{}, err
	}
	table.Render()

	return operations.Result{Message: fmt.Sprintf("%d rows", count), Output: out.String()}, nil
}

func returnsRows(stmt string) bool {
	words := strings.FieldsFunc(stmt, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	if len(words) == 0 {
		return false
	}
	switch strings.ToUpper(words[0]) {
	case "SELECT", "WITH", "SHOW", "EXPLAIN", "VALUES", "TABLE":
		return true
	}

	return false
}

// SplitStatements splits SQL text on semicolons outside quotes and -- comments. Empty
// statements are dropped.
func SplitStatements(text string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quote   rune
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case comment:
			if r == '\n' {
				comment = false
				cur.WriteRune(r)
			}
		case quote != 0:
			cur.WriteRune(r)
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
			i++
		case r == ';':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()

	return stmts
}
