package target

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Supported drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite3"
)

// Options describes how to reach the database under test.
type Options struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Socket   string

	// DSN, when set, is passed to the driver verbatim and the fields above
	// are used only for Host().
	DSN string
}

// dialect captures the per-driver differences in session setup and
// transaction handling.
type dialect struct {
	name string

	// setup runs once on every new session.
	setup []string

	// trackTxn emulates MySQL's transaction semantics on engines that reject
	// BEGIN inside a transaction or COMMIT/ROLLBACK outside one.
	trackTxn bool
}

var dialects = map[string]dialect{
	DriverMySQL: {
		name:  DriverMySQL,
		setup: []string{"SET autocommit=0"},
	},
	DriverSQLite: {
		name:     DriverSQLite,
		trackTxn: true,
	},
}

// SQLDialer opens sessions through database/sql.
type SQLDialer struct {
	db      *sql.DB
	dialect dialect
	host    string
}

// Open validates opts and prepares a dialer. No connection is made until
// Dial.
func Open(opts Options) (*SQLDialer, error) {
	d, ok := dialects[opts.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}

	dsn, err := BuildDSN(opts)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.name, err)
	}

	// Workers hold their session for the whole run; nothing is shared.
	db.SetMaxIdleConns(0)

	host := opts.Host
	if opts.Driver == DriverSQLite {
		host = "local"
	}

	return &SQLDialer{db: db, dialect: d, host: host}, nil
}

// BuildDSN returns the driver DSN for opts.
func BuildDSN(opts Options) (string, error) {
	if opts.DSN != "" {
		return opts.DSN, nil
	}

	switch opts.Driver {
	case DriverMySQL:
		cfg := mysql.NewConfig()
		cfg.User = opts.User
		cfg.Passwd = opts.Password
		cfg.DBName = opts.Database
		// libmysqlclient semantics: "localhost" means the unix socket.
		if (opts.Host == "" || opts.Host == "localhost") && opts.Socket != "" {
			cfg.Net = "unix"
			cfg.Addr = opts.Socket
		} else {
			cfg.Net = "tcp"
			port := opts.Port
			if port == 0 {
				port = 3306
			}
			cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(port))
		}
		return cfg.FormatDSN(), nil

	case DriverSQLite:
		if opts.Database == "" {
			return "", fmt.Errorf("sqlite3 target requires a database path")
		}
		if strings.Contains(opts.Database, "?") {
			return opts.Database, nil
		}
		return "file:" + opts.Database + "?_busy_timeout=5000", nil
	}

	return "", fmt.Errorf("unsupported driver %q", opts.Driver)
}

// Dial opens a dedicated session and runs the dialect's setup statements.
func (d *SQLDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", d.host, err)
	}

	for _, stmt := range d.dialect.setup {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("session setup %q: %w", stmt, err)
		}
	}

	return &sqlConn{
		conn:    conn,
		dialect: d.dialect,
		host:    d.host,
		stmts:   make(map[string]*sql.Stmt),
	}, nil
}

// Close releases the underlying pool. Sessions from Dial should be closed
// first.
func (d *SQLDialer) Close() error {
	return d.db.Close()
}

type sqlConn struct {
	conn    *sql.Conn
	dialect dialect
	host    string

	inTxn bool
	stmts map[string]*sql.Stmt
}

func (c *sqlConn) Host() string {
	return c.host
}

func (c *sqlConn) Begin(ctx context.Context) error {
	if c.dialect.trackTxn && c.inTxn {
		// Implicit commit, as MySQL does on a nested BEGIN.
		if _, err := c.conn.ExecContext(ctx, "COMMIT"); err != nil {
			return fmt.Errorf("implicit commit: %w", err)
		}
		c.inTxn = false
	}
	if _, err := c.conn.ExecContext(ctx, "BEGIN"); err != nil {
		return err
	}
	c.inTxn = true
	return nil
}

func (c *sqlConn) Commit(ctx context.Context) error {
	return c.end(ctx, "COMMIT")
}

func (c *sqlConn) Rollback(ctx context.Context) error {
	return c.end(ctx, "ROLLBACK")
}

func (c *sqlConn) end(ctx context.Context, stmt string) error {
	if c.dialect.trackTxn && !c.inTxn {
		return nil
	}
	c.inTxn = false
	_, err := c.conn.ExecContext(ctx, stmt)
	return err
}

func (c *sqlConn) Exec(ctx context.Context, text string) error {
	_, err := c.conn.ExecContext(ctx, text)
	return err
}

func (c *sqlConn) Select(ctx context.Context, text string, param int64) (int, error) {
	stmt, err := c.prepare(ctx, text)
	if err != nil {
		return 0, err
	}

	var args []any
	if hasPlaceholder(text) {
		args = append(args, param)
	}

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	return n, nil
}

// prepare returns a cached prepared statement for text.
func (c *sqlConn) prepare(ctx context.Context, text string) (*sql.Stmt, error) {
	if stmt, ok := c.stmts[text]; ok {
		return stmt, nil
	}
	stmt, err := c.conn.PrepareContext(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	c.stmts[text] = stmt
	return stmt, nil
}

func (c *sqlConn) Close() error {
	for text, stmt := range c.stmts {
		stmt.Close()
		delete(c.stmts, text)
	}
	return c.conn.Close()
}
