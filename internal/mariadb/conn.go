// Package mariadb is the thin database/sql wrapper internal/wbase uses to
// run chunk/sub-chunk task statements against a MariaDB instance and to
// interrupt them via KILL QUERY. Grounded on
// original_source/src/sql/testSqlConnection.cc for the connection-pool and
// thread-id/KILL QUERY pattern; no pack example repo talks to MariaDB, so
// this is built directly on database/sql + the mysql driver
// (SPEC_FULL.md §3.3).
package mariadb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Config names one MariaDB endpoint and pool sizing, matching spec.md
// §6's sqlconnections group.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Pool wraps a *sql.DB for one MariaDB instance.
type Pool struct {
	db *sql.DB
}

// Open dials MariaDB and configures pool limits.
func Open(cfg Config) (*Pool, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mariadb: open %s: %w", cfg.DSN, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Pool{db: db}, nil
}

// Close releases the pool's connections.
func (p *Pool) Close() error {
	return p.db.Close()
}

// Conn is one checked-out connection, with its MariaDB thread id cached so
// Kill can issue KILL QUERY from a different connection.
type Conn struct {
	conn     *sql.Conn
	threadID int64
}

// Acquire checks out a connection and reads its CONNECTION_ID().
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	c, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("mariadb: acquire connection: %w", err)
	}
	var id int64
	if err := c.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&id); err != nil {
		c.Close()
		return nil, fmt.Errorf("mariadb: read connection id: %w", err)
	}
	return &Conn{conn: c, threadID: id}, nil
}

// ThreadID returns this connection's MariaDB thread id.
func (c *Conn) ThreadID() int64 { return c.threadID }

// Query runs stmt and returns rows, column names, and any error.
func (c *Conn) Query(ctx context.Context, stmt string) (*sql.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("mariadb: query: %w", err)
	}
	return rows, nil
}

// Release returns the connection to the pool.
func (c *Conn) Release() error {
	return c.conn.Close()
}

// Exec runs stmt directly against the pool (no specific connection pinned),
// for result-table DDL/DML that doesn't need a cancellable thread id.
func (p *Pool) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	res, err := p.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("mariadb: exec: %w", err)
	}
	return res, nil
}

// Kill issues KILL QUERY <threadID> from a fresh connection, interrupting
// whatever statement that thread is currently executing. Used by a task's
// Cancel to stop an in-flight query without waiting for it to finish.
func (p *Pool) Kill(ctx context.Context, threadID int64) error {
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("KILL QUERY %d", threadID))
	if err != nil {
		return fmt.Errorf("mariadb: kill query %d: %w", threadID, err)
	}
	return nil
}
