// Package db wraps the replicated catalog engine: a SQLite-dialect database
// reached through read leases and prioritized write leases, with an on-demand
// change feed for subscribers.
package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Value is a single SQL cell as seen by row readers and subscribers.
type Value struct {
	Text string
	Null bool
}

// Statement is one parameterized SQL statement produced by the catalog
// builders and executed inside a transaction.
type Statement struct {
	SQL    string
	Params []any
}

type writeReq struct {
	granted chan struct{}
	done    chan struct{}
}

// SplitPool hands out read and write leases over one database. Reads run
// concurrently; writes are serialized through a single token, with priority
// waiters granted before normal ones so connect/disconnect bookkeeping is
// not starved by request load.
type SplitPool struct {
	db *sql.DB

	prio   chan writeReq
	normal chan writeReq
	closed chan struct{}
}

// Open opens the database at path and starts the write dispatcher.
func Open(path string) (*SplitPool, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", path, err)
	}

	p := &SplitPool{
		db:     d,
		prio:   make(chan writeReq),
		normal: make(chan writeReq),
		closed: make(chan struct{}),
	}
	go p.dispatch()
	return p, nil
}

// Setup executes schema DDL.
func (p *SplitPool) Setup(ctx context.Context, schema string) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("db: setup schema: %w", err)
	}
	return nil
}

// dispatch owns the single write token. Priority requests are drained before
// normal ones are even considered.
func (p *SplitPool) dispatch() {
	for {
		select {
		case r := <-p.prio:
			p.grant(r)
		default:
			select {
			case r := <-p.prio:
				p.grant(r)
			case r := <-p.normal:
				p.grant(r)
			case <-p.closed:
				return
			}
		}
	}
}

func (p *SplitPool) grant(r writeReq) {
	r.granted <- struct{}{}
	<-r.done
}

// Read leases a connection for queries.
func (p *SplitPool) Read(ctx context.Context) (*Lease, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: read lease: %w", err)
	}
	return &Lease{conn: conn}, nil
}

// WriteNormal leases the write token for request-triggered transactions.
func (p *SplitPool) WriteNormal(ctx context.Context) (*Lease, error) {
	return p.write(ctx, p.normal)
}

// WritePriority leases the write token ahead of any normal waiters.
func (p *SplitPool) WritePriority(ctx context.Context) (*Lease, error) {
	return p.write(ctx, p.prio)
}

func (p *SplitPool) write(ctx context.Context, queue chan writeReq) (*Lease, error) {
	r := writeReq{granted: make(chan struct{}, 1), done: make(chan struct{})}

	select {
	case queue <- r:
	case <-p.closed:
		return nil, fmt.Errorf("db: pool closed")
	case <-ctx.Done():
		return nil, fmt.Errorf("db: write lease: %w", ctx.Err())
	}

	select {
	case <-r.granted:
	case <-ctx.Done():
		// The dispatcher may have granted concurrently; releasing done lets
		// it move on either way.
		close(r.done)
		return nil, fmt.Errorf("db: write lease: %w", ctx.Err())
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		close(r.done)
		return nil, fmt.Errorf("db: write lease: %w", err)
	}
	return &Lease{conn: conn, release: func() { close(r.done) }}, nil
}

// Close shuts the dispatcher down and closes the database.
func (p *SplitPool) Close() error {
	close(p.closed)
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	return nil
}

// Lease is a borrowed connection. Write leases also hold the write token
// until released.
type Lease struct {
	conn    *sql.Conn
	release func()
}

func (l *Lease) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return l.conn.ExecContext(ctx, query, args...)
}

func (l *Lease) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return l.conn.QueryContext(ctx, query, args...)
}

func (l *Lease) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return l.conn.QueryRowContext(ctx, query, args...)
}

// Begin opens a transaction on the leased connection.
func (l *Lease) Begin(ctx context.Context) (*sql.Tx, error) {
	return l.conn.BeginTx(ctx, nil)
}

// Release returns the connection and, for write leases, the write token.
func (l *Lease) Release() {
	_ = l.conn.Close()
	if l.release != nil {
		l.release()
		l.release = nil
	}
}

// ExecAll runs every statement inside one transaction on the leased
// connection, returning the summed rows affected.
func ExecAll(ctx context.Context, lease *Lease, stmts []Statement) (uint64, error) {
	tx, err := lease.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("db: begin: %w", err)
	}

	var rows uint64
	for _, stmt := range stmts {
		res, err := tx.ExecContext(ctx, stmt.SQL, stmt.Params...)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("db: exec %q: %w", stmt.SQL, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			rows += uint64(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db: commit: %w", err)
	}
	return rows, nil
}
