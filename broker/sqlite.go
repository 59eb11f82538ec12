package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultSqlitePath is used when no path is configured
const DefaultSqlitePath = "/var/lib/alprd/jobs.db"

const reservePollInterval = 50 * time.Millisecond

// SqliteDialer is a durable in-process broker stored in one sqlite file
type SqliteDialer struct {
	db  *sql.DB
	ttr time.Duration
}

// NewSqliteDialer opens or creates the job database
func NewSqliteDialer(path string, ttr time.Duration) (*SqliteDialer, error) {
	if path == "" {
		path = DefaultSqlitePath
	}
	if ttr <= 0 {
		ttr = DefaultTTR
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer at a time avoids SQLITE_BUSY between workers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	d := &SqliteDialer{db: db, ttr: ttr}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SqliteDialer) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			body BLOB NOT NULL,
			state INTEGER NOT NULL DEFAULT 0,
			reserved_until INTEGER NOT NULL DEFAULT 0,
			releases INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_channel_state ON jobs(channel, state, id)`,
	}
	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

// Dial implements Dialer
func (d *SqliteDialer) Dial(ctx context.Context) (Conn, error) {
	if err := d.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &sqliteConn{dialer: d, used: "default", watched: []string{"default"}}, nil
}

// Close implements Dialer
func (d *SqliteDialer) Close() error {
	return d.db.Close()
}

// Counts returns job counts by state, expired reservations count as ready
func (d *SqliteDialer) Counts(ctx context.Context) (stats MemoryStats, err error) {
	now := time.Now().UnixMilli()
	rows, err := d.db.QueryContext(ctx,
		`SELECT CASE WHEN state = ? AND reserved_until <= ? THEN ? ELSE state END AS s, COUNT(*)
		FROM jobs GROUP BY s`, stateReserved, now, stateReady)
	if err != nil {
		return stats, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state jobState
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("failed to scan count: %w", err)
		}
		switch state {
		case stateReady:
			stats.Ready += count
		case stateReserved:
			stats.Reserved += count
		case stateBuried:
			stats.Buried += count
		}
	}
	return stats, rows.Err()
}

type sqliteConn struct {
	dialer  *SqliteDialer
	used    string
	watched []string
	closed  bool
}

func (c *sqliteConn) Use(channel string) error {
	if c.closed {
		return ErrClosed
	}
	c.used = channel
	return nil
}

func (c *sqliteConn) Put(body []byte) (uint64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	result, err := c.dialer.db.Exec(`INSERT INTO jobs (channel, body, state, created_at) VALUES (?, ?, ?, ?)`,
		c.used, body, stateReady, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read job id: %w", err)
	}
	return uint64(id), nil
}

func (c *sqliteConn) Watch(channel string) error {
	if c.closed {
		return ErrClosed
	}
	c.watched = []string{channel}
	return nil
}

func (c *sqliteConn) Reserve(timeout time.Duration) (Job, error) {
	if c.closed {
		return Job{}, ErrClosed
	}
	deadline := time.Now().Add(timeout)
	for {
		job, err := c.take()
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Job{}, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Job{}, ErrTimeout
		}
		if remaining > reservePollInterval {
			remaining = reservePollInterval
		}
		time.Sleep(remaining)
	}
}

func (c *sqliteConn) take() (job Job, err error) {
	now := time.Now()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(c.watched)), ",")
	args := []interface{}{stateReserved, now.Add(c.dialer.ttr).UnixMilli()}
	for _, channel := range c.watched {
		args = append(args, channel)
	}
	args = append(args, stateReady, stateReserved, now.UnixMilli())
	query := `UPDATE jobs SET state = ?, reserved_until = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE channel IN (` + placeholders + `)
			AND (state = ? OR (state = ? AND reserved_until <= ?))
			ORDER BY id LIMIT 1
		)
		RETURNING id, body, releases`
	row := c.dialer.db.QueryRow(query, args...)
	var id int64
	if err = row.Scan(&id, &job.Body, &job.Releases); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		err = fmt.Errorf("failed to reserve job: %w", err)
		return
	}
	job.ID = uint64(id)
	return
}

func (c *sqliteConn) exec(query string, args ...interface{}) error {
	if c.closed {
		return ErrClosed
	}
	result, err := c.dialer.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *sqliteConn) Delete(id uint64) error {
	return c.exec(`DELETE FROM jobs WHERE id = ? AND state = ?`, int64(id), stateReserved)
}

func (c *sqliteConn) Release(job Job) error {
	return c.exec(`UPDATE jobs SET state = ?, reserved_until = 0, releases = releases + 1 WHERE id = ? AND state = ?`,
		stateReady, int64(job.ID), stateReserved)
}

func (c *sqliteConn) Bury(job Job) error {
	return c.exec(`UPDATE jobs SET state = ?, reserved_until = 0 WHERE id = ? AND state = ?`,
		stateBuried, int64(job.ID), stateReserved)
}

func (c *sqliteConn) Close() error {
	c.closed = true
	return nil
}
