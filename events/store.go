// Package events keeps a log of gate events reported by the agent in MySQL.
package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blockloop/scan/v2"
	"github.com/go-sql-driver/mysql"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

var ErrEmptyEvent = errors.New("event name is empty")

type Event struct {
	ID         int64     `db:"id" json:"id"`
	Event      string    `db:"event" json:"event"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to MySQL. Time parsing is forced on so received_at scans
// into time.Time regardless of the DSN the operator supplied.
func Open(uri string) (*Store, error) {
	dsn, err := mysql.ParseDSN(uri)
	if err != nil {
		return nil, fmt.Errorf("parse database uri: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)

	return NewStore(db), nil
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (store *Store) Close() error {
	return store.db.Close()
}

func (store *Store) Ping(ctx context.Context) error {
	return store.db.PingContext(ctx)
}

const schema = `CREATE TABLE IF NOT EXISTS gate_events (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	event VARCHAR(64) NOT NULL,
	received_at DATETIME(3) NOT NULL,
	INDEX idx_gate_events_received_at (received_at)
)`

func (store *Store) EnsureSchema(ctx context.Context) error {
	if _, err := store.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create gate_events: %w", err)
	}
	return nil
}

func (store *Store) Record(ctx context.Context, name string) (Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Event{}, ErrEmptyEvent
	}

	event := Event{Event: name, ReceivedAt: store.now().UTC().Truncate(time.Millisecond)}
	result, err := store.db.ExecContext(ctx,
		"INSERT INTO gate_events (event, received_at) VALUES (?, ?)",
		event.Event, event.ReceivedAt,
	)
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	event.ID, err = result.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// Recent returns up to limit events, newest first.
func (store *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := store.db.QueryContext(ctx,
		"SELECT id, event, received_at FROM gate_events ORDER BY id DESC LIMIT ?",
		ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	if err := scan.Rows(&events, rows); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return events, nil
}

// ClampLimit maps non-positive limits to DefaultLimit and caps the rest at
// MaxLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
