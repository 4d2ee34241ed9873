package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/kazuhira-dev/apiary/internal/events"
	"github.com/kazuhira-dev/apiary/internal/resource"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	type          TEXT NOT NULL,
	ts            TIMESTAMP NOT NULL,
	resource_id   TEXT,
	reservation_id TEXT,
	allocation_id TEXT,
	pool_id       TEXT,
	reason        TEXT
);
CREATE TABLE IF NOT EXISTS resource_snapshots (
	resource_id   TEXT NOT NULL,
	ts            TIMESTAMP NOT NULL,
	type          TEXT NOT NULL,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	cpu_capacity  REAL, cpu_allocated REAL,
	mem_capacity  REAL, mem_allocated REAL,
	disk_capacity REAL, disk_allocated REAL,
	PRIMARY KEY (resource_id, ts)
);
`

// Store persists events and resource snapshots to SQLite, best-effort.
// Writes ride a buffered channel drained by a single goroutine; the
// allocation critical path never blocks on persistence. When the buffer is
// full the write is dropped and logged.
type Store struct {
	logger *zap.Logger
	db     *sql.DB
	path   string

	writes chan func(*sql.DB) error
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Open creates (or reopens) the store at the given path.
func Open(logger *zap.Logger, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		logger: logger.Named("store"),
		db:     db,
		path:   path,
		writes: make(chan func(*sql.DB) error, 256),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.writer()
	return s, nil
}

func (s *Store) writer() {
	defer close(s.done)
	for {
		select {
		case write := <-s.writes:
			if err := write(s.db); err != nil {
				// Best-effort: log, never propagate to callers.
				s.logger.Warn("Persistence write failed", zap.Error(err))
			}
		case <-s.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case write := <-s.writes:
					if err := write(s.db); err != nil {
						s.logger.Warn("Persistence write failed", zap.Error(err))
					}
				default:
					return
				}
			}
		}
	}
}

// enqueue submits a write without blocking; a full queue drops the write.
func (s *Store) enqueue(write func(*sql.DB) error) {
	select {
	case s.writes <- write:
	default:
		s.logger.Warn("Persistence queue full, dropping write")
	}
}

// RecordEvent persists one event asynchronously.
func (s *Store) RecordEvent(ev events.Event) {
	s.enqueue(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO events (type, ts, resource_id, reservation_id, allocation_id, pool_id, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(ev.Type), ev.Timestamp, ev.ResourceID, ev.ReservationID, ev.AllocationID, ev.PoolID, ev.Reason,
		)
		return err
	})
}

// SnapshotResources persists point-in-time rows for the given resources.
func (s *Store) SnapshotResources(resources []*resource.Resource) {
	now := time.Now()
	s.enqueue(func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		for _, res := range resources {
			if _, err := tx.Exec(
				`INSERT OR REPLACE INTO resource_snapshots
				 (resource_id, ts, type, name, status,
				  cpu_capacity, cpu_allocated, mem_capacity, mem_allocated, disk_capacity, disk_allocated)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				res.ID, now, string(res.Type), res.Name, string(res.Status),
				res.Capacity.CPU, res.Allocated.CPU,
				res.Capacity.MemoryMB, res.Allocated.MemoryMB,
				res.Capacity.DiskMB, res.Allocated.DiskMB,
			); err != nil {
				tx.Rollback()
				return err
			}
		}
		return tx.Commit()
	})
}

// Consume drains an event subscription into the store until the channel
// closes. Run it in its own goroutine.
func (s *Store) Consume(ch <-chan events.Event) {
	for ev := range ch {
		s.RecordEvent(ev)
	}
}

// EventCount returns the number of persisted events, for tests and status.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// Close stops the writer, flushing queued writes, and closes the database.
func (s *Store) Close() error {
	s.cancel()
	<-s.done
	return s.db.Close()
}
