package audit

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	cosmos "github.com/nebulalabs/cosmos"
)

//go:embed schema.sql
var schemaSQL string

// ArchiveConfig configures the on-disk audit archive.
type ArchiveConfig struct {
	// DSN is the SQLite data source name, e.g. "file:audit.db" or
	// ":memory:" for tests.
	DSN string

	// RetentionAge drops archived events older than this. Zero keeps
	// events forever. Generation records are never pruned.
	RetentionAge time.Duration

	// RetentionCount caps the total number of archived events. Zero
	// means unbounded.
	RetentionCount int

	// PruneInterval is how often the background pruner runs when any
	// retention limit is set. Defaults to one hour.
	PruneInterval time.Duration

	// Logger receives prune failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Archive persists bus events and finalized generation records to
// SQLite so provenance survives process restarts. The in-memory
// Logger stays the source of truth for live queries; the archive is
// the durable trail behind it.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger

	retentionAge   time.Duration
	retentionCount int

	stopPrune chan struct{}
	pruneDone chan struct{}
}

// NewArchive opens (and if needed creates) the archive database at
// cfg.DSN, applies the schema, and starts the background pruner when
// a retention limit is configured.
func NewArchive(cfg ArchiveConfig) (*Archive, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit: archive DSN is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pruneInterval := cfg.PruneInterval
	if pruneInterval <= 0 {
		pruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: open archive: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: enable WAL: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: apply schema: %w", err)
	}

	a := &Archive{
		db:             db,
		logger:         logger,
		retentionAge:   cfg.RetentionAge,
		retentionCount: cfg.RetentionCount,
	}
	if a.retentionAge > 0 || a.retentionCount > 0 {
		a.stopPrune = make(chan struct{})
		a.pruneDone = make(chan struct{})
		go a.pruneLoop(pruneInterval)
	}
	return a, nil
}

// AppendEvent stores one event. The full wire form goes into the data
// column; seq, kind, origin and time are duplicated for querying.
func (a *Archive) AppendEvent(ctx context.Context, ev cosmos.Event, receivedAt time.Time) error {
	data, err := cosmos.MarshalEvent(ev)
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO events (seq, kind, origin, time, received_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Seq,
		string(ev.Kind),
		ev.Origin,
		ev.Time.UTC().Format(time.RFC3339Nano),
		receivedAt.UTC().Format(time.RFC3339Nano),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// SaveRecord upserts a finalized generation record keyed by edition.
// Re-finalizing an edition overwrites the prior row.
func (a *Archive) SaveRecord(ctx context.Context, rec cosmos.GenerationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: encode record: %w", err)
	}
	completed := ""
	if !rec.CompletedAt.IsZero() {
		completed = rec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO generation_records (edition, seed, completed_at, data)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(edition) DO UPDATE SET
		   seed = excluded.seed,
		   completed_at = excluded.completed_at,
		   data = excluded.data`,
		rec.Edition, rec.Seed, completed, string(data),
	)
	if err != nil {
		return fmt.Errorf("audit: upsert record: %w", err)
	}
	return nil
}

// Events returns archived events in insertion order. A non-empty kind
// filters to that kind; limit caps the result when positive. Rows
// written by a newer build with kinds this build does not know are
// skipped rather than failing the whole read.
func (a *Archive) Events(ctx context.Context, kind cosmos.Kind, limit int) ([]cosmos.Event, error) {
	query := `SELECT data FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var out []cosmos.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		ev, err := cosmos.UnmarshalEvent([]byte(data))
		if err != nil {
			if errors.Is(err, cosmos.ErrUnknownKind) {
				continue
			}
			return nil, fmt.Errorf("audit: decode archived event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return out, nil
}

// Records returns archived generation records ordered by edition.
func (a *Archive) Records(ctx context.Context) ([]cosmos.GenerationRecord, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT data FROM generation_records ORDER BY edition ASC`)
	if err != nil {
		return nil, fmt.Errorf("audit: query records: %w", err)
	}
	defer rows.Close()

	var out []cosmos.GenerationRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		var rec cosmos.GenerationRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("audit: decode archived record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}
	return out, nil
}

// EventCount reports the number of archived events.
func (a *Archive) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count events: %w", err)
	}
	return n, nil
}

// Prune applies the configured retention limits once: first dropping
// events older than RetentionAge, then trimming to the newest
// RetentionCount rows.
func (a *Archive) Prune(ctx context.Context) error {
	if a.retentionAge > 0 {
		cutoff := time.Now().Add(-a.retentionAge).UTC().Format(time.RFC3339Nano)
		if _, err := a.db.ExecContext(ctx,
			`DELETE FROM events WHERE time < ?`, cutoff); err != nil {
			return fmt.Errorf("audit: prune by age: %w", err)
		}
	}
	if a.retentionCount > 0 {
		if _, err := a.db.ExecContext(ctx,
			`DELETE FROM events WHERE id NOT IN (
			   SELECT id FROM events ORDER BY id DESC LIMIT ?
			 )`, a.retentionCount); err != nil {
			return fmt.Errorf("audit: prune by count: %w", err)
		}
	}
	return nil
}

func (a *Archive) pruneLoop(interval time.Duration) {
	defer close(a.pruneDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopPrune:
			return
		case <-ticker.C:
			if err := a.Prune(context.Background()); err != nil {
				a.logger.Error("audit archive prune failed", "error", err)
			}
		}
	}
}

// Close stops the pruner and closes the database.
func (a *Archive) Close() error {
	if a.stopPrune != nil {
		close(a.stopPrune)
		<-a.pruneDone
		a.stopPrune = nil
	}
	return a.db.Close()
}
