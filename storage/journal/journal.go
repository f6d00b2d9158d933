// Package journal persists the timeline of lifecycle requests in SQLite. It
// is an audit trail only: gig state is always read from the ledger.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"rozgar/native/gig"
)

// Stage is the progress of one request.
type Stage string

const (
	StageSubmitted Stage = "submitted"
	StageConfirmed Stage = "confirmed"
	StageFailed    Stage = "failed"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("journal: closed")

// Entry is one timeline row.
type Entry struct {
	ID    string
	GigID uint64
	// EventType is one of the gig.EventType* constants.
	EventType   string
	Stage       Stage
	TxHash      string
	Actor       gig.Address
	BlockNumber uint64
	Detail      string
	RecordedAt  time.Time
}

// Description is the human text for the entry's event.
func (e Entry) Description() string {
	return gig.EventDescription(e.EventType)
}

// Journal is a SQLite-backed timeline store. It is safe for concurrent use.
type Journal struct {
	db    *sql.DB
	nowFn func() time.Time
}

// Open opens or creates the journal at path. ":memory:" gives a private
// in-memory journal.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	j := &Journal{db: db, nowFn: time.Now}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) init() error {
	schema := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS timeline (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            gig_id INTEGER NOT NULL,
            event_type TEXT NOT NULL,
            stage TEXT NOT NULL,
            tx_hash TEXT,
            actor TEXT NOT NULL,
            block_number INTEGER NOT NULL DEFAULT 0,
            detail TEXT,
            recorded_at TIMESTAMP NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS timeline_gig ON timeline (gig_id, seq);`,
		`CREATE INDEX IF NOT EXISTS timeline_tx ON timeline (tx_hash);`,
	}
	for _, stmt := range schema {
		if _, err := j.db.Exec(stmt); err != nil {
			return fmt.Errorf("journal: init schema: %w", err)
		}
	}
	return nil
}

// Close releases the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends e, assigning its ID and timestamp when unset.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if j == nil || j.db == nil {
		return Entry{}, ErrClosed
	}
	if strings.TrimSpace(e.EventType) == "" {
		return Entry{}, fmt.Errorf("journal: event type required")
	}
	switch e.Stage {
	case StageSubmitted, StageConfirmed, StageFailed:
	default:
		return Entry{}, fmt.Errorf("journal: unknown stage %q", e.Stage)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = j.nowFn().UTC()
	}
	const stmt = `INSERT INTO timeline (id, gig_id, event_type, stage, tx_hash, actor, block_number, detail, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, stmt,
		e.ID, e.GigID, e.EventType, string(e.Stage), e.TxHash, e.Actor.Hex(), e.BlockNumber, e.Detail, e.RecordedAt,
	); err != nil {
		return Entry{}, fmt.Errorf("journal: record: %w", err)
	}
	return e, nil
}

// AssignGig attaches gigID to every row of a creation transaction, which was
// journaled before the ledger assigned the id.
func (j *Journal) AssignGig(ctx context.Context, txHash string, gigID uint64) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	const stmt = `UPDATE timeline SET gig_id = ? WHERE tx_hash = ? AND gig_id = 0`
	if _, err := j.db.ExecContext(ctx, stmt, gigID, txHash); err != nil {
		return fmt.Errorf("journal: assign gig: %w", err)
	}
	return nil
}

// Timeline returns gigID's entries in the order they were recorded.
func (j *Journal) Timeline(ctx context.Context, gigID uint64) ([]Entry, error) {
	const query = `SELECT id, gig_id, event_type, stage, tx_hash, actor, block_number, detail, recorded_at
        FROM timeline WHERE gig_id = ? ORDER BY seq`
	return j.query(ctx, query, gigID)
}

// Pending returns submitted entries whose transaction has no confirmed or
// failed entry yet. These are requests whose outcome was never observed.
func (j *Journal) Pending(ctx context.Context) ([]Entry, error) {
	const query = `SELECT t.id, t.gig_id, t.event_type, t.stage, t.tx_hash, t.actor, t.block_number, t.detail, t.recorded_at
        FROM timeline t
        WHERE t.stage = 'submitted' AND t.tx_hash <> '' AND NOT EXISTS (
            SELECT 1 FROM timeline o WHERE o.tx_hash = t.tx_hash AND o.stage IN ('confirmed', 'failed'))
        ORDER BY t.seq`
	return j.query(ctx, query)
}

func (j *Journal) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			stage  string
			txHash sql.NullString
			actor  string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.GigID, &e.EventType, &stage, &txHash, &actor, &e.BlockNumber, &detail, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e.Stage = Stage(stage)
		e.TxHash = txHash.String
		e.Detail = detail.String
		if err := e.Actor.UnmarshalText([]byte(actor)); err != nil {
			return nil, fmt.Errorf("journal: decode actor %q: %w", actor, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
