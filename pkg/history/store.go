package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/notifyhub/notifyhub/pkg/notify"
)

// DefaultRetentionLimit is how many notifications the history keeps before
// trimming the oldest.
const DefaultRetentionLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    read INTEGER NOT NULL DEFAULT 0,
    read_rank INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_notifications_created_at
    ON notifications(created_at);

CREATE INDEX IF NOT EXISTS idx_notifications_read_rank
    ON notifications(read_rank);
`

// Snapshot pairs the full ordered history with the unread count, so a caller
// can update both its list view and its badge from one call.
type Snapshot struct {
	Records []notify.NotificationRecord
	Unread  int
}

// Store is the durable, ordered, deduplicated notification history on one
// device. The background receiver and every open session share it; each
// mutation runs in its own sqlite transaction so concurrent writers from
// separate contexts never observe a partial record.
type Store struct {
	db    *sqlx.DB
	limit int
}

// Open opens (or creates) the history database at dbPath with WAL mode
// enabled. limit is the retention cap; zero means DefaultRetentionLimit.
func Open(dbPath string, limit int) (*Store, error) {
	if limit <= 0 {
		limit = DefaultRetentionLimit
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	// WAL keeps readers unblocked while another context writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, limit: limit}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends rec to the history. Inserting an id that is already present
// is a no-op, not an overwrite, so at-least-once push delivery stays
// idempotent. When the insert pushes the history past the retention limit,
// the oldest records by created_at are trimmed in the same transaction.
func (s *Store) Insert(ctx context.Context, rec notify.NotificationRecord) (Snapshot, error) {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshaling payload for %s: %w", rec.ID, err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO notifications (
			id, title, body, category, created_at, read, read_rank, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Body, rec.Category,
		rec.CreatedAt.UTC(), boolToInt(rec.Read), boolToInt(rec.Read), string(payload),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("inserting notification %s: %w", rec.ID, err)
	}

	// Retention trim runs inside the insert transaction so two contexts
	// inserting at once cannot both skip it.
	_, err = tx.ExecContext(ctx, `
		DELETE FROM notifications WHERE id NOT IN (
			SELECT id FROM notifications ORDER BY created_at DESC, id DESC LIMIT ?
		)`, s.limit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("trimming history: %w", err)
	}

	snap, err := snapshot(ctx, tx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("committing insert: %w", err)
	}
	return snap, nil
}

// MarkRead marks one notification read. Marking an unknown or already-read
// id is a no-op.
func (s *Store) MarkRead(ctx context.Context, id string) (Snapshot, error) {
	return s.mutate(ctx, "UPDATE notifications SET read = 1, read_rank = 1 WHERE id = ?", id)
}

// MarkAllRead marks every notification read.
func (s *Store) MarkAllRead(ctx context.Context) (Snapshot, error) {
	return s.mutate(ctx, "UPDATE notifications SET read = 1, read_rank = 1 WHERE read = 0")
}

// Delete removes one notification by id.
func (s *Store) Delete(ctx context.Context, id string) (Snapshot, error) {
	return s.mutate(ctx, "DELETE FROM notifications WHERE id = ?", id)
}

// Clear removes the entire history.
func (s *Store) Clear(ctx context.Context) (Snapshot, error) {
	return s.mutate(ctx, "DELETE FROM notifications")
}

func (s *Store) mutate(ctx context.Context, query string, args ...interface{}) (Snapshot, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return Snapshot{}, fmt.Errorf("mutating history: %w", err)
	}

	snap, err := snapshot(ctx, tx)
	if err != nil {
		return Snapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return Snapshot{}, fmt.Errorf("committing mutation: %w", err)
	}
	return snap, nil
}

// List returns the history, most recent first, with the unread count. When
// the database is unavailable the result degrades to an empty snapshot and
// the failure is logged; rendering an empty list beats crashing a session.
func (s *Store) List(ctx context.Context) Snapshot {
	snap, err := snapshot(ctx, s.db)
	if err != nil {
		log.Printf("Failed to read notification history, degrading to empty: %v", err)
		return Snapshot{}
	}
	return snap
}

// UnreadCount returns the number of unread notifications, 0 on read failure.
func (s *Store) UnreadCount(ctx context.Context) int {
	var count int
	err := sqlx.GetContext(ctx, s.db, &count,
		"SELECT COUNT(*) FROM notifications WHERE read_rank = 0")
	if err != nil {
		log.Printf("Failed to count unread notifications, degrading to 0: %v", err)
		return 0
	}
	return count
}

func snapshot(ctx context.Context, q sqlx.QueryerContext) (Snapshot, error) {
	rows, err := q.QueryxContext(ctx, `
		SELECT id, title, body, category, created_at, read, payload
		FROM notifications ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("querying history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := Snapshot{Records: []notify.NotificationRecord{}}
	for rows.Next() {
		var (
			rec         notify.NotificationRecord
			createdAt   time.Time
			readInt     int
			payloadJSON string
		)
		err := rows.Scan(&rec.ID, &rec.Title, &rec.Body, &rec.Category,
			&createdAt, &readInt, &payloadJSON)
		if err != nil {
			return Snapshot{}, fmt.Errorf("scanning notification row: %w", err)
		}
		rec.CreatedAt = createdAt
		rec.Read = readInt != 0
		rec.ReadRank = readInt
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
				return Snapshot{}, fmt.Errorf("unmarshaling payload for %s: %w", rec.ID, err)
			}
		}
		snap.Records = append(snap.Records, rec)
		if !rec.Read {
			snap.Unread++
		}
	}
	return snap, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
