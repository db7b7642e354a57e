// Package store is the durable side of the sync pipeline: cursor history,
// materialized messages and the event outbox, all in a single SQLite file.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLite database holding cursors, messages and outbox rows.
type Store struct {
	DB *sql.DB
}

// Open opens or creates the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{DB: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}

// LoadCursor returns the most recently updated cursor, or nil when no
// cursor has been saved yet. Ties on updated_at fall to the newest row.
func (s *Store) LoadCursor(ctx context.Context) (*Cursor, error) {
	var token string
	var updatedAt int64
	err := s.DB.QueryRowContext(ctx, `
		SELECT token, updated_at FROM cursors
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`).Scan(&token, &updatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load cursor: %w", err)
	}

	return &Cursor{Token: token, UpdatedAt: time.Unix(updatedAt, 0)}, nil
}

// SaveCursor records token as the current position. An unchanged token only
// has its timestamp refreshed, so saving is idempotent on collision.
func (s *Store) SaveCursor(ctx context.Context, token string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO cursors (token, updated_at) VALUES (?, ?)
		ON CONFLICT(token) DO UPDATE SET updated_at = excluded.updated_at
	`, token, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	return nil
}

// SaveMessage inserts a message, ignoring duplicates on id. When evt is
// non-nil and the message is new, the outbox row is written in the same
// transaction. Returns true only if a new row was inserted.
func (s *Store) SaveMessage(ctx context.Context, m Email, evt *OutboxEvent) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var receivedAt sql.NullInt64
	if m.ReceivedAt != nil {
		receivedAt = sql.NullInt64{Int64: m.ReceivedAt.Unix(), Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, sender, recipient, subject, body, received_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Sender, m.Recipient, m.Subject, m.Body, receivedAt, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		// Already materialized; nothing to publish.
		return false, tx.Commit()
	}

	if evt != nil {
		now := time.Now().Unix()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO outbox (ts, subject, event_type, payload, msg_id, next_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, now, evt.Subject, evt.EventType, evt.Payload, evt.MsgID, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert outbox entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// CountMessages returns the total number of materialized messages.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// ListMessages returns an offset/limit slice ordered by receipt time.
// Rows without a receipt time sort last in either direction.
func (s *Store) ListMessages(ctx context.Context, offset, limit int, order Order) ([]Email, error) {
	direction := "DESC"
	if order == Asc {
		direction = "ASC"
	}

	query := fmt.Sprintf(`
		SELECT id, sender, recipient, subject, body, received_at
		FROM messages
		ORDER BY received_at IS NULL, received_at %s, id %s
		LIMIT ? OFFSET ?
	`, direction, direction)

	rows, err := s.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var emails []Email
	for rows.Next() {
		var m Email
		var receivedAt sql.NullInt64
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Subject, &m.Body, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if receivedAt.Valid {
			t := time.Unix(receivedAt.Int64, 0)
			m.ReceivedAt = &t
		}
		emails = append(emails, m)
	}

	return emails, rows.Err()
}

// KnownIDs returns the set of already-materialized message ids.
func (s *Store) KnownIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("failed to query message ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan message id: %w", err)
		}
		ids[id] = true
	}

	return ids, rows.Err()
}

// DequeueOutbox fetches unpublished outbox rows that are due for delivery.
func (s *Store) DequeueOutbox(ctx context.Context, limit int) ([]OutboxMessage, error) {
	now := time.Now().Unix()

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, subject, payload, msg_id
		FROM outbox
		WHERE published_at IS NULL
		  AND next_attempt_at <= ?
		ORDER BY id
		LIMIT ?
	`, now, limit)

	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var messages []OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.Payload, &msg.MsgID); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkPublished marks an outbox row as delivered.
func (s *Store) MarkPublished(ctx context.Context, id int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox SET published_at = ? WHERE id = ?
	`, time.Now().Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark published: %w", err)
	}

	return nil
}

// MarkOutboxRetry bumps the retry count and schedules the next attempt.
func (s *Store) MarkOutboxRetry(ctx context.Context, id int64, backoff time.Duration) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE outbox
		SET retries = retries + 1,
		    next_attempt_at = ?
		WHERE id = ?
	`, time.Now().Add(backoff).Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark retry: %w", err)
	}

	return nil
}
