// Package sync implements incremental reconciliation between a remote
// mailbox change log and the local durable store: change-feed pagination,
// message resolution, idempotent materialization and cursor advancement.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailwatch/mailwatch/internal/mailbox"
	"github.com/mailwatch/mailwatch/internal/store"
)

const (
	// DefaultDeltaLimit caps the emails echoed back from one sync pass
	// when the caller does not specify a limit.
	DefaultDeltaLimit = 10

	// DefaultRetention is the age filter window: resolved messages older
	// than this are not admitted into the store.
	DefaultRetention = 30 * 24 * time.Hour
)

// ErrResolutionStalled reports a pass where the change feed produced work
// but not a single message could be resolved. The cursor is left untouched
// so the whole pass can be retried.
var ErrResolutionStalled = errors.New("sync: no message in the pass could be resolved")

// Delta is the result of one reconciliation pass.
type Delta struct {
	TotalNew int           `json:"totalNew"`
	Emails   []store.Email `json:"emails"`
	Cursor   string        `json:"cursor"`
}

// Engine drives one full reconciliation pass per Sync call: load cursor,
// drain the change feed, resolve and filter messages, persist, advance the
// cursor. Concurrent calls are not serialized here; see Manager.
type Engine struct {
	API       mailbox.API
	Store     *store.Store
	Resolver  *Resolver
	Log       zerolog.Logger
	Now       func() time.Time
	Retention time.Duration

	// Provider names the mailbox backend in event subjects. Events are
	// only emitted when PublishEvents is set.
	Provider      string
	PublishEvents bool
}

// NewEngine creates an engine with the default retention window.
func NewEngine(api mailbox.API, st *store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		API:       api,
		Store:     st,
		Resolver:  NewResolver(api, log),
		Log:       log.With().Str("component", "engine").Logger(),
		Now:       time.Now,
		Retention: DefaultRetention,
	}
}

// Sync runs one reconciliation pass and returns the newly materialized
// messages, at most limit of them echoed back (TotalNew counts all).
//
// With no stored cursor this is a cold start: the remote's current position
// becomes the baseline and the delta is empty. Pagination and store errors
// abort the pass with the cursor untouched; per-message resolution errors
// are logged and skipped.
func (e *Engine) Sync(ctx context.Context, limit int) (*Delta, error) {
	if limit <= 0 {
		limit = DefaultDeltaLimit
	}

	cursor, err := e.Store.LoadCursor(ctx)
	if err != nil {
		return nil, err
	}

	if cursor == nil {
		return e.coldStart(ctx)
	}

	records, err := DrainChanges(ctx, e.API, cursor.Token)
	if err != nil {
		return nil, err
	}

	fresh, err := e.resolveRecords(ctx, records)
	if err != nil {
		return nil, err
	}

	for _, email := range fresh {
		if _, err := e.Store.SaveMessage(ctx, email, e.event(email)); err != nil {
			return nil, err
		}
	}

	// The remote position may have moved while this pass ran; re-read it
	// so the next pass picks up anything recorded since cursor.Token.
	position, err := e.API.CurrentPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current position: %w", err)
	}
	if err := e.Store.SaveCursor(ctx, position); err != nil {
		return nil, err
	}

	e.Log.Info().
		Int("new", len(fresh)).
		Str("cursor", position).
		Msg("sync pass complete")

	echoed := fresh
	if len(echoed) > limit {
		echoed = echoed[:limit]
	}
	if echoed == nil {
		echoed = []store.Email{}
	}

	return &Delta{TotalNew: len(fresh), Emails: echoed, Cursor: position}, nil
}

// coldStart establishes the sync baseline: persist the remote's current
// position and return an empty delta. No messages are resolved.
func (e *Engine) coldStart(ctx context.Context) (*Delta, error) {
	position, err := e.API.CurrentPosition(ctx)
	if err != nil {
		return nil, fmt.Errorf("read current position: %w", err)
	}
	if err := e.Store.SaveCursor(ctx, position); err != nil {
		return nil, err
	}

	e.Log.Info().Str("cursor", position).Msg("cursor initialized")

	return &Delta{TotalNew: 0, Emails: []store.Email{}, Cursor: position}, nil
}

// resolveRecords resolves each change record in discovery order and applies
// the age filter. Duplicate ids within the pass resolve once. Messages with
// no parseable receipt time are treated as too old.
func (e *Engine) resolveRecords(ctx context.Context, records []mailbox.ChangeRecord) ([]store.Email, error) {
	cutoff := e.Now().Add(-e.Retention)
	seen := make(map[string]bool, len(records))

	var fresh []store.Email
	resolved, failed := 0, 0

	for _, rec := range records {
		if seen[rec.MessageID] {
			continue
		}
		seen[rec.MessageID] = true

		email, err := e.Resolver.Resolve(ctx, rec.MessageID)
		if err != nil {
			failed++
			e.Log.Warn().Err(err).Str("message_id", rec.MessageID).Msg("skipping unresolvable message")
			continue
		}
		resolved++

		if email.ReceivedAt == nil || email.ReceivedAt.Before(cutoff) {
			continue
		}
		fresh = append(fresh, *email)
	}

	// A pass where everything failed to resolve must not advance the
	// cursor past the unprocessed work; surface it as retryable instead.
	if failed > 0 && resolved == 0 {
		return nil, ErrResolutionStalled
	}

	return fresh, nil
}

// event builds the outbox event row for a newly materialized message, or
// nil when event publishing is disabled.
func (e *Engine) event(email store.Email) *store.OutboxEvent {
	if !e.PublishEvents {
		return nil
	}

	var receivedAt int64
	if email.ReceivedAt != nil {
		receivedAt = email.ReceivedAt.Unix()
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event_id":    uuid.NewString(),
		"ts":          e.Now().Unix(),
		"provider":    e.Provider,
		"message_id":  email.ID,
		"sender":      email.Sender,
		"recipient":   email.Recipient,
		"subject":     email.Subject,
		"received_at": receivedAt,
	})

	return &store.OutboxEvent{
		Subject:   fmt.Sprintf("mail.%s.received", e.Provider),
		EventType: "mail.received",
		Payload:   payload,
		MsgID:     fmt.Sprintf("mail.received|%s|%s", e.Provider, email.ID),
	}
}
