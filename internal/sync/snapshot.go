package sync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mailwatch/mailwatch/internal/mailbox"
	"github.com/mailwatch/mailwatch/internal/store"
)

// DefaultBackfillQuery bounds the one-time backfill to the same window the
// engine's age filter admits.
const DefaultBackfillQuery = "newer_than:30d"

// Snapshot is one page of the materialized history.
type Snapshot struct {
	Total    int           `json:"total"`
	Emails   []store.Email `json:"emails"`
	Finished bool          `json:"finished"`
}

// SnapshotReader serves paged reads over the materialized history table.
// An empty store triggers a one-time remote backfill; a populated store is
// always served directly, never re-scanned.
type SnapshotReader struct {
	API           mailbox.API
	Store         *store.Store
	Resolver      *Resolver
	Log           zerolog.Logger
	BackfillQuery string
}

// NewSnapshotReader creates a reader with the default backfill window.
func NewSnapshotReader(api mailbox.API, st *store.Store, log zerolog.Logger) *SnapshotReader {
	return &SnapshotReader{
		API:           api,
		Store:         st,
		Resolver:      NewResolver(api, log),
		Log:           log.With().Str("component", "snapshot").Logger(),
		BackfillQuery: DefaultBackfillQuery,
	}
}

// Page returns the offset/limit slice of stored history. When the store
// already holds rows and no sinceMarker is given, rows are served newest
// first straight from the store. Otherwise the reader backfills from the
// remote listing before serving, ordered oldest first.
func (r *SnapshotReader) Page(ctx context.Context, offset, limit int, sinceMarker string) (*Snapshot, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultDeltaLimit
	}

	total, err := r.Store.CountMessages(ctx)
	if err != nil {
		return nil, err
	}

	if total > 0 && sinceMarker == "" {
		emails, err := r.Store.ListMessages(ctx, offset, limit, store.Desc)
		if err != nil {
			return nil, err
		}
		return r.snapshot(total, offset, emails), nil
	}

	if err := r.backfill(ctx); err != nil {
		return nil, err
	}

	emails, err := r.Store.ListMessages(ctx, offset, limit, store.Asc)
	if err != nil {
		return nil, err
	}
	total, err = r.Store.CountMessages(ctx)
	if err != nil {
		return nil, err
	}

	return r.snapshot(total, offset, emails), nil
}

// backfill lists every remote message inside the backfill window, resolves
// the ones not yet known and materializes them. Resolution failures skip
// the message; listing failures abort.
func (r *SnapshotReader) backfill(ctx context.Context) error {
	var ids []string
	pageToken := ""
	for {
		page, err := r.API.ListMessages(ctx, r.BackfillQuery, pageToken)
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		ids = append(ids, page.IDs...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	known, err := r.Store.KnownIDs(ctx)
	if err != nil {
		return err
	}

	stored := 0
	for _, id := range ids {
		if known[id] {
			continue
		}
		email, err := r.Resolver.Resolve(ctx, id)
		if err != nil {
			r.Log.Warn().Err(err).Str("message_id", id).Msg("skipping unresolvable message")
			continue
		}
		if _, err := r.Store.SaveMessage(ctx, *email, nil); err != nil {
			return err
		}
		stored++
	}

	r.Log.Info().Int("listed", len(ids)).Int("stored", stored).Msg("backfill complete")
	return nil
}

func (r *SnapshotReader) snapshot(total, offset int, emails []store.Email) *Snapshot {
	if emails == nil {
		emails = []store.Email{}
	}
	return &Snapshot{
		Total:    total,
		Emails:   emails,
		Finished: offset+len(emails) >= total,
	}
}
