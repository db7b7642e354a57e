// Package mailbox defines the provider-agnostic contract for a remote
// mailbox exposing a change-log (history) feed alongside message reads.
package mailbox

import "context"

// ChangeKind classifies a single entry in the remote change feed.
type ChangeKind string

const (
	// ChangeAdded marks a message newly added to the mailbox. This is the
	// only kind the sync engine materializes; everything else (label
	// changes, deletions) is discarded upstream.
	ChangeAdded ChangeKind = "ADDED"
	// ChangeDeleted marks a message removed from the mailbox.
	ChangeDeleted ChangeKind = "DELETED"
	// ChangeLabeled marks a label/folder mutation on an existing message.
	ChangeLabeled ChangeKind = "LABELED"
)

// ChangeRecord is one entry in the remote history feed. Records only live
// for the duration of a single sync pass and are never persisted.
type ChangeRecord struct {
	MessageID string
	Kind      ChangeKind
}

// ChangePage is one page of the change feed. NextPageToken is empty on the
// final page.
type ChangePage struct {
	Records       []ChangeRecord
	NextPageToken string
}

// MessagePage is one page of a plain message listing (used for backfill).
type MessagePage struct {
	IDs           []string
	NextPageToken string
}

// Header is a single raw message header as delivered by the provider.
// Order matters: extraction takes the first header matching a name.
type Header struct {
	Name  string
	Value string
}

// Part is a node in a message's MIME part tree. Data carries the part body
// in its base64url transport encoding, exactly as the provider returned it;
// decoding is the resolver's job.
type Part struct {
	MIMEType string
	Data     string
	Parts    []*Part
}

// Message is a full message as fetched from the provider: raw headers plus
// the MIME payload tree.
type Message struct {
	ID      string
	Headers []Header
	Payload *Part
}

// API is the remote mailbox collaborator. Implementations wrap a concrete
// provider (Gmail, Microsoft Graph); the sync core only sees this interface.
type API interface {
	// ListChanges returns one page of change records recorded after
	// startToken. Pass the previous page's NextPageToken to continue;
	// an empty pageToken requests the first page.
	ListChanges(ctx context.Context, startToken, pageToken string) (*ChangePage, error)

	// GetMessage fetches a full message by provider id.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// CurrentPosition returns the provider's current change-log position,
	// usable as a startToken for future ListChanges calls.
	CurrentPosition(ctx context.Context) (string, error)

	// ListMessages returns one page of message ids matching the provider
	// query (used only for snapshot backfill).
	ListMessages(ctx context.Context, query, pageToken string) (*MessagePage, error)
}
