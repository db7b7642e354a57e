package sync

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailwatch/mailwatch/internal/mailbox"
	"github.com/mailwatch/mailwatch/internal/store"
)

// Resolver fetches full messages from the remote mailbox and normalizes
// them into materializable rows.
type Resolver struct {
	api mailbox.API
	log zerolog.Logger
}

// NewResolver creates a resolver backed by the given mailbox.
func NewResolver(api mailbox.API, log zerolog.Logger) *Resolver {
	return &Resolver{
		api: api,
		log: log.With().Str("component", "resolver").Logger(),
	}
}

// Resolve fetches and normalizes a single message. Safe to call for ids
// that are already materialized; the caller decides whether to persist.
func (r *Resolver) Resolve(ctx context.Context, id string) (*store.Email, error) {
	msg, err := r.api.GetMessage(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	email := Normalize(msg)
	return &email, nil
}

// Normalize extracts the header fields and plain-text body from a raw
// provider message. Missing headers yield empty strings; an unparseable
// Date header yields a nil receipt time.
func Normalize(msg *mailbox.Message) store.Email {
	return store.Email{
		ID:         msg.ID,
		Sender:     headerValue(msg.Headers, "From"),
		Recipient:  headerValue(msg.Headers, "To"),
		Subject:    headerValue(msg.Headers, "Subject"),
		Body:       extractBody(msg.Payload),
		ReceivedAt: parseDate(headerValue(msg.Headers, "Date")),
	}
}

// headerValue returns the value of the first header matching name exactly.
func headerValue(headers []mailbox.Header, name string) string {
	for _, h := range headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// parseDate parses an RFC 5322 date header. Malformed or empty input is
// not an error; it degrades to a nil timestamp.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := mail.ParseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

// extractBody walks the MIME part tree in pre-order and reduces the first
// part carrying a payload to plain text. That part is terminal: a payload
// that strips down to nothing still ends the search, later parts are never
// considered.
func extractBody(part *mailbox.Part) string {
	text, _ := firstPayload(part)
	return text
}

func firstPayload(part *mailbox.Part) (string, bool) {
	if part == nil {
		return "", false
	}
	if part.Data != "" {
		return HTMLToText(decodeTransport(part.Data)), true
	}
	for _, p := range part.Parts {
		if text, ok := firstPayload(p); ok {
			return text, true
		}
	}
	return "", false
}

// decodeTransport decodes a part body from its base64url transport
// encoding. Providers are inconsistent about padding and alphabet, so both
// variants are accepted.
func decodeTransport(data string) string {
	trimmed := strings.TrimRight(data, "=")
	if b, err := base64.RawURLEncoding.DecodeString(trimmed); err == nil {
		return string(b)
	}
	if b, err := base64.RawStdEncoding.DecodeString(trimmed); err == nil {
		return string(b)
	}
	return ""
}

var (
	styleRe  = regexp.MustCompile(`(?is)<style.*?</style>`)
	scriptRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// HTMLToText reduces an HTML fragment to plain text: style and script
// blocks go first, then remaining tags, then whitespace runs collapse to
// single spaces and the result is trimmed. Plain-text input passes through
// with only the whitespace normalization.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}
	text := styleRe.ReplaceAllString(html, "")
	text = scriptRe.ReplaceAllString(text, "")
	text = tagRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
