// Package gmail adapts the Gmail API to the mailbox contract: the history
// feed backs the change log and message ids double as natural keys.
package gmail

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/mailwatch/mailwatch/internal/mailbox"
)

const (
	// historyPageSize keeps history pages small; the paginator drains
	// them all anyway.
	historyPageSize = 10
	listPageSize    = 100
)

// Credentials hold the OAuth2 client and refresh token for the mailbox.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
}

// Adapter implements mailbox.API on top of Gmail.
type Adapter struct {
	svc *gmailapi.Service
}

// New builds a Gmail-backed adapter from offline credentials.
func New(ctx context.Context, creds Credentials) (*Adapter, error) {
	config := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.RedirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmailapi.GmailReadonlyScope},
	}

	httpClient := config.Client(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})

	svc, err := gmailapi.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Adapter{svc: svc}, nil
}

// ListChanges returns one page of history records after startToken.
func (a *Adapter) ListChanges(ctx context.Context, startToken, pageToken string) (*mailbox.ChangePage, error) {
	startHistoryID, err := strconv.ParseUint(startToken, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid history id %q: %w", startToken, err)
	}

	call := a.svc.Users.History.List("me").
		StartHistoryId(startHistoryID).
		MaxResults(historyPageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}

	page := &mailbox.ChangePage{NextPageToken: resp.NextPageToken}
	for _, h := range resp.History {
		for _, rec := range h.MessagesAdded {
			page.Records = append(page.Records, mailbox.ChangeRecord{
				MessageID: rec.Message.Id,
				Kind:      mailbox.ChangeAdded,
			})
		}
		for _, rec := range h.MessagesDeleted {
			page.Records = append(page.Records, mailbox.ChangeRecord{
				MessageID: rec.Message.Id,
				Kind:      mailbox.ChangeDeleted,
			})
		}
		for _, rec := range h.LabelsAdded {
			page.Records = append(page.Records, mailbox.ChangeRecord{
				MessageID: rec.Message.Id,
				Kind:      mailbox.ChangeLabeled,
			})
		}
		for _, rec := range h.LabelsRemoved {
			page.Records = append(page.Records, mailbox.ChangeRecord{
				MessageID: rec.Message.Id,
				Kind:      mailbox.ChangeLabeled,
			})
		}
	}

	return page, nil
}

// GetMessage fetches the full message including the MIME part tree.
func (a *Adapter) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	msg, err := a.svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	out := &mailbox.Message{ID: msg.Id}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			out.Headers = append(out.Headers, mailbox.Header{Name: h.Name, Value: h.Value})
		}
		out.Payload = convertPart(msg.Payload)
	}

	return out, nil
}

// CurrentPosition returns the profile's history id as an opaque token.
func (a *Adapter) CurrentPosition(ctx context.Context) (string, error) {
	profile, err := a.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get profile: %w", err)
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

// ListMessages returns one page of message ids matching query.
func (a *Adapter) ListMessages(ctx context.Context, query, pageToken string) (*mailbox.MessagePage, error) {
	call := a.svc.Users.Messages.List("me").
		Q(query).
		MaxResults(listPageSize).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	page := &mailbox.MessagePage{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}

	return page, nil
}

// convertPart maps a Gmail MIME part tree onto the provider-agnostic form,
// keeping body data in its base64url transport encoding.
func convertPart(p *gmailapi.MessagePart) *mailbox.Part {
	if p == nil {
		return nil
	}

	part := &mailbox.Part{MIMEType: p.MimeType}
	if p.Body != nil {
		part.Data = p.Body.Data
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, convertPart(child))
	}

	return part
}
