// Package outlook adapts Microsoft Graph to the mailbox contract.
//
// Graph has no opaque history feed like Gmail's; the adapter approximates
// one by walking the newest messages until it reaches the message the
// cursor token names. Delta links would be the production-grade feed and
// can replace this without touching the sync core. Backfill listings page
// with $skip offsets, and the Gmail-shaped query string is translated to a
// fixed receivedDateTime filter rather than parsed.
package outlook

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/mailwatch/mailwatch/internal/mailbox"
)

const (
	changeWindow = 50
	listPageSize = 100
)

// emptyPosition is the cursor token for a mailbox with no messages yet.
const emptyPosition = "-"

// Adapter implements mailbox.API on top of Microsoft Graph.
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
	userID string
}

// New builds a Graph-backed adapter for the given user.
func New(ctx context.Context, accessToken, userID string) (*Adapter, error) {
	cred := &staticTokenCredential{token: accessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	return &Adapter{client: client, userID: userID}, nil
}

// ListChanges emits added-message records for everything newer than the
// message startToken names, newest first within the scanned window.
func (a *Adapter) ListChanges(ctx context.Context, startToken, pageToken string) (*mailbox.ChangePage, error) {
	msgs, err := a.listNewest(ctx, changeWindow)
	if err != nil {
		return nil, err
	}

	page := &mailbox.ChangePage{}
	for _, m := range msgs {
		id := m.GetId()
		if id == nil {
			continue
		}
		if *id == startToken {
			break
		}
		page.Records = append(page.Records, mailbox.ChangeRecord{
			MessageID: *id,
			Kind:      mailbox.ChangeAdded,
		})
	}

	return page, nil
}

// GetMessage fetches a message with raw internet headers and the HTML body.
func (a *Adapter) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	requestConfig := &users.ItemMessagesMessageItemRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesMessageItemRequestBuilderGetQueryParameters{
			Select: []string{"id", "subject", "body", "internetMessageHeaders"},
		},
	}

	msg, err := a.client.Users().ByUserId(a.userID).Messages().ByMessageId(id).Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	out := &mailbox.Message{ID: id}
	if msgID := msg.GetId(); msgID != nil {
		out.ID = *msgID
	}

	for _, h := range msg.GetInternetMessageHeaders() {
		if h.GetName() == nil || h.GetValue() == nil {
			continue
		}
		out.Headers = append(out.Headers, mailbox.Header{Name: *h.GetName(), Value: *h.GetValue()})
	}

	if body := msg.GetBody(); body != nil && body.GetContent() != nil {
		mimeType := "text/plain"
		if ct := body.GetContentType(); ct != nil && *ct == models.HTML_BODYTYPE {
			mimeType = "text/html"
		}
		out.Payload = &mailbox.Part{
			MIMEType: mimeType,
			Data:     base64.RawURLEncoding.EncodeToString([]byte(*body.GetContent())),
		}
	}

	return out, nil
}

// CurrentPosition returns the id of the newest message as the watermark.
func (a *Adapter) CurrentPosition(ctx context.Context) (string, error) {
	msgs, err := a.listNewest(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 || msgs[0].GetId() == nil {
		return emptyPosition, nil
	}
	return *msgs[0].GetId(), nil
}

// ListMessages lists message ids received inside the backfill window. The
// provider query string is Gmail-shaped and ignored here; Graph gets an
// equivalent receivedDateTime filter. Pages are chained with $skip offsets
// carried in the page token.
func (a *Adapter) ListMessages(ctx context.Context, query, pageToken string) (*mailbox.MessagePage, error) {
	skip := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return nil, fmt.Errorf("invalid page token %q: %w", pageToken, err)
		}
		skip = n
	}

	since := time.Now().AddDate(0, 0, -30).UTC().Format(time.RFC3339)
	filter := fmt.Sprintf("receivedDateTime ge %s", since)

	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:    int32Ptr(listPageSize),
			Skip:   int32Ptr(int32(skip)),
			Select: []string{"id"},
			Filter: &filter,
		},
	}

	result, err := a.client.Users().ByUserId(a.userID).Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	page := &mailbox.MessagePage{}
	for _, m := range result.GetValue() {
		if id := m.GetId(); id != nil {
			page.IDs = append(page.IDs, *id)
		}
	}

	// A full page may have more behind it; a short page is the last one.
	if len(page.IDs) == listPageSize {
		page.NextPageToken = strconv.Itoa(skip + listPageSize)
	}

	return page, nil
}

// listNewest returns up to top messages ordered newest first.
func (a *Adapter) listNewest(ctx context.Context, top int32) ([]models.Messageable, error) {
	requestConfig := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
			Top:     int32Ptr(top),
			Select:  []string{"id", "receivedDateTime"},
			Orderby: []string{"receivedDateTime desc"},
		},
	}

	result, err := a.client.Users().ByUserId(a.userID).Messages().Get(ctx, requestConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	return result.GetValue(), nil
}

func int32Ptr(i int32) *int32 {
	return &i
}

// staticTokenCredential satisfies the Azure credential interface with a
// pre-acquired access token.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}
