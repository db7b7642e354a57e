package sync

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailwatch/mailwatch/internal/mailbox"
	"github.com/mailwatch/mailwatch/internal/store"
)

var errRemote = errors.New("remote unavailable")

// fakeMailbox is an in-memory mailbox.API. Change pages are keyed by start
// token; page tokens are "page-<index>".
type fakeMailbox struct {
	position     string
	positionErr  error
	changes      map[string][]*mailbox.ChangePage
	changeErrs   map[int]error // page index -> error
	messages     map[string]*mailbox.Message
	messageErrs  map[string]error
	listPages    []*mailbox.MessagePage
	listErr      error
	listCalls    int
	getCalls     int
	changeCalls  int
	positionCall int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		changes:     make(map[string][]*mailbox.ChangePage),
		changeErrs:  make(map[int]error),
		messages:    make(map[string]*mailbox.Message),
		messageErrs: make(map[string]error),
	}
}

func (f *fakeMailbox) ListChanges(ctx context.Context, startToken, pageToken string) (*mailbox.ChangePage, error) {
	f.changeCalls++

	idx := 0
	if pageToken != "" {
		i, err := strconv.Atoi(strings.TrimPrefix(pageToken, "page-"))
		if err != nil {
			return nil, fmt.Errorf("bad page token %q", pageToken)
		}
		idx = i
	}

	if err := f.changeErrs[idx]; err != nil {
		return nil, err
	}

	pages := f.changes[startToken]
	if idx >= len(pages) {
		return &mailbox.ChangePage{}, nil
	}
	return pages[idx], nil
}

func (f *fakeMailbox) GetMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	f.getCalls++
	if err := f.messageErrs[id]; err != nil {
		return nil, err
	}
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("no such message %s", id)
	}
	return msg, nil
}

func (f *fakeMailbox) CurrentPosition(ctx context.Context) (string, error) {
	f.positionCall++
	if f.positionErr != nil {
		return "", f.positionErr
	}
	return f.position, nil
}

func (f *fakeMailbox) ListMessages(ctx context.Context, query, pageToken string) (*mailbox.MessagePage, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	idx := 0
	if pageToken != "" {
		i, err := strconv.Atoi(strings.TrimPrefix(pageToken, "page-"))
		if err != nil {
			return nil, fmt.Errorf("bad page token %q", pageToken)
		}
		idx = i
	}

	if idx >= len(f.listPages) {
		return &mailbox.MessagePage{}, nil
	}
	return f.listPages[idx], nil
}

// addedPages builds a sequence of change pages, each holding added records
// for the given ids, chained with page tokens.
func addedPages(idsPerPage ...[]string) []*mailbox.ChangePage {
	pages := make([]*mailbox.ChangePage, len(idsPerPage))
	for i, ids := range idsPerPage {
		page := &mailbox.ChangePage{}
		for _, id := range ids {
			page.Records = append(page.Records, mailbox.ChangeRecord{MessageID: id, Kind: mailbox.ChangeAdded})
		}
		if i < len(idsPerPage)-1 {
			page.NextPageToken = fmt.Sprintf("page-%d", i+1)
		}
		pages[i] = page
	}
	return pages
}

// testMessage builds a full message with standard headers and a plain-text
// body in transport encoding.
func testMessage(id, from, to, subject, body string, date time.Time) *mailbox.Message {
	return &mailbox.Message{
		ID: id,
		Headers: []mailbox.Header{
			{Name: "From", Value: from},
			{Name: "To", Value: to},
			{Name: "Subject", Value: subject},
			{Name: "Date", Value: date.Format(time.RFC1123Z)},
		},
		Payload: &mailbox.Part{
			MIMEType: "text/plain",
			Data:     base64.RawURLEncoding.EncodeToString([]byte(body)),
		},
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testEngine(t *testing.T, api *fakeMailbox) (*Engine, *store.Store) {
	t.Helper()
	st := testStore(t)
	engine := NewEngine(api, st, zerolog.Nop())
	return engine, st
}
