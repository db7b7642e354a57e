package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailwatch/mailwatch/internal/store"
)

func cursorToken(t *testing.T, st *store.Store) string {
	t.Helper()
	cur, err := st.LoadCursor(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cur)
	return cur.Token
}

func cursorRows(t *testing.T, st *store.Store) int {
	t.Helper()
	var n int
	require.NoError(t, st.DB.QueryRow(`SELECT COUNT(*) FROM cursors`).Scan(&n))
	return n
}

func TestSyncColdStart(t *testing.T) {
	api := newFakeMailbox()
	api.position = "H100"
	engine, st := testEngine(t, api)

	delta, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 0, delta.TotalNew)
	assert.Empty(t, delta.Emails)
	assert.Equal(t, "H100", delta.Cursor)
	assert.Equal(t, 0, api.getCalls, "cold start must not resolve messages")
	assert.Equal(t, 0, api.changeCalls, "cold start must not page the change feed")
	assert.Equal(t, 1, cursorRows(t, st))
	assert.Equal(t, "H100", cursorToken(t, st))
}

func TestSyncDeltaScenario(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)
	require.NoError(t, st.SaveCursor(context.Background(), "H100"))

	api.changes["H100"] = addedPages([]string{"m1"})
	api.messages["m1"] = testMessage("m1", "alice@example.com", "me@example.com", "Hi", "hello", time.Now())
	api.position = "H101"

	delta, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, delta.TotalNew)
	require.Len(t, delta.Emails, 1)
	assert.Equal(t, "m1", delta.Emails[0].ID)
	assert.Equal(t, "Hi", delta.Emails[0].Subject)
	assert.Equal(t, "H101", delta.Cursor)

	count, err := st.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, "H101", cursorToken(t, st))
}

func TestSyncIdempotentWhenNoNewChanges(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)
	require.NoError(t, st.SaveCursor(context.Background(), "H100"))

	api.changes["H100"] = addedPages([]string{"m1"})
	api.messages["m1"] = testMessage("m1", "a@x.com", "b@x.com", "Hi", "hello", time.Now())
	api.position = "H101"

	first, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, first.TotalNew)

	// No changes recorded after H101; the second pass drains nothing.
	second, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, second.TotalNew)
	assert.Empty(t, second.Emails)

	count, err := st.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncAgeFilter(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)
	require.NoError(t, st.SaveCursor(context.Background(), "H1"))

	api.changes["H1"] = addedPages([]string{"old", "recent", "undated"})
	api.messages["old"] = testMessage("old", "a@x.com", "b@x.com", "old", "x", time.Now().Add(-40*24*time.Hour))
	api.messages["recent"] = testMessage("recent", "a@x.com", "b@x.com", "recent", "x", time.Now().Add(-2*24*time.Hour))
	undated := testMessage("undated", "a@x.com", "b@x.com", "undated", "x", time.Now())
	undated.Headers = undated.Headers[:3] // drop the Date header
	api.messages["undated"] = undated
	api.position = "H2"

	delta, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, delta.TotalNew)
	require.Len(t, delta.Emails, 1)
	assert.Equal(t, "recent", delta.Emails[0].ID)

	count, err := st.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSyncFailFastOnPageError(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)
	require.NoError(t, st.SaveCursor(context.Background(), "H1"))

	api.changes["H1"] = addedPages([]string{"m1", "m2"}, []string{"m3", "m4"}, []string{"m5", "m6"})
	api.changeErrs[1] = errRemote
	api.messages["m1"] = testMessage("m1", "a@x.com", "b@x.com", "s", "x", time.Now())
	api.position = "H2"

	_, err := engine.Sync(context.Background(), 0)
	require.ErrorIs(t, err, errRemote)

	count, err := st.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "no partial apply")
	assert.Equal(t, "H1", cursorToken(t, st), "cursor untouched")
	assert.Equal(t, 0, api.getCalls)
}

func TestSyncSkipsUnresolvableMessages(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)
	require.NoError(t, st.SaveCursor(context.Background(), "H1"))

	api.changes["H1"] = addedPages([]string{"bad", "good"})
	api.messageErrs["bad"] = errRemote
	api.messages["good"] = testMessage("good", "a@x.com", "b@x.com", "s", "x", time.Now())
	api.position = "H2"

	delta, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, delta.TotalNew)
	assert.Equal(t, "good", delta.Emails[0].ID)
	assert.Equal(t, "H2", cursorToken(t, st))
}

func TestSyncStalledResolutionKeepsCursor(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)
	require.NoError(t, st.SaveCursor(context.Background(), "H1"))

	api.changes["H1"] = addedPages([]string{"m1"})
	api.messageErrs["m1"] = errRemote
	api.position = "H2"

	_, err := engine.Sync(context.Background(), 0)
	require.ErrorIs(t, err, ErrResolutionStalled)
	assert.Equal(t, "H1", cursorToken(t, st))
}

func TestSyncDeduplicatesWithinPass(t *testing.T) {
	api := newFakeMailbox()
	engine, _ := testEngine(t, api)
	require.NoError(t, engine.Store.SaveCursor(context.Background(), "H1"))

	api.changes["H1"] = addedPages([]string{"m1", "m1"}, []string{"m1"})
	api.messages["m1"] = testMessage("m1", "a@x.com", "b@x.com", "s", "x", time.Now())
	api.position = "H2"

	delta, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, delta.TotalNew)
	assert.Equal(t, 1, api.getCalls, "duplicate ids resolve once")
}

func TestSyncAtMostOnceMaterialization(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)
	require.NoError(t, st.SaveCursor(context.Background(), "H1"))

	api.changes["H1"] = addedPages([]string{"m1"})
	// The same change set is still visible from the next cursor, as after
	// an overlapping retry.
	api.changes["H2"] = addedPages([]string{"m1"})
	api.messages["m1"] = testMessage("m1", "a@x.com", "b@x.com", "s", "x", time.Now())
	api.position = "H2"

	_, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)
	_, err = engine.Sync(context.Background(), 0)
	require.NoError(t, err)

	count, err := st.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "overlapping passes store one row")
}

func TestSyncLimitCapsEchoedEmails(t *testing.T) {
	api := newFakeMailbox()
	engine, _ := testEngine(t, api)
	require.NoError(t, engine.Store.SaveCursor(context.Background(), "H1"))

	api.changes["H1"] = addedPages([]string{"m1", "m2", "m3"})
	for _, id := range []string{"m1", "m2", "m3"} {
		api.messages[id] = testMessage(id, "a@x.com", "b@x.com", "s", "x", time.Now())
	}
	api.position = "H2"

	delta, err := engine.Sync(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 3, delta.TotalNew)
	assert.Len(t, delta.Emails, 2)
	assert.Equal(t, "m1", delta.Emails[0].ID)
	assert.Equal(t, "m2", delta.Emails[1].ID)
}

func TestSyncPreservesDiscoveryOrder(t *testing.T) {
	api := newFakeMailbox()
	engine, _ := testEngine(t, api)
	require.NoError(t, engine.Store.SaveCursor(context.Background(), "H1"))

	// Dates are deliberately out of order relative to page order.
	api.changes["H1"] = addedPages([]string{"m1", "m2"}, []string{"m3"})
	api.messages["m1"] = testMessage("m1", "a@x.com", "b@x.com", "s", "x", time.Now().Add(-time.Hour))
	api.messages["m2"] = testMessage("m2", "a@x.com", "b@x.com", "s", "x", time.Now().Add(-3*time.Hour))
	api.messages["m3"] = testMessage("m3", "a@x.com", "b@x.com", "s", "x", time.Now().Add(-2*time.Hour))
	api.position = "H2"

	delta, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, delta.Emails, 3)
	assert.Equal(t, "m1", delta.Emails[0].ID)
	assert.Equal(t, "m2", delta.Emails[1].ID)
	assert.Equal(t, "m3", delta.Emails[2].ID)
}

func TestSyncCursorLoadsLatest(t *testing.T) {
	api := newFakeMailbox()
	engine, st := testEngine(t, api)

	// Two historical cursor rows; only the newest matters.
	_, err := st.DB.Exec(`INSERT INTO cursors (token, updated_at) VALUES ('H1', 100), ('H5', 200)`)
	require.NoError(t, err)

	api.changes["H5"] = addedPages(nil)
	api.position = "H6"

	delta, err := engine.Sync(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, "H6", delta.Cursor)
	assert.Equal(t, "H6", cursorToken(t, st))
}
