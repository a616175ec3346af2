package jellystat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "test-token"})
}

func TestPing_TrueOnOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/getconfig", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("x-api-token"))
		w.WriteHeader(http.StatusOK)
	})
	assert.True(t, c.Ping(context.Background()))
}

func TestPing_FalseOnErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	assert.False(t, c.Ping(context.Background()))
}

func TestWatchHistoryForUser_ParsesResultsAndLeavesWatchedUnset(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/getUserHistory/u1", r.URL.Path)
		w.Write([]byte(`{"results":[
			{"NowPlayingItemName":"Pilot","NowPlayingItemId":"abc","UserName":"jdoe","ActivityDateInserted":"2024-06-01T12:00:00Z","SeriesName":"A Show","EpisodeId":"ep1"}
		]}`))
	})

	events, err := c.WatchHistoryForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "abc", ev.ItemID)
	assert.Equal(t, "Pilot", ev.FullTitle)
	assert.Equal(t, "A Show", ev.SeriesName)
	assert.Equal(t, "ep1", ev.EpisodeID)
	assert.Equal(t, int64(1717243200), ev.StoppedAtEpochSeconds)

	// Jellystat never reports watched/percentage directly; downstream
	// watch-state sync must re-derive these from a live play-state lookup.
	assert.False(t, ev.Watched)
	assert.Zero(t, ev.PlaybackPercent)
}

func TestWatchHistoryForUser_SkipsRecordsWithNoItemID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"NowPlayingItemName":"Trailer","NowPlayingItemId":"","UserName":"jdoe","ActivityDateInserted":"2024-06-01T12:00:00Z"}]}`))
	})

	events, err := c.WatchHistoryForUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWatchHistoryForUser_LeavesTimestampZeroOnUnparsableDate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[{"NowPlayingItemName":"Pilot","NowPlayingItemId":"abc","UserName":"jdoe","ActivityDateInserted":"not-a-date"}]}`))
	})

	events, err := c.WatchHistoryForUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Zero(t, events[0].StoppedAtEpochSeconds)
}

func TestWatchHistoryForUser_PropagatesTransportError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.WatchHistoryForUser(context.Background(), "u1")
	assert.Error(t, err)
}
