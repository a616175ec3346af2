package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loomis/clients/media"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(Config{
		Identity: media.Identity{Kind: media.Primary, Name: "plex", BaseURL: srv.URL},
		Token:    "test-token",
	})
	return c, srv
}

func TestReportedName_ReadsFirstServerName(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/servers", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Plex-Token"))
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<MediaContainer><Server name="home-server" host="10.0.0.1" /></MediaContainer>`))
	})

	name, ok := c.ReportedName(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "home-server", name)
}

func TestReportedName_FalseOnEmptyResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<MediaContainer></MediaContainer>`))
	})

	_, ok := c.ReportedName(context.Background())
	assert.False(t, ok)
}

func TestReportedName_FalseOnTransportError(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv.Close()

	_, ok := c.ReportedName(context.Background())
	assert.False(t, ok)
}

func TestItemPathsByIDs_FlattensFirstMediaEditionOnly(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/library/metadata/100,200", r.URL.Path)
		w.Write([]byte(`<MediaContainer>
			<Video ratingKey="100" title="Movie One">
				<Media><Part file="/media/movies/one-1080p.mkv" /></Media>
				<Media><Part file="/media/movies/one-4k.mkv" /></Media>
			</Video>
			<Video ratingKey="200" title="Movie Two">
				<Media><Part file="/media/movies/two.mkv" /></Media>
			</Video>
		</MediaContainer>`))
	})

	paths, err := c.ItemPathsByIDs(context.Background(), []string{"100", "200"})
	require.NoError(t, err)
	assert.Equal(t, "/media/movies/one-1080p.mkv", paths["100"])
	assert.Equal(t, "/media/movies/two.mkv", paths["200"])
}

func TestItemPathsByIDs_EmptyInputShortCircuits(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	paths, err := c.ItemPathsByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, paths)
	assert.False(t, called)
}

func TestMarkWatched_HitsScrobbleEndpoint(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/:/scrobble", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("key"))
		assert.Equal(t, plexSourceIdentifier, r.URL.Query().Get("identifier"))
	})

	err := c.MarkWatched(context.Background(), "42")
	assert.NoError(t, err)
}

func TestSetPosition_HitsProgressEndpointWithMilliseconds(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/:/progress", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("key"))
		assert.Equal(t, "15000", r.URL.Query().Get("time"))
	})

	err := c.SetPosition(context.Background(), "42", 15000)
	assert.NoError(t, err)
}

func TestDoGet_PropagatesHTTPErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := c.MarkWatched(context.Background(), "nope")
	assert.Error(t, err)
}

func TestVideoPaths_CollectsOnlyNonEmptyFiles(t *testing.T) {
	v := videoXML{
		Media: []mediaXML{
			{Part: []partXML{{File: "/a.mkv"}, {File: ""}}},
			{Part: []partXML{{File: "/b.mkv"}}},
		},
	}
	assert.Equal(t, []string{"/a.mkv", "/b.mkv"}, videoPaths(v))
}

func TestToItemFromXML_MapsWatchedFromViewCount(t *testing.T) {
	v := videoXML{
		Title:            "Pilot",
		RatingKey:        "55",
		ViewCount:        2,
		GrandparentTitle: "A Show",
		ParentIndex:      1,
		Index:            3,
		Media:            []mediaXML{{Part: []partXML{{File: "/shows/a/s01e03.mkv"}}}},
	}
	item := toItemFromXML(v)
	assert.Equal(t, "55", item.ID)
	assert.True(t, item.Watched)
	assert.Equal(t, "A Show", item.SeriesName)
	assert.Equal(t, "/shows/a/s01e03.mkv", item.Path)
}
