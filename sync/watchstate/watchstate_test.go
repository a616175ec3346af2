package watchstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loomis/clients/media"
	"loomis/pathmap"
)

// --- fakes -------------------------------------------------------------

type fakePrimaryClient struct {
	media.PrimaryClient
	identity    media.Identity
	up          bool
	paths       map[string]string
	pathsErr    error
	searchByTitle map[string][]media.Item
	watchedCalls  []string
	positionCalls map[string]int64
}

func (f *fakePrimaryClient) Identity() media.Identity { return f.identity }
func (f *fakePrimaryClient) Ping(ctx context.Context) bool { return f.up }
func (f *fakePrimaryClient) ItemPathsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	return f.paths, f.pathsErr
}
func (f *fakePrimaryClient) SearchTitle(ctx context.Context, query string) ([]media.Item, error) {
	return f.searchByTitle[query], nil
}
func (f *fakePrimaryClient) MarkWatched(ctx context.Context, id string) error {
	f.watchedCalls = append(f.watchedCalls, id)
	return nil
}
func (f *fakePrimaryClient) SetPosition(ctx context.Context, id string, positionMs int64) error {
	if f.positionCalls == nil {
		f.positionCalls = map[string]int64{}
	}
	f.positionCalls[id] = positionMs
	return nil
}

type fakePrimaryTracker struct {
	up      bool
	user    media.User
	userOK  bool
	history []media.WatchEvent
	histErr error
}

func (f *fakePrimaryTracker) Ping(ctx context.Context) bool { return f.up }
func (f *fakePrimaryTracker) UserInfo(ctx context.Context, name string) (media.User, bool) {
	return f.user, f.userOK
}
func (f *fakePrimaryTracker) WatchHistorySince(ctx context.Context, userName, since string) ([]media.WatchEvent, error) {
	return f.history, f.histErr
}

type fakeSecondaryClient struct {
	media.SecondaryClient
	identity media.Identity
	up       bool
	user     media.User
	userOK   bool

	watched       map[string]bool
	setWatchedIDs []string
	playState     map[string]*media.PlayState
	setPlayState  []struct {
		itemID        string
		positionTicks int64
	}
}

func (f *fakeSecondaryClient) Identity() media.Identity { return f.identity }
func (f *fakeSecondaryClient) Ping(ctx context.Context) bool { return f.up }
func (f *fakeSecondaryClient) FindUser(ctx context.Context, name string) (media.User, bool) {
	return f.user, f.userOK
}
func (f *fakeSecondaryClient) WatchedStatus(ctx context.Context, userID, itemID string) (bool, error) {
	return f.watched[itemID], nil
}
func (f *fakeSecondaryClient) SetWatched(ctx context.Context, userID, itemID string) error {
	f.setWatchedIDs = append(f.setWatchedIDs, itemID)
	return nil
}
func (f *fakeSecondaryClient) PlayStateOf(ctx context.Context, userID, itemID string) (*media.PlayState, error) {
	if f.playState == nil {
		return nil, nil
	}
	return f.playState[itemID], nil
}
func (f *fakeSecondaryClient) SetPlayState(ctx context.Context, userID, itemID string, positionTicks int64, lastPlayed string) error {
	f.setPlayState = append(f.setPlayState, struct {
		itemID        string
		positionTicks int64
	}{itemID, positionTicks})
	return nil
}

type fakeSecondaryTracker struct {
	up      bool
	history []media.WatchEvent
	histErr error
}

func (f *fakeSecondaryTracker) Ping(ctx context.Context) bool { return f.up }
func (f *fakeSecondaryTracker) WatchHistoryForUser(ctx context.Context, userID string) ([]media.WatchEvent, error) {
	return f.history, f.histErr
}

type fakePathMapSource struct {
	media.SecondaryClient
	snapshot []media.PathMapEntry
}

func (f *fakePathMapSource) Identity() media.Identity { return media.Identity{Name: "pm"} }
func (f *fakePathMapSource) PathMapSnapshot(ctx context.Context) ([]media.PathMapEntry, error) {
	return f.snapshot, nil
}

func newPathMap(t *testing.T, entries ...media.PathMapEntry) *pathmap.Map {
	t.Helper()
	m := pathmap.New(&fakePathMapSource{snapshot: entries})
	require.NoError(t, m.FullRebuild(context.Background()))
	return m
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// --- tests ---------------------------------------------------------------

func TestConsolidate_KeepsLatestPerItem(t *testing.T) {
	events := []media.WatchEvent{
		{ItemID: "a", StoppedAtEpochSeconds: 100},
		{ItemID: "a", StoppedAtEpochSeconds: 200},
		{ItemID: "b", StoppedAtEpochSeconds: 50},
	}
	out := consolidate(events)
	require.Len(t, out, 2)
	for _, e := range out {
		if e.ItemID == "a" {
			assert.Equal(t, int64(200), e.StoppedAtEpochSeconds)
		}
	}
}

func TestRun_GroupWithFewerThanTwoValidUsersIsSkipped(t *testing.T) {
	primaryClient := &fakePrimaryClient{up: true, identity: media.Identity{Name: "plex"}}
	primaryTracker := &fakePrimaryTracker{up: true, userOK: true, user: media.User{ID: "u1"}}

	group := &UserGroup{
		Name: "solo",
		Primaries: []*PrimaryUser{{
			Client: primaryClient, Tracker: primaryTracker, AccountName: "alice", CanSync: true,
		}},
	}

	s := New([]*UserGroup{group}, Config{})
	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, primaryClient.watchedCalls)
}

func TestSync_PropagatesWatchedFromPrimaryToSecondary(t *testing.T) {
	pm := newPathMap(t, media.PathMapEntry{Path: "/movies/a.mkv", ID: "emby-1", DateModified: "2024-01-01T00:00:00Z"})

	primaryClient := &fakePrimaryClient{
		up: true, identity: media.Identity{Name: "plex"},
		paths: map[string]string{"1": "/movies/a.mkv"},
	}
	primaryTracker := &fakePrimaryTracker{
		up: true, userOK: true, user: media.User{ID: "pu1"},
		history: []media.WatchEvent{{ItemID: "1", FullTitle: "A Movie", Watched: true, StoppedAtEpochSeconds: 1000}},
	}
	secondaryClient := &fakeSecondaryClient{
		up: true, identity: media.Identity{Name: "emby"}, userOK: true, user: media.User{ID: "su1"},
		watched: map[string]bool{},
	}
	secondaryTracker := &fakeSecondaryTracker{up: true}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "alice", CanSync: true}},
		Secondaries: []*SecondaryUser{{
			Client: secondaryClient, Tracker: secondaryTracker, PathMap: pm, AccountName: "alice", CanSync: true,
		}},
	}

	s := New([]*UserGroup{group}, Config{})
	s.now = fixedClock(time.Unix(100000, 0))
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"emby-1"}, secondaryClient.setWatchedIDs)
}

func TestSync_SkipsSecondaryAlreadyWatched(t *testing.T) {
	pm := newPathMap(t, media.PathMapEntry{Path: "/movies/a.mkv", ID: "emby-1", DateModified: "2024-01-01T00:00:00Z"})

	primaryClient := &fakePrimaryClient{
		up: true, identity: media.Identity{Name: "plex"},
		paths: map[string]string{"1": "/movies/a.mkv"},
	}
	primaryTracker := &fakePrimaryTracker{
		up: true, userOK: true, user: media.User{ID: "pu1"},
		history: []media.WatchEvent{{ItemID: "1", FullTitle: "A Movie", Watched: true, StoppedAtEpochSeconds: 1000}},
	}
	secondaryClient := &fakeSecondaryClient{
		up: true, identity: media.Identity{Name: "emby"}, userOK: true, user: media.User{ID: "su1"},
		watched: map[string]bool{"emby-1": true},
	}
	secondaryTracker := &fakeSecondaryTracker{up: true}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "alice", CanSync: true}},
		Secondaries: []*SecondaryUser{{
			Client: secondaryClient, Tracker: secondaryTracker, PathMap: pm, AccountName: "alice", CanSync: true,
		}},
	}

	s := New([]*UserGroup{group}, Config{})
	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, secondaryClient.setWatchedIDs)
}

func TestSync_GatingBlocksDestinationWithoutCanSync(t *testing.T) {
	pm := newPathMap(t, media.PathMapEntry{Path: "/movies/a.mkv", ID: "emby-1", DateModified: "2024-01-01T00:00:00Z"})

	primaryClient := &fakePrimaryClient{
		up: true, identity: media.Identity{Name: "plex"},
		paths: map[string]string{"1": "/movies/a.mkv"},
	}
	primaryTracker := &fakePrimaryTracker{
		up: true, userOK: true, user: media.User{ID: "pu1"},
		history: []media.WatchEvent{{ItemID: "1", FullTitle: "A Movie", Watched: true, StoppedAtEpochSeconds: 1000}},
	}
	secondaryClient := &fakeSecondaryClient{
		up: true, identity: media.Identity{Name: "emby"}, userOK: true, user: media.User{ID: "su1"},
	}
	secondaryTracker := &fakeSecondaryTracker{up: true}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "alice", CanSync: true}},
		Secondaries: []*SecondaryUser{{
			Client: secondaryClient, Tracker: secondaryTracker, PathMap: pm, AccountName: "alice", CanSync: false,
		}},
	}

	s := New([]*UserGroup{group}, Config{})
	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, secondaryClient.setWatchedIDs)
}

func TestSync_PropagatesWatchedFromSecondaryToPrimaryWithPathRewrite(t *testing.T) {
	secondaryClient := &fakeSecondaryClient{
		up: true, identity: media.Identity{Name: "emby", LocalMediaRoot: "/emby-media"},
		userOK: true, user: media.User{ID: "su1"},
		playState: map[string]*media.PlayState{
			"e1": {Path: "/emby-media/a.mkv", Played: true, PlayedPercent: 100},
		},
	}
	secondaryTracker := &fakeSecondaryTracker{
		up: true,
		history: []media.WatchEvent{
			{ItemID: "e1", FullTitle: "A Movie", Watched: true, StoppedAtEpochSeconds: time.Now().Unix()},
		},
	}

	primaryClient := &fakePrimaryClient{
		up: true, identity: media.Identity{Name: "plex", LocalMediaRoot: "/plex-media"},
		searchByTitle: map[string][]media.Item{
			"A Movie": {{ID: "pk1", Path: "/plex-media/a.mkv", Watched: false}},
		},
	}
	primaryTracker := &fakePrimaryTracker{up: true, userOK: true, user: media.User{ID: "pu1"}}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "alice", CanSync: true}},
		Secondaries: []*SecondaryUser{{
			Client: secondaryClient, Tracker: secondaryTracker, PathMap: newPathMap(t), AccountName: "alice", CanSync: true,
		}},
	}

	s := New([]*UserGroup{group}, Config{})
	s.now = fixedClock(time.Now())
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"pk1"}, primaryClient.watchedCalls)
}

func TestSync_DropsEventsOlderThan24hForSecondarySource(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour).Unix()
	secondaryClient := &fakeSecondaryClient{
		up: true, identity: media.Identity{Name: "emby"}, userOK: true, user: media.User{ID: "su1"},
		playState: map[string]*media.PlayState{},
	}
	secondaryTracker := &fakeSecondaryTracker{
		up:      true,
		history: []media.WatchEvent{{ItemID: "e1", FullTitle: "Old Movie", Watched: true, StoppedAtEpochSeconds: old}},
	}
	primaryClient := &fakePrimaryClient{up: true, identity: media.Identity{Name: "plex"}}
	primaryTracker := &fakePrimaryTracker{up: true}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "alice", CanSync: true}},
		Secondaries: []*SecondaryUser{{
			Client: secondaryClient, Tracker: secondaryTracker, PathMap: newPathMap(t), AccountName: "alice", CanSync: true,
		}},
	}

	s := New([]*UserGroup{group}, Config{})
	require.NoError(t, s.Run(context.Background()))
	assert.Empty(t, primaryClient.watchedCalls)
}

func TestSync_SkipsPrimaryDestinationOfflineThisCycle(t *testing.T) {
	secondaryClient := &fakeSecondaryClient{
		up: true, identity: media.Identity{Name: "emby", LocalMediaRoot: "/emby-media"},
		userOK: true, user: media.User{ID: "su1"},
		playState: map[string]*media.PlayState{
			"e1": {Path: "/emby-media/a.mkv", Played: true, PlayedPercent: 100},
		},
	}
	secondaryTracker := &fakeSecondaryTracker{
		up: true,
		history: []media.WatchEvent{
			{ItemID: "e1", FullTitle: "A Movie", Watched: true, StoppedAtEpochSeconds: time.Now().Unix()},
		},
	}

	// onlinePrimary exists only to keep the group's valid-user count at two
	// so the cycle doesn't bail before reaching the destination peer loop;
	// offlinePrimary is the one under test.
	onlinePrimary := &fakePrimaryClient{up: true, identity: media.Identity{Name: "plex-2"}}
	onlinePrimaryTracker := &fakePrimaryTracker{up: true, userOK: true, user: media.User{ID: "pu2"}}

	offlinePrimary := &fakePrimaryClient{
		up: false, identity: media.Identity{Name: "plex", LocalMediaRoot: "/plex-media"},
		searchByTitle: map[string][]media.Item{
			"A Movie": {{ID: "pk1", Path: "/plex-media/a.mkv", Watched: false}},
		},
	}
	offlinePrimaryTracker := &fakePrimaryTracker{up: true, userOK: true, user: media.User{ID: "pu1"}}

	group := &UserGroup{
		Primaries: []*PrimaryUser{
			{Client: onlinePrimary, Tracker: onlinePrimaryTracker, AccountName: "bob", CanSync: true},
			{Client: offlinePrimary, Tracker: offlinePrimaryTracker, AccountName: "alice", CanSync: true},
		},
		Secondaries: []*SecondaryUser{{
			Client: secondaryClient, Tracker: secondaryTracker, PathMap: newPathMap(t), AccountName: "alice", CanSync: true,
		}},
	}

	s := New([]*UserGroup{group}, Config{})
	s.now = fixedClock(time.Now())
	require.NoError(t, s.Run(context.Background()))

	assert.Empty(t, offlinePrimary.watchedCalls, "a primary destination whose server failed Ping this cycle must be skipped, not written to")
}

func TestRefreshGroup_MarksUserInvalidWhenServerOffline(t *testing.T) {
	primaryClient := &fakePrimaryClient{up: false, identity: media.Identity{Name: "plex"}}
	primaryTracker := &fakePrimaryTracker{up: true, userOK: true, user: media.User{ID: "pu1"}}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "alice"}},
	}

	s := New([]*UserGroup{group}, Config{})
	s.refreshGroup(context.Background(), group)
	assert.False(t, group.Primaries[0].valid)
}

func TestRefreshGroup_PrefersTrackerReportedNameForDisplay(t *testing.T) {
	primaryClient := &fakePrimaryClient{up: true, identity: media.Identity{Name: "plex"}}
	primaryTracker := &fakePrimaryTracker{up: true, userOK: true, user: media.User{ID: "pu1", Name: "Johnny"}}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "jdoe"}},
	}

	s := New([]*UserGroup{group}, Config{})
	s.refreshGroup(context.Background(), group)
	assert.Equal(t, "Johnny", group.Primaries[0].displayName, "display name should prefer the tracker-reported name over the configured account name")
}

func TestRefreshGroup_FallsBackToAccountNameWhenTrackerNameEmpty(t *testing.T) {
	primaryClient := &fakePrimaryClient{up: true, identity: media.Identity{Name: "plex"}}
	primaryTracker := &fakePrimaryTracker{up: true, userOK: true, user: media.User{ID: "pu1"}}

	group := &UserGroup{
		Primaries: []*PrimaryUser{{Client: primaryClient, Tracker: primaryTracker, AccountName: "jdoe"}},
	}

	s := New([]*UserGroup{group}, Config{})
	s.refreshGroup(context.Background(), group)
	assert.Equal(t, "jdoe", group.Primaries[0].displayName)
}
