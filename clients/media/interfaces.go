package media

import "context"

// PrimaryClient is the capability surface of a Plex-family server.
type PrimaryClient interface {
	Identity() Identity
	Ping(ctx context.Context) bool
	ReportedName(ctx context.Context) (string, bool)
	LibraryID(ctx context.Context, name string) (string, bool)

	// Collection returns the ordered collection, including every candidate
	// on-disk path per item (multi-edition support).
	Collection(ctx context.Context, library, name string) (*Collection, error)

	// ItemPathsByIDs batch-resolves opaque item ids to filesystem paths.
	ItemPathsByIDs(ctx context.Context, ids []string) (map[string]string, error)

	// SearchTitle is used for cross-server identity resolution when path
	// rewriting fails to locate a direct match.
	SearchTitle(ctx context.Context, query string) ([]Item, error)

	MarkWatched(ctx context.Context, id string) error
	SetPosition(ctx context.Context, id string, positionMs int64) error
	TriggerScan(ctx context.Context, libraryID string) error
}

// PrimaryTracker is the capability surface of a Plex-family's companion
// history service (Tautulli).
type PrimaryTracker interface {
	Ping(ctx context.Context) bool
	UserInfo(ctx context.Context, userName string) (User, bool)

	// WatchHistorySince returns history for userName starting no later than
	// sinceISO8601; an implementation may include somewhat earlier records.
	WatchHistorySince(ctx context.Context, userName, sinceISO8601 string) ([]WatchEvent, error)
}

// SecondaryClient is the capability surface of an Emby-family server.
type SecondaryClient interface {
	Identity() Identity
	Ping(ctx context.Context) bool
	ReportedName(ctx context.Context) (string, bool)
	LibraryID(ctx context.Context, name string) (string, bool)

	FindItem(ctx context.Context, searchType SearchType, query string, extraFilters map[string]string) (*Item, error)
	FindUser(ctx context.Context, name string) (User, bool)

	// PathMapSnapshot dumps every {movie,episode} item's (path, id,
	// dateModified), excluding missing items — the full rebuild source for
	// the path map.
	PathMapSnapshot(ctx context.Context) ([]PathMapEntry, error)

	// LibraryChangedSince probes the single most-recently-modified item and
	// reports whether it is newer than sinceISO8601.
	LibraryChangedSince(ctx context.Context, sinceISO8601 string) (bool, error)

	PlaylistExists(ctx context.Context, name string) (bool, error)
	Playlist(ctx context.Context, name string) (*Playlist, error)
	CreatePlaylist(ctx context.Context, name string, itemIDs []string) error
	AddToPlaylist(ctx context.Context, playlistID string, itemIDs []string) error
	RemoveFromPlaylist(ctx context.Context, playlistID string, entryIDs []string) error
	MoveInPlaylist(ctx context.Context, playlistID, entryID string, newIndex int) error

	WatchedStatus(ctx context.Context, userID, itemID string) (bool, error)
	SetWatched(ctx context.Context, userID, itemID string) error
	PlayStateOf(ctx context.Context, userID, itemID string) (*PlayState, error)
	SetPlayState(ctx context.Context, userID, itemID string, positionTicks int64, lastPlayedISO8601 string) error
	TriggerScan(ctx context.Context, libraryID string) error
}

// PathMapEntry is one row of a secondary server's full library dump.
type PathMapEntry struct {
	Path         string
	ID           string
	DateModified string
}

// SecondaryTracker is the capability surface of an Emby-family's companion
// history service (Jellystat).
type SecondaryTracker interface {
	Ping(ctx context.Context) bool

	// WatchHistoryForUser returns all recorded history for userID,
	// unfiltered by time; callers apply their own recency cutoff.
	WatchHistoryForUser(ctx context.Context, userID string) ([]WatchEvent, error)
}
