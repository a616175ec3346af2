// Package media defines the data model and capability interfaces the core
// uses to talk to one media server (the "primary"/Plex-family variant or the
// "secondary"/Emby-family variant) and its companion history tracker.
// Concrete implementations live in clients/media/plex, clients/media/emby,
// and clients/tracker/*.
package media

import "fmt"

// ServerKind distinguishes the two media-server families the daemon
// integrates. Primary servers (Plex-family) expose collections; secondary
// servers (Emby-family) expose playlists.
type ServerKind int

const (
	Primary ServerKind = iota
	Secondary
)

func (k ServerKind) String() string {
	if k == Primary {
		return "primary"
	}
	return "secondary"
}

// Identity names one configured server instance and carries the filesystem
// prefix its paths share, needed to rewrite a path produced by one server
// into the form another server's library would recognize.
type Identity struct {
	Kind           ServerKind
	Name           string
	BaseURL        string
	Credential     string
	LocalMediaRoot string
}

// ItemKind classifies a MediaItem.
type ItemKind int

const (
	Movie ItemKind = iota
	Episode
	Other
)

// Item is a transient, per-request value describing one piece of media on
// whichever server produced it.
type Item struct {
	ID           string
	Kind         ItemKind
	Title        string
	FullTitle    string
	Path         string
	DurationMs   int64
	SeriesName   string
	SeasonNum    int
	EpisodeNum   int
	Watched      bool
	DateModified string
}

// CollectionItem is one logical entry in a Collection: a title plus every
// on-disk file (multi-edition) that could represent it.
type CollectionItem struct {
	Title string
	Paths []string
}

// Collection is an ordered, curator-defined set of items on a primary
// server.
type Collection struct {
	Name  string
	Items []CollectionItem
}

// PlaylistEntry is one slot in a Playlist. EntryID addresses the slot itself
// (needed for move/remove); ItemID is the referenced media item. Spec
// invariant: the first match by ItemID in a playlist corresponds 1:1 to the
// slot at that position.
type PlaylistEntry struct {
	ItemID  string
	EntryID string
	Name    string
}

// Playlist is an ordered, user-facing list of media items on a secondary
// server.
type Playlist struct {
	ID      string
	Name    string
	Entries []PlaylistEntry
}

// ItemIDs returns the ordered item ids of the playlist's entries.
func (p Playlist) ItemIDs() []string {
	ids := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		ids[i] = e.ItemID
	}
	return ids
}

// WatchEvent is one history record produced by a tracker.
type WatchEvent struct {
	ItemID                string
	FullTitle             string
	Watched               bool
	PlaybackPercent       int
	StoppedAtEpochSeconds int64
	SeriesName            string
	EpisodeID             string
}

// Timestamp returns the event's ordering key for consolidation: later events
// win. ISO-8601-shaped tracker timestamps sort lexically the same as
// chronologically; here both tracker clients store epoch seconds (Tautulli
// reports them directly, the Jellystat client parses its ISO-8601 strings on
// decode) so we just use the int64.
func (e WatchEvent) Timestamp() int64 { return e.StoppedAtEpochSeconds }

// PlayState is a secondary server's notion of one user's position in one
// item. One tick is 100ns in the Emby-family; Plex expresses positions in
// milliseconds, so callers crossing families must convert.
type PlayState struct {
	Path          string
	PlayedPercent float64
	RuntimeTicks  int64
	PositionTicks int64
	PlayCount     int
	Played        bool
}

// TicksToMs converts Emby-family 100ns ticks to Plex-family milliseconds.
func TicksToMs(ticks int64) int64 { return ticks / 10_000 }

// MsToTicks converts Plex-family milliseconds to Emby-family 100ns ticks.
func MsToTicks(ms int64) int64 { return ms * 10_000 }

// User is an opaque server-side account identity resolved from an account
// name.
type User struct {
	ID   string
	Name string
}

// SearchType selects how FindItem interprets query.
type SearchType int

const (
	ByID SearchType = iota
	ByName
	ByPath
)

// ErrUnsupported is returned by capability methods a particular server
// implementation does not provide.
var ErrUnsupported = fmt.Errorf("media: capability not supported by this server")
