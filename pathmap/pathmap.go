// Package pathmap owns the filesystem-path -> server-item-id mapping for one
// secondary (Emby-family) media server, rebuilt periodically in the
// background and served to synchronizers via a fast, mutex-guarded read.
package pathmap

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"

	"loomis/clients/media"
	"loomis/logging"
)

// isoShape is a defensive, permissive check that a timestamp at least looks
// like an ISO-8601 instant before we trust it to sort lexically the same as
// chronologically; the original never validates this. A malformed timestamp
// is treated as "never seen" rather than compared, so a garbage value can't
// wedge the quick-check into skipping rebuilds forever.
var isoShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

func looksISO8601(s string) bool {
	return s != "" && isoShape.MatchString(s)
}

// Map is owned by exactly one refresher; reads take a shared view, mutation
// is confined to the refresher's own rebuild routine.
type Map struct {
	client media.SecondaryClient

	mu            sync.RWMutex
	published     map[string]string
	lastTimestamp string

	building int32 // CAS guard: at most one concurrent build
}

// New creates a Map with an empty published mapping.
func New(client media.SecondaryClient) *Map {
	return &Map{
		client:    client,
		published: map[string]string{},
	}
}

// IDOf resolves path to an item id under the published map. The lock is held
// only long enough to copy the one string out; no I/O happens while held.
func (m *Map) IDOf(path string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.published[path]
	return id, ok
}

// Len reports the size of the currently published map (used by tests and by
// the playlist synchronizer's "path map is empty" guard).
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.published)
}

// LastTimestamp reports the lexicographic maximum DateModified observed
// during the last successful rebuild.
func (m *Map) LastTimestamp() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastTimestamp
}

// QuickCheck probes the server's single most-recently-modified item. If it
// is newer than lastTimestamp, or the published map is empty, a full rebuild
// runs; otherwise this is a no-op.
func (m *Map) QuickCheck(ctx context.Context) error {
	log := logging.FromContext(ctx)

	m.mu.RLock()
	last := m.lastTimestamp
	empty := len(m.published) == 0
	m.mu.RUnlock()

	if empty {
		return m.FullRebuild(ctx)
	}

	changed, err := m.client.LibraryChangedSince(ctx, last)
	if err != nil {
		log.Warn().Err(err).Str("server", m.client.Identity().Name).
			Msg("pathmap: quick check failed, will retry next schedule")
		return err
	}

	if changed {
		return m.FullRebuild(ctx)
	}
	return nil
}

// FullRebuild requests every {movie,episode} item, excluding missing items,
// and atomically swaps the published map. A transient empty response never
// wipes the existing cache (I1). At most one rebuild runs at a time; a
// concurrent call while one is in flight is a no-op.
func (m *Map) FullRebuild(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.building, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&m.building, 0)

	log := logging.FromContext(ctx)

	entries, err := m.client.PathMapSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Str("server", m.client.Identity().Name).
			Msg("pathmap: full rebuild failed to fetch snapshot")
		return err
	}

	scratch := make(map[string]string, len(entries))
	maxTimestamp := ""
	for _, e := range entries {
		if e.ID == "" || e.Path == "" {
			continue
		}
		// First writer wins: stable and deterministic given ordered server
		// responses.
		if _, exists := scratch[e.Path]; !exists {
			scratch[e.Path] = e.ID
		}
		if looksISO8601(e.DateModified) && e.DateModified > maxTimestamp {
			maxTimestamp = e.DateModified
		}
	}

	if len(scratch) == 0 {
		log.Warn().Str("server", m.client.Identity().Name).
			Msg("pathmap: full rebuild produced an empty map, keeping previous snapshot")
		return nil
	}

	m.mu.Lock()
	m.published = scratch
	if maxTimestamp > m.lastTimestamp {
		m.lastTimestamp = maxTimestamp
	}
	m.mu.Unlock()

	log.Info().Str("server", m.client.Identity().Name).Int("count", len(scratch)).
		Str("last_timestamp", maxTimestamp).Msg("pathmap: full rebuild complete")
	return nil
}
