// Package playlist implements the collection -> playlist synchronizer:
// for each configured (source primary collection, target secondary servers)
// triple, it reconciles each target's playlist to match the source
// collection's ordered membership using insert/remove/move primitives.
//
// Grounded on original_source/src/services/playlist-sync/playlist-sync-service.cpp.
package playlist

import (
	"context"
	"fmt"
	"time"

	"loomis/apierr"
	"loomis/clients/media"
	"loomis/logging"
	"loomis/pathmap"
	"loomis/scheduler"
)

// Target is one secondary server a collection should be mirrored to as a
// playlist.
type Target struct {
	Client  media.SecondaryClient
	PathMap *pathmap.Map
}

// Binding is one configured (source collection, target servers) triple.
type Binding struct {
	Source         media.PrimaryClient
	Library        string
	CollectionName string
	Targets        []*Target
}

// Config carries the pacing knobs with their documented defaults.
type Config struct {
	CronExpr         string
	SettleDelay      time.Duration // default 5s: after add/remove, before re-fetching
	PaceDelay        time.Duration // default 200ms: after each move
	InterTargetDelay time.Duration // default 1s: between targets
}

// withDefaults returns c with the documented defaults for any zero-valued field.
func (c Config) withDefaults() Config {
	if c.SettleDelay == 0 {
		c.SettleDelay = 5 * time.Second
	}
	if c.PaceDelay == 0 {
		c.PaceDelay = 200 * time.Millisecond
	}
	if c.InterTargetDelay == 0 {
		c.InterTargetDelay = time.Second
	}
	if c.CronExpr == "" {
		c.CronExpr = "0 */30 * * * *"
	}
	return c
}

// Synchronizer runs all configured Bindings on each cycle.
type Synchronizer struct {
	bindings []Binding
	cfg      Config
}

// New builds a Synchronizer. Bindings whose target list is empty are a
// config error (empty collection target set) and are dropped here rather
// than at call sites.
func New(bindings []Binding, cfg Config) *Synchronizer {
	log := logging.FromContext(context.Background())
	cfg = cfg.withDefaults()

	filtered := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if len(b.Targets) == 0 {
			log.Warn().Str("collection", b.CollectionName).
				Msg("playlist sync: binding has no target servers, skipping")
			continue
		}
		filtered = append(filtered, b)
	}

	return &Synchronizer{bindings: filtered, cfg: cfg}
}

// Task returns the scheduled task descriptor for this synchronizer.
func (s *Synchronizer) Task(name string) scheduler.Task {
	return scheduler.Task{
		Name:     name,
		CronExpr: s.cfg.CronExpr,
		Work:     s.Run,
	}
}

// Run executes one cycle: every binding, every target, sequentially. A
// failed target never aborts another target or binding.
func (s *Synchronizer) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)

	for _, binding := range s.bindings {
		if !binding.Source.Ping(ctx) {
			log.Warn().Str("server", binding.Source.Identity().Name).
				Msg("playlist sync: source server unreachable this cycle, skipping")
			continue
		}

		collection, err := binding.Source.Collection(ctx, binding.Library, binding.CollectionName)
		if err != nil || collection == nil {
			log.Warn().Err(err).Str("library", binding.Library).
				Str("collection", binding.CollectionName).
				Msg("playlist sync: failed to load source collection this cycle")
			continue
		}

		for i, target := range binding.Targets {
			if !target.Client.Ping(ctx) {
				log.Warn().Str("server", target.Client.Identity().Name).
					Msg("playlist sync: target server unreachable this cycle, skipping")
				continue
			}

			if err := s.syncTarget(ctx, binding, collection, target); err != nil {
				log.Warn().Err(err).Str("server", target.Client.Identity().Name).
					Str("collection", collection.Name).
					Msg("playlist sync: target sync failed this cycle")
			}

			if i < len(binding.Targets)-1 {
				if !sleepCtx(ctx, s.cfg.InterTargetDelay) {
					return nil
				}
			}
		}
	}
	return nil
}

// resolveDesired walks each collection item's candidate paths and keeps the
// first one the target's path map resolves. Multi-edition preference by
// source media_path prefix is NOT implemented here, matching the original's
// "first that resolves" semantics; see DESIGN.md.
func resolveDesired(ctx context.Context, target *Target, source media.PrimaryClient, collectionName string, items []media.CollectionItem) []string {
	log := logging.FromContext(ctx)
	desired := make([]string, 0, len(items))

	for _, item := range items {
		found := false
		for _, path := range item.Paths {
			if id, ok := target.PathMap.IDOf(path); ok {
				desired = append(desired, id)
				found = true
				break
			}
		}
		if !found {
			log.Warn().Str("server", target.Client.Identity().Name).
				Str("collection", collectionName).Str("item", item.Title).
				Msg("playlist sync: item not found on target this cycle")
		}
	}
	return desired
}

func (s *Synchronizer) syncTarget(ctx context.Context, binding Binding, collection *media.Collection, target *Target) error {
	log := logging.FromContext(ctx)

	if target.PathMap.Len() == 0 && len(collection.Items) > 0 {
		return apierr.New(apierr.Semantic, "syncTarget", fmt.Errorf("target %s path map is empty", target.Client.Identity().Name))
	}

	desired := resolveDesired(ctx, target, binding.Source, collection.Name, collection.Items)

	existing, err := target.Client.Playlist(ctx, collection.Name)
	if err != nil {
		return apierr.New(apierr.Transport, "Playlist", err)
	}

	if existing == nil {
		if err := target.Client.CreatePlaylist(ctx, collection.Name, desired); err != nil {
			return apierr.New(apierr.Protocol, "CreatePlaylist", err)
		}
		log.Info().Str("server", target.Client.Identity().Name).
			Str("collection", collection.Name).Int("items", len(desired)).
			Msg("playlist sync: created playlist")
		return nil
	}

	current := *existing
	added, removed, err := applyAddRemove(ctx, target.Client, current, desired)
	if err != nil {
		return err
	}

	if added > 0 || removed > 0 {
		if !sleepCtx(ctx, s.cfg.SettleDelay) {
			return nil
		}
		refetched, err := target.Client.Playlist(ctx, collection.Name)
		if err != nil || refetched == nil {
			return apierr.New(apierr.Transport, "Playlist (refetch)", err)
		}
		current = *refetched
	}

	if len(current.Entries) != len(desired) {
		log.Warn().Str("server", target.Client.Identity().Name).
			Str("collection", collection.Name).Int("expected", len(desired)).
			Int("actual", len(current.Entries)).
			Msg("playlist sync: length mismatch after settle, aborting target this cycle")
		return nil
	}

	reordered, err := s.reorder(ctx, target.Client, current, desired)
	if err != nil {
		return err
	}

	if added > 0 || removed > 0 || reordered > 0 {
		log.Info().Str("source", binding.Source.Identity().Name).
			Str("target", target.Client.Identity().Name).
			Str("collection", collection.Name).
			Int("added", added).Int("removed", removed).Int("moved", reordered).
			Msg("playlist sync: synced")
	}
	return nil
}

// applyAddRemove computes and issues the add/remove sets. It returns the
// counts, not the sets, since callers only need to know whether anything
// changed.
func applyAddRemove(ctx context.Context, client media.SecondaryClient, current media.Playlist, desired []string) (added, removed int, err error) {
	currentIDs := make(map[string]bool, len(current.Entries))
	for _, e := range current.Entries {
		currentIDs[e.ItemID] = true
	}
	desiredIDs := make(map[string]bool, len(desired))
	for _, id := range desired {
		desiredIDs[id] = true
	}

	var addIDs []string
	for _, id := range desired {
		if !currentIDs[id] {
			addIDs = append(addIDs, id)
		}
	}

	var removeEntryIDs []string
	for _, e := range current.Entries {
		if !desiredIDs[e.ItemID] {
			removeEntryIDs = append(removeEntryIDs, e.EntryID)
		}
	}

	if len(addIDs) > 0 {
		if err := client.AddToPlaylist(ctx, current.ID, addIDs); err != nil {
			return 0, 0, apierr.New(apierr.Protocol, "AddToPlaylist", err)
		}
	}
	if len(removeEntryIDs) > 0 {
		if err := client.RemoveFromPlaylist(ctx, current.ID, removeEntryIDs); err != nil {
			return 0, 0, apierr.New(apierr.Protocol, "RemoveFromPlaylist", err)
		}
	}

	return len(addIDs), len(removeEntryIDs), nil
}

// reorder runs an online-selection-sort reorder pass: at most len(desired)-1
// MoveInPlaylist calls, each followed by a pacing sleep so the server
// commits moves in order.
func (s *Synchronizer) reorder(ctx context.Context, client media.SecondaryClient, current media.Playlist, desired []string) (int, error) {
	log := logging.FromContext(ctx)

	virt := make([]media.PlaylistEntry, len(current.Entries))
	copy(virt, current.Entries)

	moves := 0
	for i := 0; i < len(desired); i++ {
		if virt[i].ItemID == desired[i] {
			continue
		}

		j := -1
		for k := i + 1; k < len(virt); k++ {
			if virt[k].ItemID == desired[i] {
				j = k
				break
			}
		}
		if j < 0 {
			continue
		}

		if err := client.MoveInPlaylist(ctx, current.ID, virt[j].EntryID, i); err != nil {
			log.Warn().Err(err).Str("playlist", current.Name).
				Msg("playlist sync: move failed, continuing")
			continue
		}

		moved := virt[j]
		virt = append(virt[:j], virt[j+1:]...)
		virt = append(virt[:i], append([]media.PlaylistEntry{moved}, virt[i:]...)...)
		moves++

		if !sleepCtx(ctx, s.cfg.PaceDelay) {
			return moves, nil
		}
	}

	return moves, nil
}

// sleepCtx sleeps for d or returns early (reporting false) if ctx is
// cancelled, so pacing delays observe shutdown promptly.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
