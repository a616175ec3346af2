// Package watchstate implements the watch-state synchronizer: for each
// configured user-group, it propagates "watched" and "in-progress" playback
// events from each source user to every peer user in the group.
//
// Grounded on original_source/src/services/watch-state-sync/watch-state-sync-service.cpp,
// watch-state-user.cpp, plex-user.cpp and emby-user.cpp.
package watchstate

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"loomis/clients/media"
	"loomis/logging"
	"loomis/pathmap"
	"loomis/scheduler"
)

// PrimaryUser is one named human's account on a Plex-family server.
type PrimaryUser struct {
	Client  media.PrimaryClient
	Tracker media.PrimaryTracker

	AccountName string
	CanSync     bool

	valid        bool
	serverUserID string
	displayName  string
}

// SecondaryUser is one named human's account on an Emby-family server.
type SecondaryUser struct {
	Client  media.SecondaryClient
	Tracker media.SecondaryTracker
	PathMap *pathmap.Map

	AccountName string
	CanSync     bool

	valid        bool
	serverUserID string
	displayName  string
}

// UserGroup is a set of accounts belonging to the same human across peer
// servers. Name is used only for logging.
type UserGroup struct {
	Name        string
	Primaries   []*PrimaryUser
	Secondaries []*SecondaryUser
}

func (g *UserGroup) validCount() int {
	n := 0
	for _, u := range g.Primaries {
		if u.valid {
			n++
		}
	}
	for _, u := range g.Secondaries {
		if u.valid {
			n++
		}
	}
	return n
}

// Config carries the synchronizer's scheduling knob.
type Config struct {
	CronExpr string
}

func (c Config) withDefaults() Config {
	if c.CronExpr == "" {
		c.CronExpr = "0 */15 * * * *"
	}
	return c
}

// Synchronizer runs all configured UserGroups on each cycle.
type Synchronizer struct {
	groups []*UserGroup
	cfg    Config
	now    func() time.Time
}

// New builds a Synchronizer.
func New(groups []*UserGroup, cfg Config) *Synchronizer {
	return &Synchronizer{groups: groups, cfg: cfg.withDefaults(), now: time.Now}
}

// Task returns the scheduled task descriptor for this synchronizer.
func (s *Synchronizer) Task(name string) scheduler.Task {
	return scheduler.Task{Name: name, CronExpr: s.cfg.CronExpr, Work: s.Run}
}

// resolvedEvent pairs a WatchEvent with the source-side path it resolved to
// (step C). An event with no resolvable path never reaches application.
type resolvedEvent struct {
	media.WatchEvent
	Path string
}

// Run executes one cycle over every configured group. A panic or error in
// one user's sync body is caught, logged, and never aborts another user or
// group.
func (s *Synchronizer) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)

	for _, group := range s.groups {
		s.refreshGroup(ctx, group)

		if group.validCount() < 2 {
			continue
		}

		for _, pu := range group.Primaries {
			if !pu.valid {
				continue
			}
			s.safely(log, pu.AccountName, func() { s.syncFromPrimary(ctx, group, pu) })
		}
		for _, su := range group.Secondaries {
			if !su.valid {
				continue
			}
			s.safely(log, su.AccountName, func() { s.syncFromSecondary(ctx, group, su) })
		}
	}
	return nil
}

// safely runs body, recovering a panic so one broken user can never take
// down the rest of the cycle.
func (s *Synchronizer) safely(log zerolog.Logger, user string, body func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Str("user", user).Interface("panic", r).
				Msg("watch state sync: recovered from panic syncing user")
		}
	}()
	body()
}

// refreshGroup resolves each user's opaque server-side id and marks users on
// an offline server invalid for this cycle only (step A).
func (s *Synchronizer) refreshGroup(ctx context.Context, group *UserGroup) {
	for _, pu := range group.Primaries {
		pu.valid = false
		if !pu.Client.Ping(ctx) || !pu.Tracker.Ping(ctx) {
			continue
		}
		if u, ok := pu.Tracker.UserInfo(ctx, pu.AccountName); ok {
			pu.serverUserID = u.ID
			pu.displayName = displayNameOf(u, pu.AccountName)
			pu.valid = true
		}
	}
	for _, su := range group.Secondaries {
		su.valid = false
		if !su.Client.Ping(ctx) || !su.Tracker.Ping(ctx) {
			continue
		}
		if u, ok := su.Client.FindUser(ctx, su.AccountName); ok {
			su.serverUserID = u.ID
			su.displayName = displayNameOf(u, su.AccountName)
			su.valid = true
		}
	}
}

// consolidate groups events by itemId and keeps only the latest event per
// group, with a deterministic tie-break (stable sort by id asc, timestamp
// desc, take first of each id).
func consolidate(events []media.WatchEvent) []media.WatchEvent {
	sorted := make([]media.WatchEvent, len(events))
	copy(sorted, events)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ItemID != sorted[j].ItemID {
			return sorted[i].ItemID < sorted[j].ItemID
		}
		return sorted[i].Timestamp() > sorted[j].Timestamp()
	})

	out := make([]media.WatchEvent, 0, len(sorted))
	seen := map[string]bool{}
	for _, e := range sorted {
		if seen[e.ItemID] {
			continue
		}
		seen[e.ItemID] = true
		out = append(out, e)
	}
	return out
}

func (s *Synchronizer) collectPrimaryHistory(ctx context.Context, pu *PrimaryUser) []media.WatchEvent {
	log := logging.FromContext(ctx)
	since := s.now().Add(-24 * time.Hour).UTC().Format("2006-01-02T15:04:05Z")

	events, err := pu.Tracker.WatchHistorySince(ctx, pu.AccountName, since)
	if err != nil {
		log.Warn().Err(err).Str("user", pu.AccountName).
			Msg("watch state sync: failed to fetch primary history this cycle")
		return nil
	}
	return consolidate(events)
}

func (s *Synchronizer) collectSecondaryHistory(ctx context.Context, su *SecondaryUser) []media.WatchEvent {
	log := logging.FromContext(ctx)

	events, err := su.Tracker.WatchHistoryForUser(ctx, su.serverUserID)
	if err != nil {
		log.Warn().Err(err).Str("user", su.AccountName).
			Msg("watch state sync: failed to fetch secondary history this cycle")
		return nil
	}

	cutoff := s.now().Add(-24 * time.Hour).Unix()
	recent := make([]media.WatchEvent, 0, len(events))
	for _, e := range events {
		if e.Timestamp() >= cutoff {
			recent = append(recent, e)
		}
	}
	return consolidate(recent)
}

func (s *Synchronizer) syncFromPrimary(ctx context.Context, group *UserGroup, pu *PrimaryUser) {
	log := logging.FromContext(ctx)

	consolidated := s.collectPrimaryHistory(ctx, pu)
	if len(consolidated) == 0 {
		return
	}

	ids := make([]string, len(consolidated))
	for i, e := range consolidated {
		ids[i] = e.ItemID
	}
	paths, err := pu.Client.ItemPathsByIDs(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Str("user", pu.AccountName).
			Msg("watch state sync: failed to resolve primary item paths this cycle")
		return
	}

	sourceName := pu.Client.Identity().Name

	for _, e := range consolidated {
		path, ok := paths[e.ItemID]
		if !ok || path == "" {
			continue
		}
		ev := resolvedEvent{WatchEvent: e, Path: path}

		var destServers []string
		for _, peer := range group.Secondaries {
			if !peer.valid || !peer.CanSync {
				continue
			}
			applied, err := s.applySecondaryFromPrimary(ctx, peer, ev)
			if err != nil {
				log.Warn().Err(err).Str("user", peer.AccountName).
					Msg("watch state sync: apply to secondary peer failed")
				continue
			}
			if applied {
				destServers = append(destServers, peer.Client.Identity().Name)
			}
		}

		s.logPropagation(log, sourceName, pu.displayName, ev.WatchEvent, destServers)
	}
}

func (s *Synchronizer) syncFromSecondary(ctx context.Context, group *UserGroup, su *SecondaryUser) {
	log := logging.FromContext(ctx)

	consolidated := s.collectSecondaryHistory(ctx, su)
	if len(consolidated) == 0 {
		return
	}

	sourceName := su.Client.Identity().Name
	sourceRoot := su.Client.Identity().LocalMediaRoot

	for _, e := range consolidated {
		playStateID := e.ItemID
		if e.EpisodeID != "" {
			playStateID = e.EpisodeID
		}
		ps, err := su.Client.PlayStateOf(ctx, su.serverUserID, playStateID)
		if err != nil || ps == nil || ps.Path == "" {
			continue
		}
		e.Watched = ps.Played
		e.PlaybackPercent = roundPercent(ps.PlayedPercent)
		ev := resolvedEvent{WatchEvent: e, Path: ps.Path}

		var destServers []string

		for _, peer := range group.Primaries {
			if !peer.valid || !peer.CanSync {
				continue
			}
			applied, err := s.applyPrimaryFromSecondary(ctx, peer, sourceRoot, ev)
			if err != nil {
				log.Warn().Err(err).Str("user", peer.AccountName).
					Msg("watch state sync: apply to primary peer failed")
				continue
			}
			if applied {
				destServers = append(destServers, peer.Client.Identity().Name)
			}
		}

		for _, peer := range group.Secondaries {
			if peer == su || !peer.valid || !peer.CanSync {
				continue
			}
			if peer.Client.Identity().BaseURL == su.Client.Identity().BaseURL {
				continue
			}
			applied, err := s.applySecondaryFromSecondary(ctx, peer, sourceRoot, ev)
			if err != nil {
				log.Warn().Err(err).Str("user", peer.AccountName).
					Msg("watch state sync: apply to secondary peer failed")
				continue
			}
			if applied {
				destServers = append(destServers, peer.Client.Identity().Name)
			}
		}

		s.logPropagation(log, sourceName, su.displayName, ev.WatchEvent, destServers)
	}
}

// applySecondaryFromPrimary is step D case 1.
func (s *Synchronizer) applySecondaryFromPrimary(ctx context.Context, peer *SecondaryUser, ev resolvedEvent) (bool, error) {
	itemID, ok := peer.PathMap.IDOf(ev.Path)
	if !ok {
		return false, nil
	}

	if ev.Watched {
		watched, err := peer.Client.WatchedStatus(ctx, peer.serverUserID, itemID)
		if err != nil {
			return false, err
		}
		if watched {
			return false, nil
		}
		if err := peer.Client.SetWatched(ctx, peer.serverUserID, itemID); err != nil {
			return false, err
		}
		return true, nil
	}

	current, err := peer.Client.PlayStateOf(ctx, peer.serverUserID, itemID)
	if err != nil || current == nil {
		return false, err
	}
	if roundPercent(current.PlayedPercent) == ev.PlaybackPercent {
		return false, nil
	}
	positionTicks := current.RuntimeTicks * int64(ev.PlaybackPercent) / 100
	if err := peer.Client.SetPlayState(ctx, peer.serverUserID, itemID, positionTicks, isoNow(s.now())); err != nil {
		return false, err
	}
	return true, nil
}

// applyPrimaryFromSecondary is step D case 2.
func (s *Synchronizer) applyPrimaryFromSecondary(ctx context.Context, peer *PrimaryUser, sourceRoot string, ev resolvedEvent) (bool, error) {
	rewritten := rewritePath(ev.Path, sourceRoot, peer.Client.Identity().LocalMediaRoot)

	candidates, err := peer.Client.SearchTitle(ctx, ev.FullTitle)
	if err != nil {
		return false, err
	}
	var matched *media.Item
	for i := range candidates {
		if candidates[i].Path == rewritten {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		return false, nil
	}

	if ev.Watched {
		if matched.Watched {
			return false, nil
		}
		if err := peer.Client.MarkWatched(ctx, matched.ID); err != nil {
			return false, err
		}
		return true, nil
	}

	positionMs := matched.DurationMs * int64(ev.PlaybackPercent) / 100
	if err := peer.Client.SetPosition(ctx, matched.ID, positionMs); err != nil {
		return false, err
	}
	return true, nil
}

// applySecondaryFromSecondary is step D case 3: identical to case 1 but with
// path rewriting between the two secondaries' localMediaRoots.
func (s *Synchronizer) applySecondaryFromSecondary(ctx context.Context, peer *SecondaryUser, sourceRoot string, ev resolvedEvent) (bool, error) {
	rewritten := rewritePath(ev.Path, sourceRoot, peer.Client.Identity().LocalMediaRoot)
	return s.applySecondaryFromPrimary(ctx, peer, resolvedEvent{WatchEvent: ev.WatchEvent, Path: rewritten})
}

// rewritePath strips fromRoot off path and prepends toRoot to translate a
// path between two servers' local media roots. If path does not carry the
// expected prefix it is returned unmodified, which will simply fail to
// resolve downstream.
func rewritePath(path, fromRoot, toRoot string) string {
	if fromRoot == "" || !strings.HasPrefix(path, fromRoot) {
		return path
	}
	return toRoot + strings.TrimPrefix(path, fromRoot)
}

// displayNameOf prefers the tracker-reported name over the configured
// account name for log output, matching PlexUser::GetUser's preference in
// the original.
func displayNameOf(u media.User, accountName string) string {
	if u.Name != "" {
		return u.Name
	}
	return accountName
}

func roundPercent(p float64) int {
	return int(p + 0.5)
}

func isoNow(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// logPropagation emits one summary line per successful propagation. Events
// with no successful destination are silent.
func (s *Synchronizer) logPropagation(log zerolog.Logger, sourceServer, user string, ev media.WatchEvent, destServers []string) {
	if len(destServers) == 0 {
		return
	}

	state := watchedLabel(ev)
	log.Info().Msgf("%s:%s %s of %s sync %s %s state",
		sourceServer, user, state, ev.FullTitle, strings.Join(destServers, ","), stateKind(ev))
}

func watchedLabel(ev media.WatchEvent) string {
	if ev.Watched {
		return "watched"
	}
	return "played " + strconv.Itoa(ev.PlaybackPercent) + "%"
}

func stateKind(ev media.WatchEvent) string {
	if ev.Watched {
		return "watch"
	}
	return "play"
}
