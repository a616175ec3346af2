// Package service implements the top-level service manager: it registers
// the task of every synchronizer the caller built and hands it, plus each
// secondary server's path-map refresher tasks, with the scheduler, starts it,
// and blocks the calling goroutine until an external shutdown signal arrives.
//
// Grounded on original_source/src/service-manager.h/.cpp: CreateServices
// (build enabled services from config), Run (register tasks, start the
// scheduler, wait on a condition variable until ProcessShutdown fires), and
// ProcessShutdown itself (stop the scheduler, wake the waiter). Go has no
// analogue to its std::condition_variable wait, so Run here blocks on a
// context instead — see Manager.Run's doc comment for the mapping.
package service

import (
	"context"

	"loomis/logging"
	"loomis/pathmap"
	"loomis/scheduler"
	"loomis/sync/playlist"
	"loomis/sync/watchstate"
)

// Manager owns the scheduler and the set of refresher tasks each configured
// secondary server's path map needs, on top of whichever synchronizers are
// enabled.
type Manager struct {
	scheduler *scheduler.Scheduler
}

// New builds a Manager around a fresh, unstarted scheduler.
func New() *Manager {
	return &Manager{scheduler: scheduler.New()}
}

// RegisterPathMaps adds every secondary server's quick-check/full-rebuild
// refresher tasks, named after that server so cron-scheduler log lines are
// attributable (original's CreateServices has no equivalent: the original
// refreshes path maps inline inside each sync service rather than as
// independent cron-scheduled tasks).
func (m *Manager) RegisterPathMaps(maps map[string]*pathmap.Map) {
	for name, pm := range maps {
		for _, task := range pm.Tasks(name) {
			m.scheduler.Add(task)
		}
	}
}

// RegisterPlaylistSync adds the playlist synchronizer's task, mirroring
// CreateServices' "if playlist_sync.enabled, construct and register" branch.
func (m *Manager) RegisterPlaylistSync(s *playlist.Synchronizer) {
	m.scheduler.Add(s.Task("playlist_sync"))
}

// RegisterWatchStateSync adds the watch-state synchronizer's task, mirroring
// CreateServices' watch_state_sync branch.
func (m *Manager) RegisterWatchStateSync(s *watchstate.Synchronizer) {
	m.scheduler.Add(s.Task("watch_state_sync"))
}

// Run starts the scheduler and blocks until ctx is cancelled, mirroring
// Run()'s wait on runCv_ and ProcessShutdown()'s notify. The caller is
// expected to derive ctx from a signal-to-channel bridge bound once at
// process start rather than pass context.Background() directly.
//
// If no task was ever registered, this logs a warning and returns
// immediately, matching CreateServices' "services_.empty()" early exit.
func (m *Manager) Run(ctx context.Context) {
	log := logging.FromContext(ctx)

	if !m.scheduler.Start() {
		log.Warn().Msg("service manager: no tasks registered, nothing to run")
		return
	}

	<-ctx.Done()
	log.Info().Msg("service manager: shutdown request received")
	m.scheduler.Shutdown()
	log.Info().Msg("service manager: run has completed")
}
