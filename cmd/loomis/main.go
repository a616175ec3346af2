// Command loomis is the media-library sync daemon's entry point: load
// configuration, wire one client/tracker pair per configured server, build
// whichever synchronizers are enabled, and run until asked to stop.
//
// Grounded on original_source/src/main.cpp for overall sequencing (init
// logger, read config, exit 1 on an invalid config, construct the service
// manager, register signal handlers, run), adapted to urfave/cli/v2 for flag
// and Action wiring. Unlike the original, the signal handler here never
// reaches through a global service-manager pointer: it only closes a
// channel, and Manager.Run is the sole reader of the context that channel
// cancels.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"loomis/clients/media"
	"loomis/clients/media/emby"
	"loomis/clients/media/plex"
	"loomis/clients/tracker/jellystat"
	"loomis/clients/tracker/tautulli"
	"loomis/config"
	"loomis/logging"
	"loomis/pathmap"
	"loomis/service"
	"loomis/sync/playlist"
	"loomis/sync/watchstate"
)

func main() {
	app := &cli.App{
		Name:  "loomis",
		Usage: "sync collections and watch state across a Plex-family and Emby-family media library",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config-path",
				EnvVars: []string{"CONFIG_PATH"},
				Usage:   "directory containing config.conf",
			},
			&cli.StringFlag{
				Name:    "log-path",
				EnvVars: []string{"LOG_PATH"},
				Usage:   "log directory; accepted but not used, all logs go to stderr",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logging.Initialize()
		logging.FromContext(context.Background()).Fatal().Err(err).Msg("loomis: startup failed")
	}
}

func run(c *cli.Context) error {
	logging.Initialize()
	ctx := context.Background()
	log := logging.FromContext(ctx)

	configPath := c.String("config-path")
	if configPath == "" {
		env, err := config.LoadEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("loomis: CONFIG_PATH not set")
		}
		configPath = env.ConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loomis: config file not valid, shutting down")
	}

	log.Info().Msg("loomis: starting")

	plexClients, plexTrackers := buildPlexServers(cfg.Plex.Servers)
	embyClients, embyTrackers, pathMaps := buildEmbyServers(cfg.Emby.Servers)

	mgr := service.New()
	mgr.RegisterPathMaps(pathMaps)

	if cfg.PlaylistSync.Enabled {
		bindings := buildPlaylistBindings(cfg.PlaylistSync.PlexCollectionSync, plexClients, embyClients, pathMaps)
		synchronizer := playlist.New(bindings, playlist.Config{
			CronExpr:         cfg.PlaylistSync.Cron,
			SettleDelay:      time.Duration(cfg.PlaylistSync.TimeForEmbyToUpdateSeconds) * time.Second,
			InterTargetDelay: time.Duration(cfg.PlaylistSync.TimeBetweenSyncsSeconds) * time.Second,
		})
		mgr.RegisterPlaylistSync(synchronizer)
	}

	if cfg.WatchStateSync.Enabled {
		groups := buildUserGroups(cfg.WatchStateSync.Users, plexClients, plexTrackers, embyClients, embyTrackers, pathMaps)
		synchronizer := watchstate.New(groups, watchstate.Config{CronExpr: cfg.WatchStateSync.Cron})
		mgr.RegisterWatchStateSync(synchronizer)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	mgr.Run(runCtx)
	return nil
}

func buildPlexServers(servers []config.ServerConfig) (map[string]*plex.Client, map[string]*tautulli.Client) {
	clients := make(map[string]*plex.Client, len(servers))
	trackers := make(map[string]*tautulli.Client, len(servers))

	for _, sc := range servers {
		clients[sc.Name] = plex.New(plex.Config{
			Identity: media.Identity{
				Kind:           media.Primary,
				Name:           sc.Name,
				BaseURL:        sc.URL,
				Credential:     sc.APIKey,
				LocalMediaRoot: sc.MediaPath,
			},
			Token: sc.APIKey,
		})

		if sc.TrackerURL != "" {
			trackers[sc.Name] = tautulli.New(tautulli.Config{BaseURL: sc.TrackerURL, APIKey: sc.TrackerAPIKey})
		}
	}
	return clients, trackers
}

func buildEmbyServers(servers []config.ServerConfig) (map[string]*emby.Client, map[string]*jellystat.Client, map[string]*pathmap.Map) {
	clients := make(map[string]*emby.Client, len(servers))
	trackers := make(map[string]*jellystat.Client, len(servers))
	maps := make(map[string]*pathmap.Map, len(servers))

	for _, sc := range servers {
		client := emby.New(emby.Config{
			Identity: media.Identity{
				Kind:           media.Secondary,
				Name:           sc.Name,
				BaseURL:        sc.URL,
				Credential:     sc.APIKey,
				LocalMediaRoot: sc.MediaPath,
			},
			APIKey: sc.APIKey,
		})
		clients[sc.Name] = client
		maps[sc.Name] = pathmap.New(client)

		if sc.TrackerURL != "" {
			trackers[sc.Name] = jellystat.New(jellystat.Config{BaseURL: sc.TrackerURL, APIKey: sc.TrackerAPIKey})
		}
	}
	return clients, trackers, maps
}

// buildPlaylistBindings wires one playlist.Binding per configured
// collection-sync entry. An entry referencing an unknown server name is a
// config error: it is dropped rather than causing the whole process to
// fail.
func buildPlaylistBindings(entries []config.CollectionSyncConfig, plexClients map[string]*plex.Client, embyClients map[string]*emby.Client, pathMaps map[string]*pathmap.Map) []playlist.Binding {
	log := logging.FromContext(context.Background())
	var bindings []playlist.Binding

	for _, entry := range entries {
		source, ok := plexClients[entry.Server]
		if !ok {
			log.Warn().Str("server", entry.Server).Msg("loomis: playlist_sync references an unknown plex server, skipping")
			continue
		}

		var targets []*playlist.Target
		for _, ts := range entry.TargetEmbyServers {
			client, ok := embyClients[ts.Server]
			if !ok {
				log.Warn().Str("server", ts.Server).Msg("loomis: playlist_sync target references an unknown emby server, skipping")
				continue
			}
			targets = append(targets, &playlist.Target{Client: client, PathMap: pathMaps[ts.Server]})
		}

		bindings = append(bindings, playlist.Binding{
			Source:         source,
			Library:        entry.Library,
			CollectionName: entry.CollectionName,
			Targets:        targets,
		})
	}
	return bindings
}

// buildUserGroups wires one watchstate.UserGroup per configured
// watch_state_sync.users entry. A binding referencing an unknown server, or
// a tracker-less server, is dropped rather than failing the whole group.
func buildUserGroups(
	entries []config.UserGroupConfig,
	plexClients map[string]*plex.Client, plexTrackers map[string]*tautulli.Client,
	embyClients map[string]*emby.Client, embyTrackers map[string]*jellystat.Client,
	pathMaps map[string]*pathmap.Map,
) []*watchstate.UserGroup {
	log := logging.FromContext(context.Background())
	groups := make([]*watchstate.UserGroup, 0, len(entries))

	for i, entry := range entries {
		group := &watchstate.UserGroup{Name: groupName(entry, i)}

		for _, b := range entry.Plex {
			client, okClient := plexClients[b.Server]
			tracker, okTracker := plexTrackers[b.Server]
			if !okClient || !okTracker {
				log.Warn().Str("server", b.Server).Str("user", b.UserName).
					Msg("loomis: watch_state_sync plex binding references an unknown server or tracker, skipping")
				continue
			}
			group.Primaries = append(group.Primaries, &watchstate.PrimaryUser{
				Client: client, Tracker: tracker, AccountName: b.UserName, CanSync: b.CanSync,
			})
		}

		for _, b := range entry.Emby {
			client, okClient := embyClients[b.Server]
			tracker, okTracker := embyTrackers[b.Server]
			if !okClient || !okTracker {
				log.Warn().Str("server", b.Server).Str("user", b.UserName).
					Msg("loomis: watch_state_sync emby binding references an unknown server or tracker, skipping")
				continue
			}
			group.Secondaries = append(group.Secondaries, &watchstate.SecondaryUser{
				Client: client, Tracker: tracker, PathMap: pathMaps[b.Server],
				AccountName: b.UserName, CanSync: b.CanSync,
			})
		}

		groups = append(groups, group)
	}
	return groups
}

func groupName(entry config.UserGroupConfig, index int) string {
	if len(entry.Plex) > 0 {
		return entry.Plex[0].UserName
	}
	if len(entry.Emby) > 0 {
		return entry.Emby[0].UserName
	}
	return fmt.Sprintf("group-%d", index)
}
