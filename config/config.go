// Package config loads and validates Loomis's configuration: the
// process-level CONFIG_PATH/LOG_PATH environment variables via caarlos0/env,
// and the JSON config file they point at via koanf, validated with
// go-playground/validator.
//
// Grounded on services/config.go's koanf defaults -> file -> env layering and
// original_source/src/config-reader/config-reader.cpp (the
// ${CONFIG_PATH}/config.conf path and the recognized top-level keys).
package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/go-playground/validator/v10"

	"loomis/apierr"
)

// configFileName is fixed, matching the original's config-reader.
const configFileName = "config.conf"

// Env binds the two environment variables the process reads at startup.
type Env struct {
	ConfigPath string `env:"CONFIG_PATH,required"`
	LogPath    string `env:"LOG_PATH"`
}

// ServerConfig describes one configured Plex-family or Emby-family server.
type ServerConfig struct {
	Name          string `json:"name" validate:"required"`
	URL           string `json:"url" validate:"required,url"`
	APIKey        string `json:"apiKey" validate:"required"`
	TrackerURL    string `json:"tracker_url"`
	TrackerAPIKey string `json:"tracker_api_key"`
	MediaPath     string `json:"media_path"`
}

// AppriseLoggingConfig is the notification-sink collaborator; out of the
// core's scope beyond carrying its settings through config loading.
type AppriseLoggingConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Key     string `json:"key"`
	Title   string `json:"title"`
}

// TargetServerConfig names one playlist-sync destination server.
type TargetServerConfig struct {
	Server string `json:"server" validate:"required"`
}

// CollectionSyncConfig is one configured (source collection, targets) triple.
type CollectionSyncConfig struct {
	Server            string               `json:"server" validate:"required"`
	Library           string               `json:"library" validate:"required"`
	CollectionName    string               `json:"collection_name" validate:"required"`
	TargetEmbyServers []TargetServerConfig `json:"target_emby_servers" validate:"required,min=1,dive"`
}

// PlaylistSyncConfig is the `playlist_sync` top-level block.
type PlaylistSyncConfig struct {
	Enabled                    bool                   `json:"enabled"`
	Cron                       string                 `json:"cron"`
	TimeForEmbyToUpdateSeconds int                    `json:"time_for_emby_to_update_seconds"`
	TimeBetweenSyncsSeconds    int                    `json:"time_between_syncs_seconds"`
	PlexCollectionSync         []CollectionSyncConfig `json:"plex_collection_sync" validate:"dive"`
}

// UserBinding is one human's account on one configured server within a
// watch-state user group.
type UserBinding struct {
	Server   string `json:"server" validate:"required"`
	UserName string `json:"user_name" validate:"required"`
	CanSync  bool   `json:"can_sync"`
}

// UserGroupConfig is one entry of `watch_state_sync.users`.
type UserGroupConfig struct {
	Plex []UserBinding `json:"plex" validate:"dive"`
	Emby []UserBinding `json:"emby" validate:"dive"`
}

// WatchStateSyncConfig is the `watch_state_sync` top-level block.
type WatchStateSyncConfig struct {
	Enabled bool              `json:"enabled"`
	Cron    string            `json:"cron"`
	Users   []UserGroupConfig `json:"users" validate:"dive"`
}

// File is the full recognized shape of ${CONFIG_PATH}/config.conf.
// FolderCleanup is carried through unparsed: its shape is out of scope here.
type File struct {
	Plex struct {
		Servers []ServerConfig `json:"servers" validate:"dive"`
	} `json:"plex"`
	Emby struct {
		Servers []ServerConfig `json:"servers" validate:"dive"`
	} `json:"emby"`
	AppriseLogging AppriseLoggingConfig   `json:"apprise_logging"`
	PlaylistSync   PlaylistSyncConfig     `json:"playlist_sync"`
	WatchStateSync WatchStateSyncConfig   `json:"watch_state_sync"`
	FolderCleanup  map[string]interface{} `json:"folder_cleanup"`
}

// LoadEnv reads CONFIG_PATH/LOG_PATH from the process environment. A missing
// CONFIG_PATH is Fatal: the process exits 1.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return e, apierr.New(apierr.Fatal, "config.LoadEnv", err)
	}
	return e, nil
}

// Load parses and validates ${configPath}/config.conf. An unreadable or
// unparsable file is Fatal: the process exits 1. Per-entry validation
// failures are Config-taxonomy: the offending server or binding is dropped
// and loading proceeds, unless dropping leaves both `plex.servers` and
// `emby.servers` empty, which is escalated to Fatal since no synchronizer
// could be built at all.
func Load(configPath string) (*File, error) {
	k := koanf.New(".")
	defaults := confmap.Provider(map[string]interface{}{
		"playlist_sync.time_for_emby_to_update_seconds": 5,
		"playlist_sync.time_between_syncs_seconds":      1,
		"watch_state_sync.cron":                         "0 */15 * * * *",
		"playlist_sync.cron":                            "0 */30 * * * *",
	}, ".")
	if err := k.Load(defaults, nil); err != nil {
		return nil, apierr.New(apierr.Fatal, "config.Load", fmt.Errorf("loading defaults: %w", err))
	}

	path := filepath.Join(configPath, configFileName)
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return nil, apierr.New(apierr.Fatal, "config.Load", fmt.Errorf("reading %s: %w", path, err))
	}

	var cfg File
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, apierr.New(apierr.Fatal, "config.Load", fmt.Errorf("parsing %s: %w", path, err))
	}

	validate := validator.New()
	cfg.Plex.Servers = dropInvalid(validate, cfg.Plex.Servers)
	cfg.Emby.Servers = dropInvalid(validate, cfg.Emby.Servers)
	cfg.PlaylistSync.PlexCollectionSync = dropInvalid(validate, cfg.PlaylistSync.PlexCollectionSync)
	cfg.WatchStateSync.Users = dropInvalid(validate, cfg.WatchStateSync.Users)

	if len(cfg.Plex.Servers) == 0 && len(cfg.Emby.Servers) == 0 {
		return nil, apierr.New(apierr.Fatal, "config.Load", fmt.Errorf("no valid server could be constructed from %s", path))
	}

	return &cfg, nil
}

// dropInvalid validates each element independently and returns only the
// valid ones: the offending entry is dropped and unrelated entries proceed.
func dropInvalid[T any](validate *validator.Validate, items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if err := validate.Struct(item); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}
