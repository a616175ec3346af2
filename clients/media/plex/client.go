// Package plex implements the PrimaryClient capability surface against a
// Plex Media Server, via the LukeHagar/plexgo SDK.
//
// Grounded on _examples' client/media/plex/client.go (SDK wiring pattern,
// library-section lookup) and original_source/src/api/api-plex.h/.cpp (the
// capability surface this client must provide).
package plex

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/LukeHagar/plexgo"

	"loomis/clients/media"
	"loomis/logging"
)

// Config names one configured Plex server instance.
type Config struct {
	Identity media.Identity
	Token    string
}

// Client implements media.PrimaryClient against one server. Ping, LibraryID,
// TriggerScan and SearchTitle's library listing go through plexgo; the
// collection, item-metadata, section-listing and /servers endpoints are
// fetched as raw XML (fetchContainer), and scrobble/progress are plain GETs
// (doGet).
type Client struct {
	identity media.Identity
	token    string
	api      *plexgo.PlexAPI
	http     *http.Client

	// sectionKeyForFn defaults to c.sectionKeyFor; tests override it to avoid
	// routing section-key lookups through the plexgo SDK.
	sectionKeyForFn func(ctx context.Context, name string) (int, bool)
}

// New builds a Client. It does not make any network calls.
func New(cfg Config) *Client {
	c := &Client{
		identity: cfg.Identity,
		token:    cfg.Token,
		api: plexgo.New(
			plexgo.WithSecurity(cfg.Token),
			plexgo.WithServerURL(cfg.Identity.BaseURL),
		),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	c.sectionKeyForFn = c.sectionKeyFor
	return c
}

func (c *Client) Identity() media.Identity { return c.identity }

func (c *Client) Ping(ctx context.Context) bool {
	log := logging.FromContext(ctx)
	_, err := c.api.Library.GetAllLibraries(ctx)
	if err != nil {
		log.Debug().Err(err).Str("server", c.identity.Name).Msg("plex: ping failed")
		return false
	}
	return true
}

// ReportedName fetches the server's self-reported friendly name, grounded on
// original_source's PlexApi::GetServerReportedName: GET /servers and read the
// first <Server> child's "name" attribute.
func (c *Client) ReportedName(ctx context.Context) (string, bool) {
	container, err := c.fetchContainer(ctx, "/servers")
	if err != nil || len(container.Server) == 0 {
		return "", false
	}
	return container.Server[0].Name, container.Server[0].Name != ""
}

func (c *Client) LibraryID(ctx context.Context, name string) (string, bool) {
	log := logging.FromContext(ctx)
	libraries, err := c.api.Library.GetAllLibraries(ctx)
	if err != nil {
		log.Warn().Err(err).Str("server", c.identity.Name).Msg("plex: failed to list libraries")
		return "", false
	}
	if libraries.Object == nil || libraries.Object.MediaContainer == nil {
		return "", false
	}
	for _, dir := range libraries.Object.MediaContainer.GetDirectory() {
		if strings.EqualFold(dir.Title, name) {
			return dir.Key, true
		}
	}
	return "", false
}

func (c *Client) TriggerScan(ctx context.Context, libraryID string) error {
	sectionKey, err := strconv.Atoi(libraryID)
	if err != nil {
		return err
	}
	_, err = c.api.Library.RefreshLibrary(ctx, sectionKey)
	return err
}

// sectionKeyFor finds the numeric section key backing a named library;
// Collection needs it to build its /library/sections/{key}/all request.
func (c *Client) sectionKeyFor(ctx context.Context, name string) (int, bool) {
	id, ok := c.LibraryID(ctx, name)
	if !ok {
		return 0, false
	}
	key, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return key, true
}
