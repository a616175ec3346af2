// Package emby implements the SecondaryClient capability surface against an
// Emby-family server. Jellyfin forked Emby's REST API early and the two
// remain close enough at the wire level that one OpenAPI-generated SDK
// serves both; this client is written against the Jellyfin dialect.
//
// Grounded on _examples' clients/media/jellyfin/client.go (the SDK wiring
// pattern) and original_source/src/api/api-emby.h/.cpp (the capability
// surface this client must provide).
package emby

import (
	"context"
	"fmt"
	"strings"

	jellyfin "github.com/sj14/jellyfin-go/api"

	"loomis/clients/media"
	"loomis/logging"
)

// Config names one configured Emby-family server instance.
type Config struct {
	Identity media.Identity
	APIKey   string
}

// Client implements media.SecondaryClient against one server.
type Client struct {
	identity media.Identity
	api      *jellyfin.APIClient

	userCache map[string]string // account name (lowered) -> server user id
}

// New builds a Client. It does not make any network calls.
func New(cfg Config) *Client {
	apiConfig := &jellyfin.Configuration{
		Servers:       jellyfin.ServerConfigurations{{URL: cfg.Identity.BaseURL}},
		DefaultHeader: map[string]string{"Authorization": fmt.Sprintf(`MediaBrowser Token="%s"`, cfg.APIKey)},
	}

	return &Client{
		identity:  cfg.Identity,
		api:       jellyfin.NewAPIClient(apiConfig),
		userCache: map[string]string{},
	}
}

func (c *Client) Identity() media.Identity { return c.identity }

func (c *Client) Ping(ctx context.Context) bool {
	log := logging.FromContext(ctx)
	info, _, err := c.api.SystemAPI.GetSystemInfo(ctx).Execute()
	if err != nil {
		log.Debug().Err(err).Str("server", c.identity.Name).Msg("emby: ping failed")
		return false
	}
	return info != nil
}

func (c *Client) ReportedName(ctx context.Context) (string, bool) {
	info, _, err := c.api.SystemAPI.GetSystemInfo(ctx).Execute()
	if err != nil || info == nil || !info.ServerName.IsSet() {
		return "", false
	}
	return *info.ServerName.Get(), true
}

func (c *Client) LibraryID(ctx context.Context, name string) (string, bool) {
	log := logging.FromContext(ctx)
	views, _, err := c.api.LibraryStructureAPI.GetVirtualFolders(ctx).Execute()
	if err != nil {
		log.Warn().Err(err).Str("server", c.identity.Name).Msg("emby: failed to list libraries")
		return "", false
	}
	for _, v := range views {
		if strings.EqualFold(v.Name, name) {
			return v.ItemId, true
		}
	}
	return "", false
}

func (c *Client) FindUser(ctx context.Context, name string) (media.User, bool) {
	if id, ok := c.userCache[strings.ToLower(name)]; ok {
		return media.User{ID: id, Name: name}, true
	}

	users, _, err := c.api.UserAPI.GetUsers(ctx).Execute()
	if err != nil {
		return media.User{}, false
	}
	for _, u := range users {
		if u.Name.IsSet() && strings.EqualFold(*u.Name.Get(), name) && u.Id != nil {
			c.userCache[strings.ToLower(name)] = *u.Id
			return media.User{ID: *u.Id, Name: name}, true
		}
	}
	return media.User{}, false
}

func (c *Client) TriggerScan(ctx context.Context, libraryID string) error {
	_, err := c.api.LibraryAPI.RefreshLibrary(ctx).Execute()
	return err
}
