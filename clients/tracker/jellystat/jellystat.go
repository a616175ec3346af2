// Package jellystat implements the SecondaryTracker capability surface
// against a Jellystat instance, Jellyfin/Emby's companion watch-history
// service.
//
// Grounded on original_source/src/api/api-jellystat.h/.cpp and
// api-jellystat-types.h for the request shape (x-api-token header,
// "/api/getconfig" health probe) and response envelope
// ({"results": [{NowPlayingItemName, NowPlayingItemId, UserName,
// ActivityDateInserted, SeriesName, EpisodeId}]}); request/response plumbing
// follows the net/http+encoding/json pattern established in
// clients/tracker/tautulli for the sibling tracker client.
package jellystat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"loomis/clients/media"
	"loomis/logging"
)

// Config names one configured Jellystat instance.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client implements media.SecondaryTracker against one Jellystat instance.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(cfg Config) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jellystat: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("jellystat: %s returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) Ping(ctx context.Context) bool {
	log := logging.FromContext(ctx)
	if err := c.get(ctx, "/api/getconfig", nil); err != nil {
		log.Debug().Err(err).Str("server", c.baseURL).Msg("jellystat: ping failed")
		return false
	}
	return true
}

type historyItem struct {
	Name       string  `json:"NowPlayingItemName"`
	ID         string  `json:"NowPlayingItemId"`
	User       string  `json:"UserName"`
	WatchTime  string  `json:"ActivityDateInserted"`
	SeriesName *string `json:"SeriesName"`
	EpisodeID  *string `json:"EpisodeId"`
}

type historyItems struct {
	Items []historyItem `json:"results"`
}

// WatchHistoryForUser returns every recorded activity entry for userID.
// Jellystat's history does not carry a watched/percentage field: callers
// resolve the actual play state against the Emby-family server itself once
// they decide an event is worth propagating.
func (c *Client) WatchHistoryForUser(ctx context.Context, userID string) ([]media.WatchEvent, error) {
	var items historyItems
	if err := c.get(ctx, fmt.Sprintf("/api/getUserHistory/%s", userID), &items); err != nil {
		return nil, err
	}

	out := make([]media.WatchEvent, 0, len(items.Items))
	for _, it := range items.Items {
		if it.ID == "" {
			continue
		}
		ev := media.WatchEvent{
			ItemID:    it.ID,
			FullTitle: it.Name,
		}
		if it.SeriesName != nil {
			ev.SeriesName = *it.SeriesName
		}
		if it.EpisodeID != nil {
			ev.EpisodeID = *it.EpisodeID
		}
		if ts, err := time.Parse(time.RFC3339, it.WatchTime); err == nil {
			ev.StoppedAtEpochSeconds = ts.Unix()
		}
		out = append(out, ev)
	}
	return out, nil
}
