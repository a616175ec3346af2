// Package tautulli implements the PrimaryTracker capability surface against
// a Tautulli instance, Plex's companion watch-history service.
//
// Grounded on _examples' tomtom215-cartographus internal/sync/tautulli_client.go
// (request/response envelope, apikey+cmd query convention) and
// original_source/src/api/api-tautulli.h/.cpp (the capability surface this
// tracker must provide). Cartographus's own ADR-0021 found goccy/go-json
// mis-parsing large Tautulli history payloads, so this client follows its
// fallback and decodes with encoding/json rather than pulling in goccy/go-json
// for a single decode call.
package tautulli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"loomis/clients/media"
	"loomis/logging"
)

// Config names one configured Tautulli instance.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client implements media.PrimaryTracker against one Tautulli instance.
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

type responseEnvelope struct {
	Response struct {
		Result  string          `json:"result"`
		Message *string         `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"response"`
}

func (c *Client) call(ctx context.Context, cmd string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	params.Set("cmd", cmd)
	reqURL := fmt.Sprintf("%s/api/v2?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("tautulli: %s request failed: %w", cmd, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tautulli: %s returned status %d", cmd, resp.StatusCode)
	}

	var env responseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("tautulli: decoding %s response: %w", cmd, err)
	}
	if env.Response.Result != "success" {
		msg := "unknown error"
		if env.Response.Message != nil {
			msg = *env.Response.Message
		}
		return fmt.Errorf("tautulli: %s failed: %s", cmd, msg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Response.Data, out)
}

func (c *Client) Ping(ctx context.Context) bool {
	log := logging.FromContext(ctx)
	if err := c.call(ctx, "arnold", nil, nil); err != nil {
		log.Debug().Err(err).Str("server", c.baseURL).Msg("tautulli: ping failed")
		return false
	}
	return true
}

type usersTable struct {
	Data []struct {
		UserID       int    `json:"user_id"`
		Username     string `json:"username"`
		FriendlyName string `json:"friendly_name"`
	} `json:"data"`
}

// UserInfo resolves a Tautulli account by display or login name, needed
// before the history endpoints can be scoped to one user.
func (c *Client) UserInfo(ctx context.Context, userName string) (media.User, bool) {
	var table usersTable
	if err := c.call(ctx, "get_users_table", nil, &table); err != nil {
		return media.User{}, false
	}
	for _, u := range table.Data {
		if u.Username == userName || u.FriendlyName == userName {
			name := u.FriendlyName
			if name == "" {
				name = u.Username
			}
			return media.User{ID: strconv.Itoa(u.UserID), Name: name}, true
		}
	}
	return media.User{}, false
}

type historyData struct {
	Data []historyRecord `json:"data"`
}

type historyRecord struct {
	RatingKey       *int     `json:"rating_key"`
	FullTitle       string   `json:"full_title"`
	Stopped         int64    `json:"stopped"`
	User            string   `json:"user"`
	PercentComplete *int     `json:"percent_complete"`
	WatchedStatus   *float64 `json:"watched_status"`
	GrandparentTitle *string `json:"grandparent_title"`
}

// WatchHistorySince returns history records for userName from the calendar
// date of sinceISO8601 onward, the per-user poll window the watch-state sync
// cycle drives. Tautulli filters by date only, so records from earlier on
// that same day are included; at most 1000 records are requested.
func (c *Client) WatchHistorySince(ctx context.Context, userName, sinceISO8601 string) ([]media.WatchEvent, error) {
	since, err := time.Parse(time.RFC3339, sinceISO8601)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("after", since.Format("2006-01-02"))
	params.Set("order_column", "started")
	params.Set("order_dir", "desc")
	params.Set("grouping", "0")
	params.Set("length", "1000")

	var data historyData
	if err := c.call(ctx, "get_history", params, &data); err != nil {
		return nil, err
	}

	var out []media.WatchEvent
	for _, r := range data.Data {
		if r.RatingKey == nil || r.User != userName {
			continue
		}
		percent := 0
		if r.PercentComplete != nil {
			percent = *r.PercentComplete
		}
		watched := percent >= 90
		if r.WatchedStatus != nil {
			watched = *r.WatchedStatus >= 1
		}
		ev := media.WatchEvent{
			ItemID:                strconv.Itoa(*r.RatingKey),
			FullTitle:             r.FullTitle,
			Watched:               watched,
			PlaybackPercent:       percent,
			StoppedAtEpochSeconds: r.Stopped,
		}
		if r.GrandparentTitle != nil {
			ev.SeriesName = *r.GrandparentTitle
		}
		out = append(out, ev)
	}
	return out, nil
}
