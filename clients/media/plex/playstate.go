package plex

import (
	"context"
	"fmt"
	"net/http"
)

// plexSourceIdentifier is the source identifier Plex expects on scrobble and
// progress calls; it is the same value every first-party Plex client sends.
const plexSourceIdentifier = "com.plexapp.plugins.library"

func (c *Client) doGet(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.identity.BaseURL+path, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("X-Plex-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("plex: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("plex: %s returned status %d", path, resp.StatusCode)
	}
	return nil
}

// MarkWatched marks an item fully watched via Plex's scrobble endpoint,
// grounded on original_source's PlexApi::SetWatched.
func (c *Client) MarkWatched(ctx context.Context, id string) error {
	return c.doGet(ctx, fmt.Sprintf("/:/scrobble?identifier=%s&key=%s", plexSourceIdentifier, id))
}

// SetPosition reports an in-progress playback position in milliseconds,
// grounded on original_source's PlexApi::SetPlayed.
func (c *Client) SetPosition(ctx context.Context, id string, positionMs int64) error {
	return c.doGet(ctx, fmt.Sprintf("/:/progress?identifier=%s&key=%s&time=%d&state=stopped", plexSourceIdentifier, id, positionMs))
}
