package plex

import (
	"context"
	"fmt"
	"strings"

	"loomis/clients/media"
)

// ItemPathsByIDs batch-resolves ratingKeys to their primary on-disk path.
// Plex's batch metadata endpoint accepts a comma-separated ratingKey list
// (the original's single-id GetItemInfo widened to the batch shape the
// watch-state refresh step needs).
func (c *Client) ItemPathsByIDs(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	container, err := c.fetchContainer(ctx, "/library/metadata/"+strings.Join(ids, ","))
	if err != nil {
		return nil, err
	}
	for _, v := range container.Video {
		if paths := videoPaths(v); len(paths) > 0 {
			out[v.RatingKey] = paths[0]
		}
	}
	return out, nil
}

// SearchTitle looks up items across every library by title, mirroring
// original_source's PlexApi::GetItemInfo: fetch every section's listing and
// match client-side, since Plex's title filter is inconsistent across
// library types.
func (c *Client) SearchTitle(ctx context.Context, query string) ([]media.Item, error) {
	libraries, err := c.api.Library.GetAllLibraries(ctx)
	if err != nil {
		return nil, err
	}
	if libraries.Object == nil || libraries.Object.MediaContainer == nil {
		return nil, nil
	}

	var out []media.Item
	for _, dir := range libraries.Object.MediaContainer.GetDirectory() {
		container, err := c.fetchContainer(ctx, fmt.Sprintf("/library/sections/%s/all", dir.Key))
		if err != nil {
			continue
		}
		for _, v := range container.Video {
			if !strings.Contains(strings.ToLower(v.Title), strings.ToLower(query)) {
				continue
			}
			out = append(out, toItemFromXML(v))
		}
	}
	return out, nil
}
