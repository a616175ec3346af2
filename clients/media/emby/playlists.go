package emby

import (
	"context"

	jellyfin "github.com/sj14/jellyfin-go/api"

	"loomis/clients/media"
)

func (c *Client) PlaylistExists(ctx context.Context, name string) (bool, error) {
	p, err := c.Playlist(ctx, name)
	return p != nil, err
}

func (c *Client) Playlist(ctx context.Context, name string) (*media.Playlist, error) {
	result, _, err := c.api.ItemsAPI.GetItems(ctx).
		Recursive(true).
		IncludeItemTypes([]jellyfin.BaseItemKind{jellyfin.BASEITEMKIND_PLAYLIST}).
		SearchTerm(name).
		Execute()
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Items) == 0 {
		return nil, nil
	}

	var playlistID string
	for _, item := range result.Items {
		if item.Name.IsSet() && *item.Name.Get() == name && item.Id != nil {
			playlistID = *item.Id
			break
		}
	}
	if playlistID == "" {
		return nil, nil
	}

	itemsRes, _, err := c.api.PlaylistsAPI.GetPlaylistItems(ctx, playlistID).Execute()
	if err != nil {
		return nil, err
	}

	entries := make([]media.PlaylistEntry, 0, len(itemsRes.Items))
	for _, item := range itemsRes.Items {
		if item.Id == nil {
			continue
		}
		entryID := *item.Id
		if item.PlaylistItemId.IsSet() && item.PlaylistItemId.Get() != nil {
			entryID = *item.PlaylistItemId.Get()
		}
		title := ""
		if item.Name.IsSet() {
			title = *item.Name.Get()
		}
		entries = append(entries, media.PlaylistEntry{ItemID: *item.Id, EntryID: entryID, Name: title})
	}

	return &media.Playlist{ID: playlistID, Name: name, Entries: entries}, nil
}

func (c *Client) CreatePlaylist(ctx context.Context, name string, itemIDs []string) error {
	resp, _, err := c.api.PlaylistsAPI.CreatePlaylist(ctx).
		Name(name).
		Ids(itemIDs).
		MediaType(jellyfin.MEDIATYPE_VIDEO).
		Execute()
	if err != nil {
		return err
	}
	if resp == nil || resp.Id == nil {
		return media.ErrUnsupported
	}
	return nil
}

func (c *Client) AddToPlaylist(ctx context.Context, playlistID string, itemIDs []string) error {
	_, err := c.api.PlaylistsAPI.AddItemToPlaylist(ctx, playlistID).Ids(itemIDs).Execute()
	return err
}

func (c *Client) RemoveFromPlaylist(ctx context.Context, playlistID string, entryIDs []string) error {
	_, err := c.api.PlaylistsAPI.RemoveItemFromPlaylist(ctx, playlistID).EntryIds(entryIDs).Execute()
	return err
}

// MoveInPlaylist relocates one playlist entry. Jellyfin moves items one at a
// time by entry id, which is exactly the primitive the virtual-projection
// reorder pass in sync/playlist needs.
func (c *Client) MoveInPlaylist(ctx context.Context, playlistID, entryID string, newIndex int) error {
	_, err := c.api.PlaylistsAPI.MoveItem(ctx, playlistID, entryID, int32(newIndex)).Execute()
	return err
}
