package emby

import (
	"context"
	"time"

	jellyfin "github.com/sj14/jellyfin-go/api"

	"loomis/clients/media"
	"loomis/logging"
)

var itemKindsForPathMap = []jellyfin.BaseItemKind{
	jellyfin.BASEITEMKIND_MOVIE,
	jellyfin.BASEITEMKIND_EPISODE,
}

// FindItem resolves one item by the requested search strategy.
func (c *Client) FindItem(ctx context.Context, searchType media.SearchType, query string, extraFilters map[string]string) (*media.Item, error) {
	req := c.api.ItemsAPI.GetItems(ctx).Recursive(true).Limit(1)

	switch searchType {
	case media.ByID:
		req = req.Ids([]string{query})
	case media.ByPath:
		req = req.Path(query)
	default:
		req = req.SearchTerm(query)
	}

	result, _, err := req.Execute()
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Items) == 0 {
		return nil, nil
	}
	item := toMediaItem(&result.Items[0])
	return &item, nil
}

// PathMapSnapshot dumps every movie/episode item's (path, id, timestamp),
// excluding missing items and items with no resolvable path. The timestamp
// stored as DateModified is the item's DateCreated.
func (c *Client) PathMapSnapshot(ctx context.Context) ([]media.PathMapEntry, error) {
	log := logging.FromContext(ctx)

	req := c.api.ItemsAPI.GetItems(ctx).
		Recursive(true).
		IsMissing(false).
		IncludeItemTypes(itemKindsForPathMap).
		Fields([]jellyfin.ItemFields{jellyfin.ITEMFIELDS_PATH, jellyfin.ITEMFIELDS_DATE_CREATED})

	result, _, err := req.Execute()
	if err != nil {
		log.Warn().Err(err).Str("server", c.identity.Name).Msg("emby: path map snapshot fetch failed")
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	entries := make([]media.PathMapEntry, 0, len(result.Items))
	for i := range result.Items {
		item := &result.Items[i]
		if item.Path == nil || *item.Path == "" || item.Id == nil {
			continue
		}
		entries = append(entries, media.PathMapEntry{
			Path:         *item.Path,
			ID:           *item.Id,
			DateModified: formatDateCreated(item),
		})
	}
	return entries, nil
}

// LibraryChangedSince probes the single most recently created item (sorted
// by DateCreated, the same field PathMapSnapshot reports) and reports whether
// its DateCreated is later than sinceISO8601. Edits to an existing item that
// leave its DateCreated unchanged are not detected.
func (c *Client) LibraryChangedSince(ctx context.Context, sinceISO8601 string) (bool, error) {
	req := c.api.ItemsAPI.GetItems(ctx).
		Recursive(true).
		IncludeItemTypes(itemKindsForPathMap).
		Fields([]jellyfin.ItemFields{jellyfin.ITEMFIELDS_DATE_CREATED}).
		SortBy([]string{"DateCreated"}).
		SortOrder([]jellyfin.SortOrder{jellyfin.SORTORDER_DESCENDING}).
		Limit(1)

	result, _, err := req.Execute()
	if err != nil {
		return false, err
	}
	if result == nil || len(result.Items) == 0 {
		return false, nil
	}

	latest := formatDateCreated(&result.Items[0])
	return latest > sinceISO8601, nil
}

func toMediaItem(item *jellyfin.BaseItemDto) media.Item {
	out := media.Item{Kind: media.Other}
	if item.Id != nil {
		out.ID = *item.Id
	}
	if item.Name.IsSet() {
		out.Title = *item.Name.Get()
		out.FullTitle = out.Title
	}
	if item.Path != nil {
		out.Path = *item.Path
	}
	if item.RunTimeTicks.IsSet() {
		out.DurationMs = media.TicksToMs(*item.RunTimeTicks.Get())
	}
	if item.SeriesName.IsSet() {
		out.SeriesName = *item.SeriesName.Get()
	}
	if item.IndexNumber.IsSet() {
		out.EpisodeNum = int(*item.IndexNumber.Get())
	}
	if item.ParentIndexNumber.IsSet() {
		out.SeasonNum = int(*item.ParentIndexNumber.Get())
	}
	if item.UserData.IsSet() && item.UserData.Get() != nil {
		out.Watched = item.UserData.Get().Played
	}
	switch {
	case item.Type != nil && *item.Type == jellyfin.BASEITEMKIND_MOVIE:
		out.Kind = media.Movie
	case item.Type != nil && *item.Type == jellyfin.BASEITEMKIND_EPISODE:
		out.Kind = media.Episode
	}
	return out
}

func formatDateCreated(item *jellyfin.BaseItemDto) string {
	if !item.DateCreated.IsSet() || item.DateCreated.Get() == nil {
		return ""
	}
	return item.DateCreated.Get().UTC().Format(time.RFC3339)
}
