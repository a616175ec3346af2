package emby

import (
	"context"

	jellyfin "github.com/sj14/jellyfin-go/api"

	"loomis/clients/media"
)

func (c *Client) WatchedStatus(ctx context.Context, userID, itemID string) (bool, error) {
	item, _, err := c.api.ItemsAPI.GetItems(ctx).Ids([]string{itemID}).UserId(userID).Execute()
	if err != nil {
		return false, err
	}
	if item == nil || len(item.Items) == 0 || !item.Items[0].UserData.IsSet() || item.Items[0].UserData.Get() == nil {
		return false, nil
	}
	return item.Items[0].UserData.Get().Played, nil
}

func (c *Client) SetWatched(ctx context.Context, userID, itemID string) error {
	_, _, err := c.api.PlaystateAPI.MarkPlayedItem(ctx, itemID).UserId(userID).Execute()
	return err
}

func (c *Client) PlayStateOf(ctx context.Context, userID, itemID string) (*media.PlayState, error) {
	result, _, err := c.api.ItemsAPI.GetItems(ctx).Ids([]string{itemID}).UserId(userID).
		Fields([]jellyfin.ItemFields{jellyfin.ITEMFIELDS_PATH}).Execute()
	if err != nil {
		return nil, err
	}
	if result == nil || len(result.Items) == 0 {
		return nil, nil
	}
	item := result.Items[0]

	ps := &media.PlayState{}
	if item.Path != nil {
		ps.Path = *item.Path
	}
	if item.RunTimeTicks.IsSet() && item.RunTimeTicks.Get() != nil {
		ps.RuntimeTicks = *item.RunTimeTicks.Get()
	}
	if item.UserData.IsSet() && item.UserData.Get() != nil {
		ud := item.UserData.Get()
		ps.Played = ud.Played
		ps.PositionTicks = ud.PlaybackPositionTicks
		if ud.PlayCount.IsSet() && ud.PlayCount.Get() != nil {
			ps.PlayCount = int(*ud.PlayCount.Get())
		}
		if ps.RuntimeTicks > 0 {
			ps.PlayedPercent = float64(ps.PositionTicks) / float64(ps.RuntimeTicks) * 100
		}
	}
	return ps, nil
}

func (c *Client) SetPlayState(ctx context.Context, userID, itemID string, positionTicks int64, lastPlayedISO8601 string) error {
	info := jellyfin.NewPlaybackProgressInfo()
	info.SetItemId(itemID)
	info.SetPositionTicks(positionTicks)
	_, err := c.api.PlaystateAPI.ReportPlaybackProgress(ctx).PlaybackProgressInfo(*info).Execute()
	return err
}
