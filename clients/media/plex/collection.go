package plex

import (
	"context"
	"fmt"
	"strings"

	"loomis/clients/media"
)

// Collection resolves a named collection within a library, expanding every
// member item to its full set of candidate on-disk paths (one per edition).
//
// Grounded directly on original_source/src/api/api-plex.cpp's
// GetCollectionNode/GetCollection: list the library's collection directory,
// match by title to find the collection's own "all items" key, then fetch
// that listing and flatten each item's Media/Part children into paths.
func (c *Client) Collection(ctx context.Context, library, name string) (*media.Collection, error) {
	sectionKey, ok := c.sectionKeyForFn(ctx, library)
	if !ok {
		return nil, media.ErrUnsupported
	}

	listing, err := c.fetchContainer(ctx, fmt.Sprintf("/library/sections/%d/all?type=%d", sectionKey, collectionTypeCode))
	if err != nil {
		return nil, err
	}

	var childrenKey string
	for _, dir := range listing.Dir {
		if strings.EqualFold(dir.Title, name) {
			childrenKey = dir.Key
			break
		}
	}
	if childrenKey == "" {
		for _, v := range listing.Video {
			if strings.EqualFold(v.Title, name) {
				childrenKey = fmt.Sprintf("/library/metadata/%s/children", v.RatingKey)
				break
			}
		}
	}
	if childrenKey == "" {
		return nil, nil
	}

	children, err := c.fetchContainer(ctx, childrenKey)
	if err != nil {
		return nil, err
	}

	out := &media.Collection{Name: name}
	for _, v := range children.Video {
		paths := videoPaths(v)
		if v.Title == "" || len(paths) == 0 {
			continue
		}
		out.Items = append(out.Items, media.CollectionItem{Title: v.Title, Paths: paths})
	}
	return out, nil
}
