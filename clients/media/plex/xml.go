package plex

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"loomis/clients/media"
)

// Plex's own daemon never wraps these endpoints in a typed SDK
// (original_source/src/api/api-plex.cpp talks to them with pugixml over raw
// httplib), so Loomis follows suit here rather than stretching plexgo's
// typed operations over a response shape they don't model cleanly: a
// collection (or item) listing where multi-edition items carry more than
// one <Media> child, each with its own <Part file="...">.
type mediaContainerXML struct {
	XMLName xml.Name    `xml:"MediaContainer"`
	Video   []videoXML  `xml:"Video"`
	Dir     []dirXML    `xml:"Directory"`
	Server  []serverXML `xml:"Server"`
}

type dirXML struct {
	Title string `xml:"title,attr"`
	Key   string `xml:"key,attr"`
}

// serverXML is /servers' own element shape: a <Server name="..."> sibling
// list, distinct from the <Directory title="..."> shape library listings use.
type serverXML struct {
	Name string `xml:"name,attr"`
	Host string `xml:"host,attr"`
}

type videoXML struct {
	Title            string    `xml:"title,attr"`
	RatingKey        string    `xml:"ratingKey,attr"`
	Duration         int64     `xml:"duration,attr"`
	ViewOffset       int64     `xml:"viewOffset,attr"`
	ViewCount        int       `xml:"viewCount,attr"`
	GrandparentTitle string    `xml:"grandparentTitle,attr"`
	ParentIndex      int       `xml:"parentIndex,attr"`
	Index            int       `xml:"index,attr"`
	Media            []mediaXML `xml:"Media"`
}

type mediaXML struct {
	Part []partXML `xml:"Part"`
}

type partXML struct {
	File string `xml:"file,attr"`
}

// collectionTypeCode is Plex's numeric library-item type for a collection.
const collectionTypeCode = 18

func (c *Client) fetchContainer(ctx context.Context, path string) (*mediaContainerXML, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.identity.BaseURL+path, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "text/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("plex: request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("plex: %s returned status %d", path, resp.StatusCode)
	}

	var out mediaContainerXML
	if err := xml.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("plex: decoding %s response: %w", path, err)
	}
	return &out, nil
}

func videoPaths(v videoXML) []string {
	var paths []string
	for _, m := range v.Media {
		for _, p := range m.Part {
			if p.File != "" {
				paths = append(paths, p.File)
			}
		}
	}
	return paths
}

func toItemFromXML(v videoXML) media.Item {
	item := media.Item{
		ID:         v.RatingKey,
		Title:      v.Title,
		FullTitle:  v.Title,
		DurationMs: v.Duration,
		Watched:    v.ViewCount > 0,
		SeriesName: v.GrandparentTitle,
		SeasonNum:  v.ParentIndex,
		EpisodeNum: v.Index,
	}
	if paths := videoPaths(v); len(paths) > 0 {
		item.Path = paths[0]
	}
	return item
}
