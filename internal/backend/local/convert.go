package local

import (
	"sort"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/model"
)

// convertItem maps a parsed entry. The remote id is the entry's GUID, then
// its link, then a hash of its content.
func convertItem(feedRemoteID string, e *gofeed.Item) backend.RemoteItem {
	ri := backend.RemoteItem{
		FeedID:  feedRemoteID,
		Title:   e.Title,
		Content: e.Content,
		Link:    e.Link,
	}
	if ri.Content == "" {
		ri.Content = e.Description
	}
	if e.Author != nil {
		ri.Author = e.Author.Name
	} else if len(e.Authors) > 0 && e.Authors[0] != nil {
		ri.Author = e.Authors[0].Name
	}
	switch {
	case e.PublishedParsed != nil:
		ri.Published = e.PublishedParsed.UTC()
	case e.UpdatedParsed != nil:
		ri.Published = e.UpdatedParsed.UTC()
	}

	ri.ID = strings.TrimSpace(e.GUID)
	if ri.ID == "" {
		ri.ID = strings.TrimSpace(e.Link)
	}
	if ri.ID == "" {
		hashed := model.Item{Title: ri.Title, Link: ri.Link, PubDate: ri.Published, Content: ri.Content}
		ri.ID = hashed.ContentHash()
	}
	return ri
}

// convertItems returns the feed's entries newest first. Undated entries keep
// their document order after the dated ones.
func convertItems(feedRemoteID string, f *gofeed.Feed) []backend.RemoteItem {
	out := make([]backend.RemoteItem, 0, len(f.Items))
	seen := make(map[string]bool, len(f.Items))
	for _, e := range f.Items {
		if e == nil {
			continue
		}
		ri := convertItem(feedRemoteID, e)
		if seen[ri.ID] {
			continue
		}
		seen[ri.ID] = true
		out = append(out, ri)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newer(out[i].Published, out[j].Published)
	})
	return out
}

func newer(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	if b.IsZero() {
		return true
	}
	return a.After(b)
}

func convertFeed(url string, f *gofeed.Feed) backend.RemoteFeed {
	rf := backend.RemoteFeed{
		ID:      url,
		Name:    strings.TrimSpace(f.Title),
		URL:     url,
		SiteURL: f.Link,
	}
	if f.Image != nil {
		rf.IconURL = f.Image.URL
	}
	return rf
}
