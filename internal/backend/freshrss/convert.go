package freshrss

import (
	"strings"
	"time"

	"github.com/njoerd114/readrelay/internal/backend"
)

// Google Reader stream and state identifiers.
const (
	readingList  = "user/-/state/com.google/reading-list"
	stateRead    = "user/-/state/com.google/read"
	stateStarred = "user/-/state/com.google/starred"
	labelPrefix  = "user/-/label/"
)

type userInfo struct {
	UserName string `json:"userName"`
}

type tagList struct {
	Tags []tag `json:"tags"`
}

type tag struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type subscriptionList struct {
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	URL        string     `json:"url"`
	HTMLURL    string     `json:"htmlUrl"`
	IconURL    string     `json:"iconUrl"`
	Categories []category `json:"categories"`
}

type category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type streamContents struct {
	Updated      int64  `json:"updated"`
	Continuation string `json:"continuation"`
	Items        []item `json:"items"`
}

type item struct {
	ID         string   `json:"id"`
	Published  int64    `json:"published"`
	Title      string   `json:"title"`
	Author     string   `json:"author"`
	Categories []string `json:"categories"`
	Summary    struct {
		Content string `json:"content"`
	} `json:"summary"`
	Content struct {
		Content string `json:"content"`
	} `json:"content"`
	Alternate []struct {
		Href string `json:"href"`
	} `json:"alternate"`
	Origin struct {
		StreamID string `json:"streamId"`
	} `json:"origin"`
}

type quickAddResult struct {
	NumResults int    `json:"numResults"`
	Query      string `json:"query"`
	StreamID   string `json:"streamId"`
	StreamName string `json:"streamName"`
	Error      string `json:"error"`
}

// convertFolders keeps only real folders; labels and states are dropped.
// Names are left empty so the matcher derives them from the tag id.
func convertFolders(tags []tag) []backend.RemoteFolder {
	var out []backend.RemoteFolder
	for _, t := range tags {
		if t.Type != "folder" {
			continue
		}
		out = append(out, backend.RemoteFolder{ID: t.ID})
	}
	return out
}

func convertFeeds(subs []subscription) []backend.RemoteFeed {
	out := make([]backend.RemoteFeed, 0, len(subs))
	for _, s := range subs {
		rf := backend.RemoteFeed{
			ID:      s.ID,
			Name:    s.Title,
			URL:     s.URL,
			SiteURL: s.HTMLURL,
			IconURL: s.IconURL,
		}
		if len(s.Categories) > 0 {
			rf.FolderID = s.Categories[0].ID
		}
		out = append(out, rf)
	}
	return out
}

func convertItem(it item) backend.RemoteItem {
	ri := backend.RemoteItem{
		ID:     it.ID,
		FeedID: it.Origin.StreamID,
		Title:  it.Title,
		Author: it.Author,
	}
	if it.Published > 0 {
		ri.Published = time.Unix(it.Published, 0).UTC()
	}
	ri.Content = it.Summary.Content
	if ri.Content == "" {
		ri.Content = it.Content.Content
	}
	for _, a := range it.Alternate {
		if a.Href != "" {
			ri.Link = a.Href
			break
		}
	}
	for _, c := range it.Categories {
		switch c {
		case stateRead:
			ri.Read = true
		case stateStarred:
			ri.Starred = true
		}
	}
	return ri
}

func convertItems(items []item) []backend.RemoteItem {
	out := make([]backend.RemoteItem, len(items))
	for i, it := range items {
		out[i] = convertItem(it)
	}
	return out
}

// parseClientLogin extracts the Auth token from a ClientLogin response body
// ("SID=...\nLSID=...\nAuth=...").
func parseClientLogin(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), "Auth="); ok {
			return v
		}
	}
	return ""
}

func labelID(name string) string {
	return labelPrefix + name
}
