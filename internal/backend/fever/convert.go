package fever

import (
	"bytes"
	"crypto/md5" //nolint:gosec // the Fever API key is defined as an MD5 digest
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/readrelay/internal/backend"
)

// flexID accepts both JSON numbers and strings; servers disagree.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("fever id %s: %w", b, err)
	}
	*f = flexID(n.String())
	return nil
}

// flexBool accepts 0/1, "0"/"1" and true/false.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(bytes.TrimSpace(b)), `"`) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

type envelope struct {
	APIVersion int      `json:"api_version"`
	Auth       flexBool `json:"auth"`
}

type groupsResponse struct {
	envelope
	Groups      []group      `json:"groups"`
	FeedsGroups []feedsGroup `json:"feeds_groups"`
}

type group struct {
	ID    flexID `json:"id"`
	Title string `json:"title"`
}

type feedsGroup struct {
	GroupID flexID `json:"group_id"`
	FeedIDs string `json:"feed_ids"`
}

type feedsResponse struct {
	envelope
	Feeds       []feed       `json:"feeds"`
	FeedsGroups []feedsGroup `json:"feeds_groups"`
}

type feed struct {
	ID      flexID `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	SiteURL string `json:"site_url"`
}

type itemsResponse struct {
	envelope
	Items      []item `json:"items"`
	TotalItems int    `json:"total_items"`
}

type item struct {
	ID            flexID   `json:"id"`
	FeedID        flexID   `json:"feed_id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	HTML          string   `json:"html"`
	URL           string   `json:"url"`
	IsRead        flexBool `json:"is_read"`
	IsSaved       flexBool `json:"is_saved"`
	CreatedOnTime int64    `json:"created_on_time"`
}

// apiKey is md5("login:password") in lowercase hex.
func apiKey(login, password string) string {
	sum := md5.Sum([]byte(login + ":" + password)) //nolint:gosec // protocol requirement
	return hex.EncodeToString(sum[:])
}

func convertFolders(gs []group) []backend.RemoteFolder {
	out := make([]backend.RemoteFolder, len(gs))
	for i, g := range gs {
		out[i] = backend.RemoteFolder{ID: string(g.ID), Name: g.Title}
	}
	return out
}

// feedFolders maps feed id to group id. A feed in several groups keeps the
// first.
func feedFolders(fgs []feedsGroup) map[string]string {
	out := make(map[string]string)
	for _, fg := range fgs {
		for _, id := range strings.Split(fg.FeedIDs, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := out[id]; !ok {
				out[id] = string(fg.GroupID)
			}
		}
	}
	return out
}

func convertFeeds(fs []feed, folders map[string]string) []backend.RemoteFeed {
	out := make([]backend.RemoteFeed, len(fs))
	for i, f := range fs {
		out[i] = backend.RemoteFeed{
			ID:       string(f.ID),
			Name:     f.Title,
			URL:      f.URL,
			SiteURL:  f.SiteURL,
			FolderID: folders[string(f.ID)],
		}
	}
	return out
}

func convertItem(it item) backend.RemoteItem {
	ri := backend.RemoteItem{
		ID:      string(it.ID),
		FeedID:  string(it.FeedID),
		Title:   it.Title,
		Author:  it.Author,
		Content: it.HTML,
		Link:    it.URL,
		Read:    bool(it.IsRead),
		Starred: bool(it.IsSaved),
	}
	if it.CreatedOnTime > 0 {
		ri.Published = time.Unix(it.CreatedOnTime, 0).UTC()
	}
	return ri
}

func numericID(id flexID) int64 {
	n, _ := strconv.ParseInt(string(id), 10, 64)
	return n
}
