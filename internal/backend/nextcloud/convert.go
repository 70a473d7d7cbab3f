package nextcloud

import (
	"fmt"
	"strconv"
	"time"

	"github.com/njoerd114/readrelay/internal/backend"
)

type versionResponse struct {
	Version string `json:"version"`
}

type userResponse struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

type foldersResponse struct {
	Folders []folder `json:"folders"`
}

type folder struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type feedsResponse struct {
	Feeds []feed `json:"feeds"`
}

type feed struct {
	ID          int64  `json:"id"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	FaviconLink string `json:"faviconLink"`
	Link        string `json:"link"`
	FolderID    *int64 `json:"folderId"`
}

type itemsResponse struct {
	Items []item `json:"items"`
}

type item struct {
	ID           int64  `json:"id"`
	GUID         string `json:"guid"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	PubDate      int64  `json:"pubDate"`
	Body         string `json:"body"`
	FeedID       int64  `json:"feedId"`
	Unread       bool   `json:"unread"`
	Starred      bool   `json:"starred"`
	LastModified int64  `json:"lastModified"`
}

type itemIDs struct {
	Items []int64 `json:"items"`
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

// parseID converts a remote id back to the integer the API expects.
func parseID(op, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, backend.ProtocolError(op, fmt.Errorf("remote id %q is not numeric", s))
	}
	return id, nil
}

func parseIDs(op string, ss []string) ([]int64, error) {
	out := make([]int64, 0, len(ss))
	for _, s := range ss {
		id, err := parseID(op, s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func convertFolders(fs []folder) []backend.RemoteFolder {
	out := make([]backend.RemoteFolder, len(fs))
	for i, f := range fs {
		out[i] = backend.RemoteFolder{ID: idString(f.ID), Name: f.Name}
	}
	return out
}

func convertFeed(f feed) backend.RemoteFeed {
	rf := backend.RemoteFeed{
		ID:      idString(f.ID),
		Name:    f.Title,
		URL:     f.URL,
		SiteURL: f.Link,
		IconURL: f.FaviconLink,
	}
	// 0 and null both mean the root.
	if f.FolderID != nil && *f.FolderID != 0 {
		rf.FolderID = idString(*f.FolderID)
	}
	return rf
}

func convertFeeds(fs []feed) []backend.RemoteFeed {
	out := make([]backend.RemoteFeed, len(fs))
	for i, f := range fs {
		out[i] = convertFeed(f)
	}
	return out
}

func convertItem(it item) backend.RemoteItem {
	ri := backend.RemoteItem{
		ID:      idString(it.ID),
		FeedID:  idString(it.FeedID),
		Title:   it.Title,
		Content: it.Body,
		Author:  it.Author,
		Link:    it.URL,
		Read:    !it.Unread,
		Starred: it.Starred,
	}
	if it.PubDate > 0 {
		ri.Published = time.Unix(it.PubDate, 0).UTC()
	}
	return ri
}
