// Package match translates backend-neutral remote DTOs into the canonical
// local entities. All functions are pure: ids assigned by the store, the
// item's feed id and its read time are left for the caller to fill.
package match

import (
	"strings"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/model"
)

// FolderName flattens a slash-delimited remote folder identifier to its leaf
// segment: "user/-/label/tech/news" becomes "news". Trailing slashes are
// ignored; an identifier without slashes is returned unchanged.
func FolderName(remoteID string) string {
	trimmed := strings.TrimRight(remoteID, "/")
	if trimmed == "" {
		return remoteID
	}
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// Folder builds a local folder. The backend's display name wins; without one
// the name is derived from the remote id.
func Folder(rf backend.RemoteFolder, accountID int64) model.Folder {
	name := strings.TrimSpace(rf.Name)
	if name == "" {
		name = FolderName(rf.ID)
	}
	return model.Folder{
		Name:      name,
		AccountID: accountID,
		RemoteID:  model.StringPtr(rf.ID),
	}
}

// Feed builds a local feed. FolderRemoteID carries the parent reference until
// the store resolves it to a local folder id. A feed without a name is named
// after its URL.
func Feed(rf backend.RemoteFeed, accountID int64) model.Feed {
	name := strings.TrimSpace(rf.Name)
	if name == "" {
		name = rf.URL
	}
	return model.Feed{
		Name:           name,
		URL:            rf.URL,
		SiteURL:        rf.SiteURL,
		IconURL:        rf.IconURL,
		AccountID:      accountID,
		RemoteID:       model.StringPtr(rf.ID),
		FolderRemoteID: rf.FolderID,
	}
}

// Item builds a local item. FeedRemoteID carries the parent reference for the
// orchestrator.
func Item(ri backend.RemoteItem) model.Item {
	return model.Item{
		RemoteID:     ri.ID,
		FeedRemoteID: ri.FeedID,
		Title:        strings.TrimSpace(ri.Title),
		Content:      ri.Content,
		Author:       ri.Author,
		Link:         ri.Link,
		PubDate:      ri.Published.UTC(),
		Read:         ri.Read,
		Starred:      ri.Starred,
	}
}

// Items maps Item over a slice, preserving order.
func Items(ris []backend.RemoteItem) []model.Item {
	out := make([]model.Item, len(ris))
	for i, ri := range ris {
		out[i] = Item(ri)
	}
	return out
}
