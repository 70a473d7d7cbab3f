// Package nextcloud talks to the Nextcloud News app through its v1-2 REST
// API. Every request is authenticated with HTTP basic auth.
package nextcloud

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/readrelay/internal/backend"
)

const apiPath = "/index.php/apps/news/api/v1-2"

// Client implements [backend.Client].
type Client struct {
	tr  *backend.Transport
	now func() time.Time
}

// New returns a client for the Nextcloud instance at baseURL.
func New(baseURL, login, password string, opts backend.TransportOptions) (*Client, error) {
	tr, err := backend.NewTransport(strings.TrimRight(baseURL, "/")+apiPath, opts)
	if err != nil {
		return nil, err
	}
	tr.Authorize = func(r *http.Request) { r.SetBasicAuth(login, password) }
	return &Client{tr: tr, now: time.Now}, nil
}

// Login checks the credentials against the version endpoint and reads the
// display name. The API has no token; the session carries none.
func (c *Client) Login(ctx context.Context, creds backend.Credentials) (backend.Session, error) {
	var v versionResponse
	if err := c.tr.Send(ctx, "version", backend.Request{Path: "version"}, &v); err != nil {
		return backend.Session{}, err
	}
	if v.Version == "" {
		return backend.Session{}, backend.ProtocolError("version", errors.New("empty version"))
	}

	sess := backend.Session{DisplayName: creds.Login}
	var u userResponse
	// The user endpoint is deprecated and may be missing on newer servers.
	if err := c.tr.Send(ctx, "user", backend.Request{Path: "user"}, &u); err == nil && u.DisplayName != "" {
		sess.DisplayName = u.DisplayName
	}
	return sess, nil
}

// Sync pushes read state, then lists folders and feeds in parallel, then
// items: all unread items on a full sync, items modified since the watermark
// otherwise.
func (c *Client) Sync(ctx context.Context, req backend.SyncRequest) (*backend.SyncDelta, error) {
	delta := &backend.SyncDelta{}
	started := c.now()

	if req.Mode == backend.ModeIncremental && !req.Outbound.Empty() {
		c.push(ctx, req.Outbound, delta)
	}

	var folders foldersResponse
	var feeds feedsResponse
	var folderErr, feedErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		folderErr = c.tr.Send(gctx, "list folders", backend.Request{Path: "folders"}, &folders)
		return nil
	})
	g.Go(func() error {
		feedErr = c.tr.Send(gctx, "list feeds", backend.Request{Path: "feeds"}, &feeds)
		return nil
	})
	_ = g.Wait()

	if folderErr != nil {
		delta.Fail(backend.CategoryFolders, folderErr)
	} else {
		delta.Folders = convertFolders(folders.Folders)
		delta.MarkFetched(backend.CategoryFolders)
	}
	if feedErr != nil {
		delta.Fail(backend.CategoryFeeds, feedErr)
	} else {
		delta.Feeds = convertFeeds(feeds.Feeds)
		delta.MarkFetched(backend.CategoryFeeds)
	}

	var items itemsResponse
	var err error
	if req.Mode == backend.ModeInitial {
		err = c.tr.Send(ctx, "list items", backend.Request{
			Path:  "items",
			Query: url.Values{"type": {"3"}, "getRead": {"false"}, "batchSize": {"-1"}},
		}, &items)
	} else {
		err = c.tr.Send(ctx, "list updated items", backend.Request{
			Path:  "items/updated",
			Query: url.Values{"type": {"3"}, "lastModified": {idString(req.Watermark)}},
		}, &items)
	}

	delta.Watermark = started.Unix()
	if err != nil {
		delta.Fail(backend.CategoryItems, err)
		return delta, nil
	}

	// Newest first; the API does not guarantee an order. The updated listing
	// has no page parameter, so every returned item is kept and the
	// watermark covers them all.
	sort.SliceStable(items.Items, func(i, j int) bool { return items.Items[i].ID > items.Items[j].ID })

	var maxModified int64
	for _, it := range items.Items {
		delta.Items = append(delta.Items, convertItem(it))
		if it.LastModified > maxModified {
			maxModified = it.LastModified
		}
	}
	if maxModified > 0 {
		delta.Watermark = maxModified
	}
	delta.MarkFetched(backend.CategoryItems)
	return delta, nil
}

func (c *Client) push(ctx context.Context, out backend.Outbound, delta *backend.SyncDelta) {
	for _, batch := range []struct {
		state string
		ids   []string
		done  *[]string
	}{
		{"read", out.Read, &delta.Pushed.Read},
		{"unread", out.Unread, &delta.Pushed.Unread},
	} {
		if len(batch.ids) == 0 {
			continue
		}
		ids, err := parseIDs("mark "+batch.state, batch.ids)
		if err != nil {
			delta.Fail(backend.CategoryPush, err)
			continue
		}
		err = c.tr.Send(ctx, "mark "+batch.state, backend.Request{
			Method: http.MethodPut,
			Path:   "items/" + batch.state + "/multiple",
			JSON:   itemIDs{Items: ids},
		}, nil)
		if err != nil {
			delta.Fail(backend.CategoryPush, err)
			continue
		}
		*batch.done = batch.ids
	}
}

// CreateFeed subscribes to feed.URL, optionally inside a folder.
func (c *Client) CreateFeed(ctx context.Context, _ string, f backend.FeedEdit) (backend.RemoteFeed, error) {
	body := map[string]any{"url": f.URL, "folderId": 0}
	if f.FolderRemoteID != "" {
		id, err := parseID("create feed", f.FolderRemoteID)
		if err != nil {
			return backend.RemoteFeed{}, err
		}
		body["folderId"] = id
	}

	var res feedsResponse
	err := c.tr.Send(ctx, "create feed", backend.Request{Method: http.MethodPost, Path: "feeds", JSON: body}, &res)
	if err != nil {
		return backend.RemoteFeed{}, err
	}
	if len(res.Feeds) == 0 {
		return backend.RemoteFeed{}, backend.ProtocolError("create feed", errors.New("no feed in response"))
	}
	rf := convertFeed(res.Feeds[0])

	if f.Name != "" && f.Name != rf.Name {
		edit := backend.FeedEdit{RemoteID: rf.ID, Name: f.Name}
		if err := c.rename(ctx, edit); err != nil {
			return rf, err
		}
		rf.Name = f.Name
	}
	return rf, nil
}

// UpdateFeed renames the feed and moves it to the given folder.
func (c *Client) UpdateFeed(ctx context.Context, _ string, f backend.FeedEdit) error {
	if f.Name != "" {
		if err := c.rename(ctx, f); err != nil {
			return err
		}
	}

	var folderID int64
	if f.FolderRemoteID != "" {
		id, err := parseID("move feed", f.FolderRemoteID)
		if err != nil {
			return err
		}
		folderID = id
	}
	return c.tr.Send(ctx, "move feed", backend.Request{
		Method: http.MethodPut,
		Path:   "feeds/" + f.RemoteID + "/move",
		JSON:   map[string]int64{"folderId": folderID},
	}, nil)
}

func (c *Client) rename(ctx context.Context, f backend.FeedEdit) error {
	return c.tr.Send(ctx, "rename feed", backend.Request{
		Method: http.MethodPut,
		Path:   "feeds/" + f.RemoteID + "/rename",
		JSON:   map[string]string{"feedTitle": f.Name},
	}, nil)
}

// DeleteFeed unsubscribes.
func (c *Client) DeleteFeed(ctx context.Context, _ string, f backend.FeedEdit) error {
	return c.tr.Send(ctx, "delete feed", backend.Request{Method: http.MethodDelete, Path: "feeds/" + f.RemoteID}, nil)
}

// CreateFolder creates a folder. The server answers 409 for a taken name.
func (c *Client) CreateFolder(ctx context.Context, _ string, name string) (backend.RemoteFolder, error) {
	var res foldersResponse
	err := c.tr.Send(ctx, "create folder", backend.Request{
		Method: http.MethodPost,
		Path:   "folders",
		JSON:   map[string]string{"name": name},
	}, &res)
	if err != nil {
		return backend.RemoteFolder{}, err
	}
	if len(res.Folders) == 0 {
		return backend.RemoteFolder{}, backend.ProtocolError("create folder", errors.New("no folder in response"))
	}
	return convertFolders(res.Folders)[0], nil
}

// UpdateFolder renames a folder.
func (c *Client) UpdateFolder(ctx context.Context, _ string, f backend.FolderEdit) error {
	return c.tr.Send(ctx, "rename folder", backend.Request{
		Method: http.MethodPut,
		Path:   "folders/" + f.RemoteID,
		JSON:   map[string]string{"name": f.Name},
	}, nil)
}

// DeleteFolder removes a folder and, server side, its feeds.
func (c *Client) DeleteFolder(ctx context.Context, _ string, f backend.FolderEdit) error {
	return c.tr.Send(ctx, "delete folder", backend.Request{Method: http.MethodDelete, Path: "folders/" + f.RemoteID}, nil)
}

var _ backend.Client = (*Client)(nil)
