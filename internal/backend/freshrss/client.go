// Package freshrss talks to FreshRSS through its Google Reader compatible
// API (/api/greader.php).
package freshrss

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/readrelay/internal/backend"
)

const (
	apiPath = "/api/greader.php"

	// initialPageSize is the stream page size during a full sync; the
	// listing follows continuations until exhausted.
	initialPageSize = 1000
	// defaultPageSize bounds an incremental listing when the caller does not.
	defaultPageSize = 500
)

// Client implements [backend.Client] and [backend.WriteTokenFetcher].
type Client struct {
	tr *backend.Transport

	mu    sync.RWMutex
	token string

	now func() time.Time
}

// New returns a client for the FreshRSS instance at baseURL. token is the
// Auth token from a previous login and may be empty.
func New(baseURL, token string, opts backend.TransportOptions) (*Client, error) {
	tr, err := backend.NewTransport(strings.TrimRight(baseURL, "/")+apiPath, opts)
	if err != nil {
		return nil, err
	}
	c := &Client{tr: tr, token: token, now: time.Now}
	tr.Authorize = c.authorize
	return c, nil
}

func (c *Client) authorize(r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token != "" {
		r.Header.Set("Authorization", "GoogleLogin auth="+c.token)
	}
}

// Login runs the ClientLogin, write token and user-info chain.
func (c *Client) Login(ctx context.Context, creds backend.Credentials) (backend.Session, error) {
	var body string
	err := c.tr.Send(ctx, "client login", backend.Request{
		Method: http.MethodPost,
		Path:   "accounts/ClientLogin",
		Form:   url.Values{"Email": {creds.Login}, "Passwd": {creds.Password}},
	}, &body)
	if err != nil {
		return backend.Session{}, err
	}
	token := parseClientLogin(body)
	if token == "" {
		return backend.Session{}, backend.AuthError("client login", errors.New("no Auth token in response"))
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	writeToken, err := c.FetchWriteToken(ctx)
	if err != nil {
		return backend.Session{}, err
	}

	var info userInfo
	if err := c.tr.Send(ctx, "user info", backend.Request{
		Path:  "reader/api/0/user-info",
		Query: url.Values{"output": {"json"}},
	}, &info); err != nil {
		return backend.Session{}, err
	}

	return backend.Session{Token: token, WriteToken: writeToken, DisplayName: info.UserName}, nil
}

// FetchWriteToken asks the server for a fresh write token.
func (c *Client) FetchWriteToken(ctx context.Context) (string, error) {
	var body string
	if err := c.tr.Send(ctx, "write token", backend.Request{Path: "reader/api/0/token"}, &body); err != nil {
		return "", err
	}
	tok := strings.TrimSpace(body)
	if tok == "" {
		return "", backend.ProtocolError("write token", errors.New("empty token"))
	}
	return tok, nil
}

// Sync pushes read state, then lists tags and subscriptions in parallel,
// then the reading list.
func (c *Client) Sync(ctx context.Context, req backend.SyncRequest) (*backend.SyncDelta, error) {
	delta := &backend.SyncDelta{}
	started := c.now()

	if req.Mode == backend.ModeIncremental && !req.Outbound.Empty() {
		c.push(ctx, req, delta)
	}

	var tags tagList
	var subs subscriptionList
	var tagErr, subErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tagErr = c.tr.Send(gctx, "list tags", backend.Request{
			Path:  "reader/api/0/tag/list",
			Query: url.Values{"output": {"json"}},
		}, &tags)
		return nil
	})
	g.Go(func() error {
		subErr = c.tr.Send(gctx, "list subscriptions", backend.Request{
			Path:  "reader/api/0/subscription/list",
			Query: url.Values{"output": {"json"}},
		}, &subs)
		return nil
	})
	_ = g.Wait()

	if tagErr != nil {
		delta.Fail(backend.CategoryFolders, tagErr)
	} else {
		delta.Folders = convertFolders(tags.Tags)
		delta.MarkFetched(backend.CategoryFolders)
	}
	if subErr != nil {
		delta.Fail(backend.CategoryFeeds, subErr)
	} else {
		delta.Feeds = convertFeeds(subs.Subscriptions)
		delta.MarkFetched(backend.CategoryFeeds)
	}

	items, updated, err := c.items(ctx, req)
	if err != nil {
		delta.Fail(backend.CategoryItems, err)
	} else {
		delta.Items = items
		delta.MarkFetched(backend.CategoryItems)
	}

	delta.Watermark = updated
	if delta.Watermark == 0 {
		delta.Watermark = started.Unix()
	}
	return delta, nil
}

func (c *Client) push(ctx context.Context, req backend.SyncRequest, delta *backend.SyncDelta) {
	if len(req.Outbound.Read) > 0 {
		if err := c.editTag(ctx, req.WriteToken, req.Outbound.Read, "a"); err != nil {
			delta.Fail(backend.CategoryPush, err)
		} else {
			delta.Pushed.Read = req.Outbound.Read
		}
	}
	if len(req.Outbound.Unread) > 0 {
		if err := c.editTag(ctx, req.WriteToken, req.Outbound.Unread, "r"); err != nil {
			delta.Fail(backend.CategoryPush, err)
		} else {
			delta.Pushed.Unread = req.Outbound.Unread
		}
	}
}

// editTag adds (action "a") or removes (action "r") the read state.
func (c *Client) editTag(ctx context.Context, writeToken string, ids []string, action string) error {
	form := url.Values{"T": {writeToken}, action: {stateRead}}
	for _, id := range ids {
		form.Add("i", id)
	}
	return c.tr.Send(ctx, "edit tag", backend.Request{
		Method: http.MethodPost,
		Path:   "reader/api/0/edit-tag",
		Form:   form,
	}, nil)
}

// items lists the reading list. A full sync pages through unread items; an
// incremental one pages through everything newer than the watermark in
// bounded pages, so the returned watermark never skips an item.
func (c *Client) items(ctx context.Context, req backend.SyncRequest) ([]backend.RemoteItem, int64, error) {
	q := url.Values{"output": {"json"}}
	if req.Mode == backend.ModeInitial {
		q.Set("n", strconv.Itoa(initialPageSize))
		q.Set("xt", stateRead)
	} else {
		n := req.PageSize
		if n <= 0 {
			n = defaultPageSize
		}
		q.Set("n", strconv.Itoa(n))
		q.Set("ot", strconv.FormatInt(req.Watermark, 10))
	}

	var out []backend.RemoteItem
	var updated int64
	for {
		var page streamContents
		err := c.tr.Send(ctx, "list items", backend.Request{
			Path:  "reader/api/0/stream/contents/" + readingList,
			Query: q,
		}, &page)
		if err != nil {
			return nil, 0, err
		}
		if updated == 0 {
			updated = page.Updated
		}
		out = append(out, convertItems(page.Items)...)

		if page.Continuation == "" || len(page.Items) == 0 {
			break
		}
		q.Set("c", page.Continuation)
	}
	return out, updated, nil
}

// CreateFeed subscribes through quickadd and optionally files the feed.
func (c *Client) CreateFeed(ctx context.Context, writeToken string, feed backend.FeedEdit) (backend.RemoteFeed, error) {
	var res quickAddResult
	err := c.tr.Send(ctx, "quickadd", backend.Request{
		Method: http.MethodPost,
		Path:   "reader/api/0/subscription/quickadd",
		Form:   url.Values{"T": {writeToken}, "quickadd": {feed.URL}},
	}, &res)
	if err != nil {
		return backend.RemoteFeed{}, err
	}
	if res.StreamID == "" {
		msg := res.Error
		if msg == "" {
			msg = "no stream id in quickadd response"
		}
		return backend.RemoteFeed{}, backend.ProtocolError("quickadd", errors.New(msg))
	}

	rf := backend.RemoteFeed{ID: res.StreamID, Name: res.StreamName, URL: feed.URL, FolderID: feed.FolderRemoteID}
	if feed.Name != "" || feed.FolderRemoteID != "" {
		edit := feed
		edit.RemoteID = res.StreamID
		if edit.Name == "" {
			edit.Name = res.StreamName
		}
		if err := c.UpdateFeed(ctx, writeToken, edit); err != nil {
			return rf, err
		}
		rf.Name = edit.Name
	}
	return rf, nil
}

// UpdateFeed renames the feed and moves it to the given folder.
func (c *Client) UpdateFeed(ctx context.Context, writeToken string, feed backend.FeedEdit) error {
	form := url.Values{"T": {writeToken}, "ac": {"edit"}, "s": {feed.RemoteID}}
	if feed.Name != "" {
		form.Set("t", feed.Name)
	}
	if feed.FolderRemoteID != "" {
		form.Set("a", feed.FolderRemoteID)
	}
	return c.tr.Send(ctx, "edit subscription", backend.Request{
		Method: http.MethodPost,
		Path:   "reader/api/0/subscription/edit",
		Form:   form,
	}, nil)
}

// DeleteFeed unsubscribes.
func (c *Client) DeleteFeed(ctx context.Context, writeToken string, feed backend.FeedEdit) error {
	return c.tr.Send(ctx, "unsubscribe", backend.Request{
		Method: http.MethodPost,
		Path:   "reader/api/0/subscription/edit",
		Form:   url.Values{"T": {writeToken}, "ac": {"unsubscribe"}, "s": {feed.RemoteID}},
	}, nil)
}

// CreateFolder creates a label. The server only keeps labels that have feeds.
func (c *Client) CreateFolder(ctx context.Context, writeToken string, name string) (backend.RemoteFolder, error) {
	id := labelID(name)
	err := c.tr.Send(ctx, "create folder", backend.Request{
		Method: http.MethodPost,
		Path:   "reader/api/0/edit-tag",
		Form:   url.Values{"T": {writeToken}, "a": {id}},
	}, nil)
	if err != nil {
		return backend.RemoteFolder{}, err
	}
	return backend.RemoteFolder{ID: id, Name: name}, nil
}

// UpdateFolder renames a label. The remote id of the folder does not change
// locally; the next sync reconciles the new tag id.
func (c *Client) UpdateFolder(ctx context.Context, writeToken string, folder backend.FolderEdit) error {
	return c.tr.Send(ctx, "rename folder", backend.Request{
		Method: http.MethodPost,
		Path:   "reader/api/0/rename-tag",
		Form:   url.Values{"T": {writeToken}, "s": {folder.RemoteID}, "dest": {labelID(folder.Name)}},
	}, nil)
}

// DeleteFolder removes a label; its feeds move to the root.
func (c *Client) DeleteFolder(ctx context.Context, writeToken string, folder backend.FolderEdit) error {
	return c.tr.Send(ctx, "delete folder", backend.Request{
		Method: http.MethodPost,
		Path:   "reader/api/0/disable-tag",
		Form:   url.Values{"T": {writeToken}, "s": {folder.RemoteID}},
	}, nil)
}

var (
	_ backend.Client            = (*Client)(nil)
	_ backend.WriteTokenFetcher = (*Client)(nil)
)
