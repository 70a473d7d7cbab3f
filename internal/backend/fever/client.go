// Package fever talks to servers implementing the Fever API. Every call is a
// POST to /?api carrying the api_key form field.
package fever

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/njoerd114/readrelay/internal/backend"
)

// maxPages bounds a full item listing; the API returns 50 items per page.
const maxPages = 2000

// Client implements [backend.Client]. Feed and folder edits are not part of
// the API and return [backend.ErrUnsupported].
type Client struct {
	tr  *backend.Transport
	key string
}

// New returns a client for the Fever endpoint at baseURL.
func New(baseURL, login, password string, opts backend.TransportOptions) (*Client, error) {
	tr, err := backend.NewTransport(baseURL, opts)
	if err != nil {
		return nil, err
	}
	return &Client{tr: tr, key: apiKey(login, password)}, nil
}

// call POSTs to /?api&<params> and rejects responses without auth=1.
func (c *Client) call(ctx context.Context, op string, params url.Values, out interface{ authorized() bool }) error {
	q := url.Values{"api": {""}}
	for k, vs := range params {
		q[k] = vs
	}
	err := c.tr.Send(ctx, op, backend.Request{
		Method: http.MethodPost,
		Path:   "/",
		Query:  q,
		Form:   url.Values{"api_key": {c.key}},
	}, out)
	if err != nil {
		return err
	}
	if !out.authorized() {
		return backend.AuthError(op, errors.New("api key rejected"))
	}
	return nil
}

func (e *envelope) authorized() bool { return bool(e.Auth) }

// Login checks the API key.
func (c *Client) Login(ctx context.Context, creds backend.Credentials) (backend.Session, error) {
	var env envelope
	if err := c.call(ctx, "login", nil, &env); err != nil {
		return backend.Session{}, err
	}
	return backend.Session{DisplayName: creds.Login}, nil
}

// Sync marks items one by one, then lists groups, feeds and items. Items are
// paged by since_id and returned newest first. The watermark is the highest
// item id seen.
func (c *Client) Sync(ctx context.Context, req backend.SyncRequest) (*backend.SyncDelta, error) {
	delta := &backend.SyncDelta{Watermark: req.Watermark}

	if req.Mode == backend.ModeIncremental {
		c.push(ctx, req.Outbound, delta)
	}

	var groups groupsResponse
	if err := c.call(ctx, "list groups", url.Values{"groups": {""}}, &groups); err != nil {
		delta.Fail(backend.CategoryFolders, err)
	} else {
		delta.Folders = convertFolders(groups.Groups)
		delta.MarkFetched(backend.CategoryFolders)
	}

	var feeds feedsResponse
	if err := c.call(ctx, "list feeds", url.Values{"feeds": {""}}, &feeds); err != nil {
		delta.Fail(backend.CategoryFeeds, err)
	} else {
		delta.Feeds = convertFeeds(feeds.Feeds, feedFolders(feeds.FeedsGroups))
		delta.MarkFetched(backend.CategoryFeeds)
	}

	items, highest, err := c.items(ctx, req)
	if err != nil {
		delta.Fail(backend.CategoryItems, err)
		return delta, nil
	}
	delta.Items = items
	if highest > delta.Watermark {
		delta.Watermark = highest
	}
	delta.MarkFetched(backend.CategoryItems)
	return delta, nil
}

func (c *Client) push(ctx context.Context, out backend.Outbound, delta *backend.SyncDelta) {
	mark := func(as string, ids []string) []string {
		var done []string
		for _, id := range ids {
			var env envelope
			err := c.call(ctx, "mark "+as, url.Values{"mark": {"item"}, "as": {as}, "id": {id}}, &env)
			if err != nil {
				delta.Fail(backend.CategoryPush, err)
				continue
			}
			done = append(done, id)
		}
		return done
	}
	delta.Pushed.Read = mark("read", out.Read)
	delta.Pushed.Unread = mark("unread", out.Unread)
}

func (c *Client) items(ctx context.Context, req backend.SyncRequest) ([]backend.RemoteItem, int64, error) {
	since := req.Watermark
	if req.Mode == backend.ModeInitial {
		since = 0
	}

	var all []item
	var highest int64
	for page := 0; page < maxPages; page++ {
		var res itemsResponse
		params := url.Values{"items": {""}, "since_id": {strconv.FormatInt(since, 10)}}
		if err := c.call(ctx, "list items", params, &res); err != nil {
			return nil, 0, err
		}
		if len(res.Items) == 0 {
			break
		}

		advanced := false
		for _, it := range res.Items {
			all = append(all, it)
			if n := numericID(it.ID); n > since {
				since = n
				advanced = true
			}
		}
		if since > highest {
			highest = since
		}
		if !advanced {
			break
		}
		if req.Mode == backend.ModeIncremental && req.PageSize > 0 && len(all) >= req.PageSize {
			break
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return numericID(all[i].ID) > numericID(all[j].ID) })
	out := make([]backend.RemoteItem, len(all))
	for i, it := range all {
		out[i] = convertItem(it)
	}
	return out, highest, nil
}

// CreateFeed is not offered by the Fever API.
func (c *Client) CreateFeed(context.Context, string, backend.FeedEdit) (backend.RemoteFeed, error) {
	return backend.RemoteFeed{}, backend.Unsupported("create feed", "fever")
}

// UpdateFeed is not offered by the Fever API.
func (c *Client) UpdateFeed(context.Context, string, backend.FeedEdit) error {
	return backend.Unsupported("update feed", "fever")
}

// DeleteFeed is not offered by the Fever API.
func (c *Client) DeleteFeed(context.Context, string, backend.FeedEdit) error {
	return backend.Unsupported("delete feed", "fever")
}

// CreateFolder is not offered by the Fever API.
func (c *Client) CreateFolder(context.Context, string, string) (backend.RemoteFolder, error) {
	return backend.RemoteFolder{}, backend.Unsupported("create folder", "fever")
}

// UpdateFolder is not offered by the Fever API.
func (c *Client) UpdateFolder(context.Context, string, backend.FolderEdit) error {
	return backend.Unsupported("update folder", "fever")
}

// DeleteFolder is not offered by the Fever API.
func (c *Client) DeleteFolder(context.Context, string, backend.FolderEdit) error {
	return backend.Unsupported("delete folder", "fever")
}

var _ backend.Client = (*Client)(nil)
