// Package local implements the serverless account kind: feeds are fetched
// and parsed directly, and folder or feed edits never leave the machine.
package local

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/njoerd114/readrelay/internal/backend"
)

const (
	defaultConcurrency = 4
	defaultTimeout     = 30 * time.Second
	userAgent          = "readrelay/1.0"
)

// Options tunes a [Client].
type Options struct {
	HTTPClient        *http.Client
	Concurrency       int
	RequestsPerSecond float64
}

// Client implements [backend.Client] for local accounts.
type Client struct {
	hc          *http.Client
	limiter     *rate.Limiter
	concurrency int
	now         func() time.Time
}

// New returns a local client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	n := opts.Concurrency
	if n <= 0 {
		n = defaultConcurrency
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{hc: hc, limiter: rate.NewLimiter(limit, n), concurrency: n, now: time.Now}
}

func (c *Client) parser() *gofeed.Parser {
	p := gofeed.NewParser()
	p.Client = c.hc
	p.UserAgent = userAgent
	return p
}

// fetch downloads and parses one feed.
func (c *Client) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	op := "fetch " + feedURL
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backend.Classify(op, err)
	}
	f, err := c.parser().ParseURLWithContext(feedURL, ctx)
	if err == nil {
		return f, nil
	}

	var he gofeed.HTTPError
	if errors.As(err, &he) {
		return nil, backend.StatusError(op, he.StatusCode, he.Status)
	}
	if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
		return nil, backend.ProtocolError(op, err)
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return nil, backend.Classify(op, err)
	}
	return nil, backend.ProtocolError(op, err)
}

// Login has nothing to check.
func (c *Client) Login(context.Context, backend.Credentials) (backend.Session, error) {
	return backend.Session{DisplayName: "Local"}, nil
}

// Sync fetches every known feed with bounded parallelism. Folders and feeds
// are owned by the local store and never reported. A feed that cannot be
// fetched becomes a warning; the items category fails only when no feed
// could be fetched.
func (c *Client) Sync(ctx context.Context, req backend.SyncRequest) (*backend.SyncDelta, error) {
	delta := &backend.SyncDelta{Watermark: c.now().Unix()}

	var (
		mu      sync.Mutex
		results = make([][]backend.RemoteItem, len(req.KnownFeeds))
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, ref := range req.KnownFeeds {
		g.Go(func() error {
			f, err := c.fetch(gctx, ref.URL)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			results[i] = convertItems(ref.RemoteID, f)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.KnownFeeds) > 0 && len(errs) == len(req.KnownFeeds) {
		delta.Fail(backend.CategoryItems, errors.Join(errs...))
		return delta, nil
	}
	delta.Warnings = errs

	for _, items := range results {
		delta.Items = append(delta.Items, items...)
	}
	delta.MarkFetched(backend.CategoryItems)
	return delta, nil
}

// CreateFeed validates the URL by fetching and parsing it.
func (c *Client) CreateFeed(ctx context.Context, _ string, edit backend.FeedEdit) (backend.RemoteFeed, error) {
	u, err := url.Parse(edit.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return backend.RemoteFeed{}, backend.ProtocolError("create feed", fmt.Errorf("invalid feed url %q", edit.URL))
	}
	f, err := c.fetch(ctx, edit.URL)
	if err != nil {
		return backend.RemoteFeed{}, err
	}
	rf := convertFeed(edit.URL, f)
	if edit.Name != "" {
		rf.Name = edit.Name
	}
	rf.FolderID = edit.FolderRemoteID
	return rf, nil
}

// UpdateFeed is local only.
func (c *Client) UpdateFeed(context.Context, string, backend.FeedEdit) error { return nil }

// DeleteFeed is local only.
func (c *Client) DeleteFeed(context.Context, string, backend.FeedEdit) error { return nil }

// CreateFolder returns a folder without a remote id.
func (c *Client) CreateFolder(_ context.Context, _ string, name string) (backend.RemoteFolder, error) {
	return backend.RemoteFolder{Name: name}, nil
}

// UpdateFolder is local only.
func (c *Client) UpdateFolder(context.Context, string, backend.FolderEdit) error { return nil }

// DeleteFolder is local only.
func (c *Client) DeleteFolder(context.Context, string, backend.FolderEdit) error { return nil }

var _ backend.Client = (*Client)(nil)
