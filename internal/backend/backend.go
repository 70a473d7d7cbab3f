// Package backend defines the contract every server protocol driver
// implements, the backend-neutral DTOs drivers return, the error taxonomy the
// orchestrator relies on, and a shared rate-limited HTTP [Transport].
//
// Drivers live in sub-packages, one per [model.Kind]. A driver decodes its
// backend-native JSON into [RemoteFolder], [RemoteFeed] and [RemoteItem]
// (normalising remote ids to strings) and never touches the local store.
package backend

import (
	"context"
	"errors"
	"time"
)

// Mode selects between a full and a delta sync.
type Mode int

const (
	// ModeInitial fetches the full remote state.
	ModeInitial Mode = iota
	// ModeIncremental pushes local changes and fetches what changed since the
	// watermark.
	ModeIncremental
)

func (m Mode) String() string {
	if m == ModeInitial {
		return "initial"
	}
	return "incremental"
}

// Category names one sub-request of a sync.
type Category string

const (
	CategoryPush    Category = "push"
	CategoryFolders Category = "folders"
	CategoryFeeds   Category = "feeds"
	CategoryItems   Category = "items"
)

// Credentials are what a user types into a login form.
type Credentials struct {
	URL      string
	Login    string
	Password string
}

// Session is the result of a successful login.
type Session struct {
	Token       string
	WriteToken  string
	DisplayName string
}

// Outbound is the set of local read-state changes to push.
type Outbound struct {
	Read   []string
	Unread []string
}

// Empty reports whether there is nothing to push.
func (o Outbound) Empty() bool {
	return len(o.Read) == 0 && len(o.Unread) == 0
}

// FeedRef identifies a feed the caller already knows about.
type FeedRef struct {
	RemoteID string
	URL      string
}

// SyncRequest is everything a driver needs for one sync call.
type SyncRequest struct {
	Mode       Mode
	Watermark  int64
	Outbound   Outbound
	WriteToken string
	KnownFeeds []FeedRef

	// PageSize bounds the INCREMENTAL item listing. Zero lets the driver pick.
	PageSize int
}

// RemoteFolder is a folder as the backend reports it. Name may be empty, in
// which case the matcher derives it from ID.
type RemoteFolder struct {
	ID   string
	Name string
}

// RemoteFeed is a subscription as the backend reports it.
type RemoteFeed struct {
	ID       string
	Name     string
	URL      string
	SiteURL  string
	IconURL  string
	FolderID string
}

// RemoteItem is an article as the backend reports it.
type RemoteItem struct {
	ID        string
	FeedID    string
	Title     string
	Content   string
	Author    string
	Link      string
	Published time.Time
	Read      bool
	Starred   bool
}

// SyncDelta is a driver's answer to one sync call. Sub-request failures are
// recorded per category instead of aborting the call.
type SyncDelta struct {
	Folders   []RemoteFolder
	Feeds     []RemoteFeed
	Items     []RemoteItem
	Watermark int64

	// Pushed holds the outbound changes the backend confirmed.
	Pushed Outbound

	// Warnings are failures that did not fail a whole category, such as one
	// unreachable feed among many.
	Warnings []error

	fetched map[Category]bool
	errs    map[Category]error
}

// MarkFetched records that the listing for c completed and is authoritative.
func (d *SyncDelta) MarkFetched(c Category) {
	if d.fetched == nil {
		d.fetched = make(map[Category]bool)
	}
	d.fetched[c] = true
}

// Fetched reports whether the listing for c completed.
func (d *SyncDelta) Fetched(c Category) bool {
	return d.fetched[c]
}

// Fail records a failed sub-request. The first failure per category wins.
func (d *SyncDelta) Fail(c Category, err error) {
	if err == nil {
		return
	}
	if d.errs == nil {
		d.errs = make(map[Category]error)
	}
	if _, ok := d.errs[c]; !ok {
		d.errs[c] = err
	}
}

// Failed reports whether the sub-request for c failed.
func (d *SyncDelta) Failed(c Category) bool {
	_, ok := d.errs[c]
	return ok
}

// Errors returns a copy of the per-category failures.
func (d *SyncDelta) Errors() map[Category]error {
	out := make(map[Category]error, len(d.errs))
	for c, err := range d.errs {
		out[c] = err
	}
	return out
}

// Err joins all sub-request failures, or returns nil.
func (d *SyncDelta) Err() error {
	var errs []error
	for _, c := range []Category{CategoryPush, CategoryFolders, CategoryFeeds, CategoryItems} {
		if err, ok := d.errs[c]; ok {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FeedEdit describes a feed create/update/delete. RemoteID is empty on
// create; FolderRemoteID is empty for the root.
type FeedEdit struct {
	RemoteID       string
	URL            string
	Name           string
	FolderRemoteID string
}

// FolderEdit describes a folder update/delete.
type FolderEdit struct {
	RemoteID string
	Name     string
}

// Client is implemented by one driver per backend kind.
//
// Sync must push outbound changes first (INCREMENTAL only), then list folders,
// feeds and items. It returns a non-nil error only when nothing could be
// attempted at all; sub-request failures go into the delta. In INCREMENTAL
// mode items must be returned newest-first per feed: the orchestrator stops
// at the first item it already has.
type Client interface {
	Login(ctx context.Context, creds Credentials) (Session, error)
	Sync(ctx context.Context, req SyncRequest) (*SyncDelta, error)

	CreateFeed(ctx context.Context, writeToken string, feed FeedEdit) (RemoteFeed, error)
	UpdateFeed(ctx context.Context, writeToken string, feed FeedEdit) error
	DeleteFeed(ctx context.Context, writeToken string, feed FeedEdit) error

	CreateFolder(ctx context.Context, writeToken string, name string) (RemoteFolder, error)
	UpdateFolder(ctx context.Context, writeToken string, folder FolderEdit) error
	DeleteFolder(ctx context.Context, writeToken string, folder FolderEdit) error
}

// WriteTokenFetcher is implemented by backends that authorise mutating calls
// with a separate token.
type WriteTokenFetcher interface {
	FetchWriteToken(ctx context.Context) (string, error)
}
