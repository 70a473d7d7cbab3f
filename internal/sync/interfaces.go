// Package sync keeps the local store consistent with each account's backend.
//
// The package contains three main components:
//
//   - [Repository] drives one account: it pushes queued read/unread changes,
//     pulls the remote delta and applies folders, feeds and items to the
//     store in a single transaction. It also forwards feed and folder edits.
//   - [Engine] runs the polling loop across all accounts, with tracing,
//     metrics, retries and favicon resolution for new feeds.
//   - [Bootstrap] registers the configured accounts and logs in those that
//     have no session yet.
package sync

import (
	"context"

	"github.com/njoerd114/readrelay/internal/model"
	"github.com/njoerd114/readrelay/internal/state"
)

// StateStore provides access to the local database.
// Implemented by [state.Store].
type StateStore interface {
	Account(ctx context.Context, id int64) (*model.Account, error)
	EnsureAccount(ctx context.Context, a model.Account) (model.Account, error)
	UpdateSession(ctx context.Context, id int64, token, writeToken, displayName string) error
	UpdateWriteToken(ctx context.Context, id int64, token string) error

	Folder(ctx context.Context, id int64) (*model.Folder, error)
	Folders(ctx context.Context, accountID int64) ([]model.Folder, error)
	InsertFolder(ctx context.Context, f model.Folder) (int64, error)
	UpdateFolder(ctx context.Context, id int64, name string) error
	DeleteFolder(ctx context.Context, id int64) error

	Feed(ctx context.Context, id int64) (*model.Feed, error)
	Feeds(ctx context.Context, accountID int64) ([]model.Feed, error)
	FeedsByIDs(ctx context.Context, ids []int64) ([]model.Feed, error)
	InsertFeed(ctx context.Context, f model.Feed) (int64, error)
	UpdateFeed(ctx context.Context, f model.Feed) error
	DeleteFeed(ctx context.Context, id int64) error

	ReadChanges(ctx context.Context, accountID int64) ([]string, error)
	UnreadChanges(ctx context.Context, accountID int64) ([]string, error)

	// InTx runs fn inside one transaction; see [state.Store.InTx].
	InTx(ctx context.Context, fn func(tx *state.Store) error) error
}

// AccountSyncer is one account the [Engine] schedules.
// Implemented by [Repository].
type AccountSyncer interface {
	Account() model.Account
	Sync(ctx context.Context, knownFeeds []model.Feed) (*Result, error)
}

// IconResolver discovers a site's favicon.
// Implemented by [favicon.Resolver].
type IconResolver interface {
	Resolve(ctx context.Context, pageURL string) (string, error)
}

// IconStore persists resolved icons.
// Implemented by [state.Store].
type IconStore interface {
	UpdateFeedIcon(ctx context.Context, id int64, iconURL string) error
}
