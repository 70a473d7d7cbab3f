package sync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/model"
	"github.com/njoerd114/readrelay/internal/state"
)

// ErrNotFound is returned when an edit targets a feed or folder that does not
// exist in this account.
var ErrNotFound = errors.New("not found")

// ensureWriteToken returns the account's write token, fetching it from the
// backend when missing. Concurrent callers share one fetch. fetched reports
// whether the token has not been persisted yet, which stays true until a
// mutation using it succeeds.
func (r *Repository) ensureWriteToken(ctx context.Context) (token string, fetched bool, err error) {
	r.mu.RLock()
	tok, pending := r.account.WriteToken, r.tokenPending
	r.mu.RUnlock()
	if tok != "" {
		return tok, pending, nil
	}
	f, ok := r.client.(backend.WriteTokenFetcher)
	if !ok {
		return "", false, nil
	}
	v, err, _ := r.tokens.Do("write-token", func() (any, error) {
		return f.FetchWriteToken(ctx)
	})
	if err != nil {
		return "", false, err
	}
	tok = v.(string)
	r.mu.Lock()
	r.account.WriteToken = tok
	r.tokenPending = true
	r.mu.Unlock()
	return tok, true, nil
}

// tokenStored clears the pending mark once tok has been persisted.
func (r *Repository) tokenStored(tok string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.account.WriteToken == tok {
		r.tokenPending = false
	}
}

// dropWriteToken forgets a write token the backend rejected so the next
// mutation fetches a fresh one.
func (r *Repository) dropWriteToken(ctx context.Context) {
	acct := r.Account()
	if acct.WriteToken == "" {
		return
	}
	r.mu.Lock()
	r.account.WriteToken = ""
	r.tokenPending = false
	r.mu.Unlock()
	if err := r.store.UpdateWriteToken(ctx, acct.ID, ""); err != nil {
		r.log.Warn("clearing write token", "error", err)
	}
}

// withWriteToken runs call with a write token and then persist inside one
// transaction. A freshly fetched token is stored with the local change, so
// a failed mutation never leaves a half-recorded token behind.
func (r *Repository) withWriteToken(ctx context.Context, op string, call func(token string) error, persist func(tx *state.Store) error) error {
	tok, fetched, err := r.ensureWriteToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := call(tok); err != nil {
		if errors.Is(err, backend.ErrAuth) {
			r.dropWriteToken(ctx)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	err = r.store.InTx(ctx, func(tx *state.Store) error {
		if fetched {
			if err := tx.UpdateWriteToken(ctx, r.Account().ID, tok); err != nil {
				return err
			}
		}
		if persist == nil {
			return nil
		}
		return persist(tx)
	})
	if err != nil {
		return err
	}
	if fetched {
		r.tokenStored(tok)
	}
	return nil
}

// AddFeed subscribes to feedURL on the backend and stores the new feed.
// name and folderID are optional.
func (r *Repository) AddFeed(ctx context.Context, feedURL, name string, folderID *int64) (model.Feed, error) {
	u, err := url.Parse(strings.TrimSpace(feedURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return model.Feed{}, fmt.Errorf("add feed: invalid URL %q", feedURL)
	}
	acct := r.Account()

	edit := backend.FeedEdit{URL: u.String(), Name: strings.TrimSpace(name)}
	if folderID != nil {
		folder, err := r.folder(ctx, *folderID)
		if err != nil {
			return model.Feed{}, fmt.Errorf("add feed: %w", err)
		}
		edit.FolderRemoteID = model.Deref(folder.RemoteID)
	}

	var feed model.Feed
	err = r.withWriteToken(ctx, "add feed",
		func(tok string) error {
			rf, err := r.client.CreateFeed(ctx, tok, edit)
			if err != nil {
				return err
			}
			feed = model.Feed{
				AccountID: acct.ID,
				Name:      rf.Name,
				URL:       rf.URL,
				SiteURL:   rf.SiteURL,
				IconURL:   rf.IconURL,
				FolderID:  folderID,
				RemoteID:  model.StringPtr(rf.ID),
			}
			if feed.Name == "" {
				feed.Name = edit.Name
			}
			if feed.Name == "" {
				feed.Name = edit.URL
			}
			if feed.URL == "" {
				feed.URL = edit.URL
			}
			return nil
		},
		func(tx *state.Store) error {
			id, err := tx.InsertFeed(ctx, feed)
			if err != nil {
				return err
			}
			feed.ID = id
			return nil
		})
	if err != nil {
		return model.Feed{}, err
	}
	r.log.Info("feed added", "feed", feed.Name, "id", feed.ID)
	return feed, nil
}

// UpdateFeed renames or moves a feed. Only Name and FolderID are taken from
// f; the URL is immutable once subscribed.
func (r *Repository) UpdateFeed(ctx context.Context, f model.Feed) error {
	cur, err := r.feed(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}
	edit := backend.FeedEdit{RemoteID: model.Deref(cur.RemoteID), URL: cur.URL, Name: strings.TrimSpace(f.Name)}
	if edit.Name == "" {
		edit.Name = cur.Name
	}
	if f.FolderID != nil {
		folder, err := r.folder(ctx, *f.FolderID)
		if err != nil {
			return fmt.Errorf("update feed: %w", err)
		}
		edit.FolderRemoteID = model.Deref(folder.RemoteID)
	}

	updated := *cur
	updated.Name = edit.Name
	updated.FolderID = f.FolderID
	return r.withWriteToken(ctx, "update feed",
		func(tok string) error { return r.client.UpdateFeed(ctx, tok, edit) },
		func(tx *state.Store) error { return tx.UpdateFeed(ctx, updated) })
}

// DeleteFeed unsubscribes and removes the feed with its items.
func (r *Repository) DeleteFeed(ctx context.Context, id int64) error {
	cur, err := r.feed(ctx, id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	edit := backend.FeedEdit{RemoteID: model.Deref(cur.RemoteID), URL: cur.URL}
	return r.withWriteToken(ctx, "delete feed",
		func(tok string) error { return r.client.DeleteFeed(ctx, tok, edit) },
		func(tx *state.Store) error { return tx.DeleteFeed(ctx, id) })
}

// AddFolder creates a folder. A name already used in the account is
// rejected before the backend is contacted.
func (r *Repository) AddFolder(ctx context.Context, name string) (model.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Folder{}, errors.New("add folder: empty name")
	}
	acct := r.Account()
	existing, err := r.store.Folders(ctx, acct.ID)
	if err != nil {
		return model.Folder{}, fmt.Errorf("add folder: %w", err)
	}
	for _, f := range existing {
		if strings.EqualFold(f.Name, name) {
			return model.Folder{}, fmt.Errorf("add folder %q: %w", name, state.ErrDuplicateName)
		}
	}

	folder := model.Folder{AccountID: acct.ID, Name: name}
	err = r.withWriteToken(ctx, "add folder",
		func(tok string) error {
			rf, err := r.client.CreateFolder(ctx, tok, name)
			if err != nil {
				return err
			}
			folder.RemoteID = model.StringPtr(rf.ID)
			return nil
		},
		func(tx *state.Store) error {
			id, err := tx.InsertFolder(ctx, folder)
			if err != nil {
				return err
			}
			folder.ID = id
			return nil
		})
	if err != nil {
		return model.Folder{}, err
	}
	return folder, nil
}

// UpdateFolder renames a folder.
func (r *Repository) UpdateFolder(ctx context.Context, f model.Folder) error {
	cur, err := r.folder(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("update folder: %w", err)
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return errors.New("update folder: empty name")
	}
	edit := backend.FolderEdit{RemoteID: model.Deref(cur.RemoteID), Name: name}
	return r.withWriteToken(ctx, "update folder",
		func(tok string) error {
			if edit.RemoteID == "" {
				return nil
			}
			return r.client.UpdateFolder(ctx, tok, edit)
		},
		func(tx *state.Store) error { return tx.UpdateFolder(ctx, cur.ID, name) })
}

// DeleteFolder removes a folder. Its feeds move to the root.
func (r *Repository) DeleteFolder(ctx context.Context, id int64) error {
	cur, err := r.folder(ctx, id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	edit := backend.FolderEdit{RemoteID: model.Deref(cur.RemoteID), Name: cur.Name}
	return r.withWriteToken(ctx, "delete folder",
		func(tok string) error {
			if edit.RemoteID == "" {
				return nil
			}
			return r.client.DeleteFolder(ctx, tok, edit)
		},
		func(tx *state.Store) error { return tx.DeleteFolder(ctx, id) })
}

func (r *Repository) feed(ctx context.Context, id int64) (*model.Feed, error) {
	f, err := r.store.Feed(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil || f.AccountID != r.Account().ID {
		return nil, fmt.Errorf("feed id=%d: %w", id, ErrNotFound)
	}
	return f, nil
}

func (r *Repository) folder(ctx context.Context, id int64) (*model.Folder, error) {
	f, err := r.store.Folder(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil || f.AccountID != r.Account().ID {
		return nil, fmt.Errorf("folder id=%d: %w", id, ErrNotFound)
	}
	return f, nil
}

// Folders returns the account's folders.
func (r *Repository) Folders(ctx context.Context) ([]model.Folder, error) {
	return r.store.Folders(ctx, r.Account().ID)
}

// Feeds returns the account's feeds.
func (r *Repository) Feeds(ctx context.Context) ([]model.Feed, error) {
	return r.store.Feeds(ctx, r.Account().ID)
}
