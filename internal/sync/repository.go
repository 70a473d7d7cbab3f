package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/match"
	"github.com/njoerd114/readrelay/internal/model"
	"github.com/njoerd114/readrelay/internal/readtime"
	"github.com/njoerd114/readrelay/internal/state"
)

// ErrSyncInProgress is returned when a sync for the same account is already
// running. Syncs are rejected, not queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// Result summarises one account sync.
type Result struct {
	Account string
	Mode    backend.Mode

	// NewFeeds are the feeds created by this sync; only they need favicon
	// resolution.
	NewFeeds []model.Feed

	Inserted int
	// Skipped counts items whose feed could not be resolved locally.
	Skipped int
	Pushed  int

	// Conflicts are per-entity collisions that did not abort the batch.
	Conflicts []error
	// Failed holds the sub-requests that failed. Their data was not applied.
	Failed map[backend.Category]error

	// Watermark is the account's watermark after the sync.
	Watermark int64
}

// HasErrors reports whether any sub-request failed.
func (r *Result) HasErrors() bool {
	return len(r.Failed) > 0
}

// Repository synchronises one account. Create one per account with
// [NewRepository]; it is safe for concurrent use.
type Repository struct {
	client   backend.Client
	store    StateStore
	pageSize int
	log      *slog.Logger
	now      func() time.Time

	running sync.Mutex

	mu      sync.RWMutex
	account model.Account
	// tokenPending marks an in-memory write token not yet in the store.
	tokenPending bool

	tokens singleflight.Group
}

// NewRepository returns a Repository for acct. pageSize bounds incremental
// item listings; zero lets the driver choose.
func NewRepository(acct model.Account, client backend.Client, store StateStore, pageSize int, logger *slog.Logger) *Repository {
	return &Repository{
		client:   client,
		store:    store,
		pageSize: pageSize,
		log:      logger.With("account", acct.Name),
		now:      time.Now,
		account:  acct,
	}
}

// Account returns a copy of the current account state.
func (r *Repository) Account() model.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.account
}

func (r *Repository) setAccount(a model.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.Password = r.account.Password
	r.account = a
	r.tokenPending = false
}

// refresh reloads the account from the store, keeping the in-memory password.
func (r *Repository) refresh(ctx context.Context) error {
	acct, err := r.store.Account(ctx, r.Account().ID)
	if err != nil {
		return fmt.Errorf("reloading account: %w", err)
	}
	if acct == nil {
		return fmt.Errorf("account id=%d no longer exists", r.Account().ID)
	}
	r.setAccount(*acct)
	return nil
}

// Login authenticates against the backend and stores the session.
func (r *Repository) Login(ctx context.Context) error {
	acct := r.Account()
	sess, err := r.client.Login(ctx, backend.Credentials{URL: acct.URL, Login: acct.Login, Password: acct.Password})
	if err != nil {
		return fmt.Errorf("login %q: %w", acct.Name, err)
	}
	if err := r.store.UpdateSession(ctx, acct.ID, sess.Token, sess.WriteToken, sess.DisplayName); err != nil {
		return err
	}
	return r.refresh(ctx)
}

// Sync runs one INITIAL (never synced) or INCREMENTAL sync. knownFeeds lists
// the feeds the caller wants refreshed; nil means all feeds of the account.
//
// Sub-request failures are reported in [Result.Failed] and do not prevent
// the rest of the delta from being applied. An authentication failure, or
// folders and feeds both failing, aborts the sync before anything is written.
// The watermark only advances when the item listing succeeded and the feed
// listing did not fail, and only confirmed pushes are cleared from the
// change queue.
func (r *Repository) Sync(ctx context.Context, knownFeeds []model.Feed) (*Result, error) {
	if !r.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer r.running.Unlock()

	acct := r.Account()
	mode := backend.ModeIncremental
	if acct.NeverSynced() {
		mode = backend.ModeInitial
	}
	res := &Result{Account: acct.Name, Mode: mode, Watermark: acct.Watermark, Failed: make(map[backend.Category]error)}

	if knownFeeds == nil {
		feeds, err := r.store.Feeds(ctx, acct.ID)
		if err != nil {
			return nil, fmt.Errorf("sync %q: %w", acct.Name, err)
		}
		knownFeeds = feeds
	}

	req := backend.SyncRequest{
		Mode:       mode,
		Watermark:  acct.Watermark,
		KnownFeeds: feedRefs(knownFeeds),
		PageSize:   r.pageSize,
		WriteToken: acct.WriteToken,
	}

	var fetchedToken string
	if mode == backend.ModeIncremental && acct.Kind.Remote() {
		out, err := r.outbound(ctx, acct.ID)
		if err != nil {
			return nil, fmt.Errorf("sync %q: %w", acct.Name, err)
		}
		if !out.Empty() {
			tok, fetched, err := r.ensureWriteToken(ctx)
			switch {
			case errors.Is(err, backend.ErrAuth):
				return nil, fmt.Errorf("sync %q: %w", acct.Name, err)
			case err != nil:
				// Without a write token nothing can be pushed; the changes
				// stay queued.
				res.Failed[backend.CategoryPush] = err
			default:
				req.Outbound = out
				req.WriteToken = tok
				if fetched {
					fetchedToken = tok
				}
			}
		}
	}

	r.log.Debug("sync starting", "mode", mode, "watermark", acct.Watermark,
		"push_read", len(req.Outbound.Read), "push_unread", len(req.Outbound.Unread))

	delta, err := r.client.Sync(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sync %q: %w", acct.Name, err)
	}
	for c, err := range delta.Errors() {
		res.Failed[c] = err
	}

	if err := delta.Err(); errors.Is(err, backend.ErrAuth) {
		if delta.Failed(backend.CategoryPush) && errors.Is(delta.Errors()[backend.CategoryPush], backend.ErrAuth) {
			r.dropWriteToken(ctx)
		}
		return nil, fmt.Errorf("sync %q: %w", acct.Name, err)
	}
	if delta.Failed(backend.CategoryFolders) && delta.Failed(backend.CategoryFeeds) {
		return nil, fmt.Errorf("sync %q: folders and feeds both failed: %w", acct.Name, delta.Err())
	}
	for _, w := range delta.Warnings {
		r.log.Warn("sync warning", "error", w)
	}

	var newIDs []int64
	err = r.store.InTx(ctx, func(tx *state.Store) error {
		var err error
		newIDs, err = r.apply(ctx, tx, acct, mode, delta, res)
		if err != nil {
			return err
		}

		// Items of feeds missing from a failed feed listing were skipped;
		// moving past them would lose them.
		if delta.Fetched(backend.CategoryItems) && !delta.Failed(backend.CategoryFeeds) {
			if err := tx.UpdateWatermark(ctx, acct.ID, delta.Watermark, r.now()); err != nil {
				return err
			}
			res.Watermark = delta.Watermark
		}
		if err := tx.ResetChanges(ctx, acct.ID, delta.Pushed.Read, delta.Pushed.Unread); err != nil {
			return err
		}
		res.Pushed = len(delta.Pushed.Read) + len(delta.Pushed.Unread)
		if fetchedToken != "" && !delta.Failed(backend.CategoryPush) {
			return tx.UpdateWriteToken(ctx, acct.ID, fetchedToken)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sync %q: applying delta: %w", acct.Name, err)
	}

	if err := r.refresh(ctx); err != nil {
		return res, err
	}
	if len(newIDs) > 0 {
		res.NewFeeds, err = r.store.FeedsByIDs(ctx, newIDs)
		if err != nil {
			return res, err
		}
	}

	r.log.Info("sync complete",
		"mode", mode,
		"inserted", res.Inserted,
		"new_feeds", len(newIDs),
		"skipped", res.Skipped,
		"pushed", res.Pushed,
		"conflicts", len(res.Conflicts),
		"failed", len(res.Failed),
	)
	return res, nil
}

// apply writes folders, then feeds, then items. It returns the ids of the
// feeds created.
func (r *Repository) apply(ctx context.Context, tx *state.Store, acct model.Account, mode backend.Mode, delta *backend.SyncDelta, res *Result) ([]int64, error) {
	if delta.Fetched(backend.CategoryFolders) {
		folders := make([]model.Folder, 0, len(delta.Folders))
		keep := make([]string, 0, len(delta.Folders))
		for _, rf := range delta.Folders {
			folders = append(folders, match.Folder(rf, acct.ID))
			keep = append(keep, rf.ID)
		}
		conflicts, err := tx.UpsertFolders(ctx, folders)
		if err != nil {
			return nil, err
		}
		for _, c := range conflicts {
			res.Conflicts = append(res.Conflicts, backend.ConflictError("upsert folder", c))
		}
		if _, err := tx.DeleteMissingFolders(ctx, acct.ID, keep); err != nil {
			return nil, err
		}
	}

	var newIDs []int64
	if delta.Fetched(backend.CategoryFeeds) {
		feeds := make([]model.Feed, 0, len(delta.Feeds))
		keep := make([]string, 0, len(delta.Feeds))
		for _, rf := range delta.Feeds {
			feeds = append(feeds, match.Feed(rf, acct.ID))
			keep = append(keep, rf.ID)
		}
		var err error
		newIDs, err = tx.UpsertFeeds(ctx, acct.ID, feeds)
		if err != nil {
			return nil, err
		}
		if _, err := tx.DeleteMissingFeeds(ctx, acct.ID, keep); err != nil {
			return nil, err
		}
	}

	if delta.Fetched(backend.CategoryItems) {
		items, skipped, err := r.newItems(ctx, tx, acct.ID, mode, delta.Items)
		if err != nil {
			return nil, err
		}
		res.Skipped = skipped
		res.Inserted, err = tx.InsertItems(ctx, items)
		if err != nil {
			return nil, err
		}
	}
	return newIDs, nil
}

// newItems resolves each item's feed and filters out what the store already
// has. In INCREMENTAL mode items arrive newest first per feed, so the first
// known item ends that feed's batch. The result is sorted oldest first.
func (r *Repository) newItems(ctx context.Context, tx *state.Store, accountID int64, mode backend.Mode, remote []backend.RemoteItem) ([]model.Item, int, error) {
	type feedState struct {
		id      int64
		ok      bool
		stopped bool
	}
	feeds := make(map[string]*feedState)
	seen := make(map[int64]map[string]bool)

	var out []model.Item
	skipped := 0
	for _, it := range match.Items(remote) {
		fs, cached := feeds[it.FeedRemoteID]
		if !cached {
			id, ok, err := tx.FeedIDByRemoteID(ctx, accountID, it.FeedRemoteID)
			if err != nil {
				return nil, 0, err
			}
			fs = &feedState{id: id, ok: ok}
			feeds[it.FeedRemoteID] = fs
		}
		if !fs.ok {
			skipped++
			continue
		}
		if fs.stopped {
			continue
		}
		if seen[fs.id][it.RemoteID] {
			continue
		}

		if mode == backend.ModeIncremental {
			exists, err := tx.RemoteItemExists(ctx, fs.id, it.RemoteID)
			if err != nil {
				return nil, 0, err
			}
			if exists {
				fs.stopped = true
				continue
			}
		}

		it.FeedID = fs.id
		it.ReadTime = readtime.Estimate(it.Content)
		out = append(out, it)

		if seen[fs.id] == nil {
			seen[fs.id] = make(map[string]bool)
		}
		seen[fs.id][it.RemoteID] = true
	}
	if skipped > 0 {
		r.log.Warn("items skipped: feed not found", "count", skipped)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].PubDate.Before(out[j].PubDate) })
	return out, skipped, nil
}

func (r *Repository) outbound(ctx context.Context, accountID int64) (backend.Outbound, error) {
	read, err := r.store.ReadChanges(ctx, accountID)
	if err != nil {
		return backend.Outbound{}, err
	}
	unread, err := r.store.UnreadChanges(ctx, accountID)
	if err != nil {
		return backend.Outbound{}, err
	}
	return backend.Outbound{Read: read, Unread: unread}, nil
}

func feedRefs(feeds []model.Feed) []backend.FeedRef {
	refs := make([]backend.FeedRef, 0, len(feeds))
	for _, f := range feeds {
		refs = append(refs, backend.FeedRef{RemoteID: model.Deref(f.RemoteID), URL: f.URL})
	}
	return refs
}
