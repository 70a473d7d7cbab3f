package sync

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/model"
	"github.com/njoerd114/readrelay/internal/state"
)

var (
	t1 = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
	t4 = t3.Add(time.Hour)
)

func baseFolders() []backend.RemoteFolder {
	return []backend.RemoteFolder{{ID: "shelf/tech/news"}}
}

func baseFeeds() []backend.RemoteFeed {
	return []backend.RemoteFeed{
		{ID: "feed/a", Name: "Feed A", URL: "https://a.example.com/rss", FolderID: "shelf/tech/news"},
		{ID: "feed/b", Name: "Feed B", URL: "https://b.example.com/rss"},
	}
}

// ---- Scenario 1: initial sync applies everything ----

func TestSync_InitialAppliesDelta(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	ctx := context.Background()

	be.respond = pushAll(newDelta(baseFolders(), baseFeeds(), []backend.RemoteItem{
		remoteItem("1", "feed/a", t1),
		remoteItem("2", "feed/b", t2),
	}, 500))

	res := mustSync(t, repo)
	if res.Mode != backend.ModeInitial {
		t.Errorf("Mode = %v, want initial", res.Mode)
	}
	if be.lastRequest().Mode != backend.ModeInitial {
		t.Errorf("request mode = %v, want initial", be.lastRequest().Mode)
	}
	if res.Inserted != 2 {
		t.Errorf("Inserted = %d, want 2", res.Inserted)
	}
	if len(res.NewFeeds) != 2 {
		t.Errorf("NewFeeds = %d, want 2", len(res.NewFeeds))
	}
	if res.Watermark != 500 || repo.Account().Watermark != 500 {
		t.Errorf("watermark = %d / %d, want 500", res.Watermark, repo.Account().Watermark)
	}
	if repo.Account().LastSyncedAt.IsZero() {
		t.Error("LastSyncedAt should be set")
	}
	if repo.Account().Password != "pw" {
		t.Error("refreshing the account must keep the configured password")
	}

	folders, err := store.Folders(ctx, repo.Account().ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "news" {
		t.Fatalf("folders = %+v, want one folder named news", folders)
	}

	feeds, err := store.Feeds(ctx, repo.Account().ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range feeds {
		switch model.Deref(f.RemoteID) {
		case "feed/a":
			if f.FolderID == nil || *f.FolderID != folders[0].ID {
				t.Errorf("feed/a folder = %v, want %d", f.FolderID, folders[0].ID)
			}
		case "feed/b":
			if f.FolderID != nil {
				t.Errorf("feed/b folder = %v, want root", *f.FolderID)
			}
		}
	}

	items := allItems(t, store, repo.Account().ID)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].ReadTime <= 0 {
		t.Errorf("ReadTime = %v, want > 0", items[0].ReadTime)
	}
}

// ---- Scenario 2: idempotence ----

func TestSync_Idempotent(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)

	be.respond = pushAll(newDelta(baseFolders(), baseFeeds(), []backend.RemoteItem{
		remoteItem("1", "feed/a", t1),
		remoteItem("2", "feed/a", t2),
	}, 500))

	mustSync(t, repo)
	res := mustSync(t, repo)

	if res.Mode != backend.ModeIncremental {
		t.Errorf("Mode = %v, want incremental", res.Mode)
	}
	if res.Inserted != 0 {
		t.Errorf("Inserted = %d, want 0", res.Inserted)
	}
	if len(res.NewFeeds) != 0 {
		t.Errorf("NewFeeds = %d, want 0", len(res.NewFeeds))
	}
	if n := len(allItems(t, store, repo.Account().ID)); n != 2 {
		t.Errorf("items = %d, want 2", n)
	}
	folders, _ := store.Folders(context.Background(), repo.Account().ID)
	if len(folders) != 1 {
		t.Errorf("folders = %d, want 1", len(folders))
	}
}

// ---- Scenario 3: early exit per feed ----

func TestSync_IncrementalStopsAtFirstKnownItem(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)

	be.respond = pushAll(newDelta(nil, baseFeeds(), []backend.RemoteItem{
		remoteItem("existing1", "feed/a", t2),
	}, 100))
	mustSync(t, repo)

	// new1-old is older than existing1 and was never stored; it sits behind
	// the known item and must not be inserted.
	be.respond = pushAll(newDelta(nil, baseFeeds(), []backend.RemoteItem{
		remoteItem("new3", "feed/a", t4),
		remoteItem("new2", "feed/a", t3),
		remoteItem("existing1", "feed/a", t2),
		remoteItem("b1", "feed/b", t2),
		remoteItem("new1-old", "feed/a", t1),
	}, 200))
	res := mustSync(t, repo)

	if res.Inserted != 3 {
		t.Errorf("Inserted = %d, want 3", res.Inserted)
	}
	got := map[string]bool{}
	for _, it := range allItems(t, store, repo.Account().ID) {
		got[it.RemoteID] = true
	}
	for _, want := range []string{"new3", "new2", "existing1", "b1"} {
		if !got[want] {
			t.Errorf("item %q missing", want)
		}
	}
	if got["new1-old"] {
		t.Error("item behind the first known item should not be inserted")
	}
}

// ---- Scenario 4: insertion order ----

func TestSync_InsertsOldestFirst(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)

	be.respond = pushAll(newDelta(nil, baseFeeds(), []backend.RemoteItem{
		remoteItem("T3", "feed/a", t3),
		remoteItem("T1", "feed/b", t1),
		remoteItem("T2", "feed/a", t2),
	}, 1))
	mustSync(t, repo)

	items := allItems(t, store, repo.Account().ID)
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	var order []string
	for i, it := range items {
		order = append(order, it.RemoteID)
		if i > 0 && it.ID <= items[i-1].ID {
			t.Errorf("item %s has id %d, not after %d", it.RemoteID, it.ID, items[i-1].ID)
		}
	}
	if want := []string{"T1", "T2", "T3"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

// ---- Scenario 5: watermark only advances with items ----

func TestSync_ItemsFailureKeepsWatermark(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)

	be.respond = func(backend.SyncRequest) (*backend.SyncDelta, error) {
		d := &backend.SyncDelta{Folders: baseFolders(), Feeds: baseFeeds(), Watermark: 999}
		d.MarkFetched(backend.CategoryFolders)
		d.MarkFetched(backend.CategoryFeeds)
		d.Fail(backend.CategoryItems, backend.NetworkError("items", errors.New("timeout")))
		return d, nil
	}

	res := mustSync(t, repo)
	if !res.HasErrors() {
		t.Error("HasErrors() = false, want true")
	}
	if !errors.Is(res.Failed[backend.CategoryItems], backend.ErrNetwork) {
		t.Errorf("Failed[items] = %v, want network error", res.Failed[backend.CategoryItems])
	}
	if repo.Account().Watermark != 0 {
		t.Errorf("Watermark = %d, want 0", repo.Account().Watermark)
	}
	feeds, _ := store.Feeds(context.Background(), repo.Account().ID)
	if len(feeds) != 2 {
		t.Errorf("feeds = %d, want 2 (applied despite item failure)", len(feeds))
	}
	if be.lastRequest().Mode != backend.ModeInitial {
		t.Error("first request should be initial")
	}
	mustSync(t, repo)
	if be.lastRequest().Mode != backend.ModeInitial {
		t.Error("sync after a failed item listing should still be initial")
	}
}

func TestSync_FeedsFailureKeepsWatermark(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	feedA := baseFeeds()[:1]

	be.respond = pushAll(newDelta(baseFolders(), feedA, []backend.RemoteItem{remoteItem("a1", "feed/a", t1)}, 50))
	mustSync(t, repo)

	// feed/b was subscribed remotely, but the feed listing fails while its
	// item is already in the item listing.
	be.respond = func(backend.SyncRequest) (*backend.SyncDelta, error) {
		d := &backend.SyncDelta{
			Folders:   baseFolders(),
			Items:     []backend.RemoteItem{remoteItem("b1", "feed/b", t2)},
			Watermark: 100,
		}
		d.MarkFetched(backend.CategoryFolders)
		d.MarkFetched(backend.CategoryItems)
		d.Fail(backend.CategoryFeeds, backend.NetworkError("subscriptions", errors.New("timeout")))
		return d, nil
	}
	res := mustSync(t, repo)
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", res.Skipped)
	}
	if repo.Account().Watermark != 50 {
		t.Errorf("Watermark = %d, want 50 (unchanged after feed failure)", repo.Account().Watermark)
	}

	be.respond = pushAll(newDelta(baseFolders(), baseFeeds(), []backend.RemoteItem{remoteItem("b1", "feed/b", t2)}, 100))
	mustSync(t, repo)
	if got := be.lastRequest().Watermark; got != 50 {
		t.Errorf("recovery request watermark = %d, want 50", got)
	}
	if repo.Account().Watermark != 100 {
		t.Errorf("Watermark = %d, want 100", repo.Account().Watermark)
	}

	items := allItems(t, store, repo.Account().ID)
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[1].RemoteID != "b1" {
		t.Errorf("items[1].RemoteID = %q, want b1", items[1].RemoteID)
	}
}

func TestSync_FoldersAndFeedsFailedAborts(t *testing.T) {
	repo, be, _ := newTestRepo(t, model.KindFreshRSS)

	be.respond = func(backend.SyncRequest) (*backend.SyncDelta, error) {
		d := &backend.SyncDelta{Items: []backend.RemoteItem{remoteItem("1", "feed/a", t1)}, Watermark: 5}
		d.MarkFetched(backend.CategoryItems)
		d.Fail(backend.CategoryFolders, backend.ProtocolError("tags", errors.New("bad json")))
		d.Fail(backend.CategoryFeeds, backend.ProtocolError("subs", errors.New("bad json")))
		return d, nil
	}

	if _, err := repo.Sync(context.Background(), nil); !errors.Is(err, backend.ErrProtocol) {
		t.Fatalf("err = %v, want protocol error", err)
	}
	if repo.Account().Watermark != 0 {
		t.Errorf("Watermark = %d, want 0", repo.Account().Watermark)
	}
}

func TestSync_AuthFailureWritesNothing(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)

	be.respond = func(backend.SyncRequest) (*backend.SyncDelta, error) {
		d := newDelta(baseFolders(), baseFeeds(), nil, 5)
		d.Fail(backend.CategoryItems, backend.AuthError("items", errors.New("401")))
		return d, nil
	}

	if _, err := repo.Sync(context.Background(), nil); !errors.Is(err, backend.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
	feeds, _ := store.Feeds(context.Background(), repo.Account().ID)
	if len(feeds) != 0 {
		t.Errorf("feeds = %d, want 0", len(feeds))
	}
}

// ---- Scenario 6: change queue ----

func seedItem42(t *testing.T, repo *Repository, be *mockBackend, store *state.Store) int64 {
	t.Helper()
	be.respond = pushAll(newDelta(nil, baseFeeds(), []backend.RemoteItem{remoteItem("42", "feed/a", t1)}, 10))
	mustSync(t, repo)
	items := allItems(t, store, repo.Account().ID)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	return items[0].ID
}

func TestSync_PushesAndClearsChangeQueue(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	ctx := context.Background()
	id := seedItem42(t, repo, be, store)

	if _, err := store.SetItemRead(ctx, id, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	be.respond = pushAll(newDelta(nil, baseFeeds(), nil, 20))
	res := mustSync(t, repo)

	req := be.lastRequest()
	if !reflect.DeepEqual(req.Outbound.Read, []string{"42"}) {
		t.Errorf("Outbound.Read = %v, want [42]", req.Outbound.Read)
	}
	if req.WriteToken != "wt-1" {
		t.Errorf("WriteToken = %q, want wt-1", req.WriteToken)
	}
	if res.Pushed != 1 {
		t.Errorf("Pushed = %d, want 1", res.Pushed)
	}
	pending, _ := store.ReadChanges(ctx, repo.Account().ID)
	if len(pending) != 0 {
		t.Errorf("ReadChanges = %v, want empty", pending)
	}
	stored, _ := store.Account(ctx, repo.Account().ID)
	if stored.WriteToken != "wt-1" {
		t.Errorf("stored WriteToken = %q, want wt-1", stored.WriteToken)
	}

	// The token is reused.
	if _, err := store.SetItemRead(ctx, id, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustSync(t, repo)
	if be.fetches() != 1 {
		t.Errorf("write token fetched %d times, want 1", be.fetches())
	}
	if got := be.lastRequest().Outbound.Unread; !reflect.DeepEqual(got, []string{"42"}) {
		t.Errorf("Outbound.Unread = %v, want [42]", got)
	}
}

func TestSync_UnconfirmedPushStaysQueued(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	ctx := context.Background()
	id := seedItem42(t, repo, be, store)

	if _, err := store.SetItemRead(ctx, id, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	be.respond = func(backend.SyncRequest) (*backend.SyncDelta, error) {
		d := newDelta(nil, baseFeeds(), nil, 20)
		d.Fail(backend.CategoryPush, backend.NetworkError("edit-tag", errors.New("reset")))
		return d, nil
	}
	res := mustSync(t, repo)

	if res.Failed[backend.CategoryPush] == nil {
		t.Error("push failure should be reported")
	}
	if res.Watermark != 20 {
		t.Errorf("Watermark = %d, want 20", res.Watermark)
	}
	pending, _ := store.ReadChanges(ctx, repo.Account().ID)
	if !reflect.DeepEqual(pending, []string{"42"}) {
		t.Errorf("ReadChanges = %v, want [42]", pending)
	}
}

func TestSync_WriteTokenFailureSkipsPush(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	ctx := context.Background()
	id := seedItem42(t, repo, be, store)

	if _, err := store.SetItemRead(ctx, id, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	be.tokenErr = backend.NetworkError("token", errors.New("timeout"))
	res := mustSync(t, repo)

	if !errors.Is(res.Failed[backend.CategoryPush], backend.ErrNetwork) {
		t.Errorf("Failed[push] = %v, want network error", res.Failed[backend.CategoryPush])
	}
	if !be.lastRequest().Outbound.Empty() {
		t.Error("no outbound changes should be sent without a write token")
	}
	pending, _ := store.ReadChanges(ctx, repo.Account().ID)
	if len(pending) != 1 {
		t.Errorf("ReadChanges = %v, want [42]", pending)
	}
}

func TestSync_PushAuthFailureDropsWriteToken(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	ctx := context.Background()
	id := seedItem42(t, repo, be, store)

	if err := store.UpdateWriteToken(ctx, repo.Account().ID, "stale"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.refresh(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.SetItemRead(ctx, id, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	be.respond = func(backend.SyncRequest) (*backend.SyncDelta, error) {
		d := newDelta(nil, nil, nil, 30)
		d.Fail(backend.CategoryPush, backend.AuthError("edit-tag", errors.New("bad token")))
		return d, nil
	}

	if _, err := repo.Sync(ctx, nil); !errors.Is(err, backend.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if be.lastRequest().WriteToken != "stale" {
		t.Errorf("WriteToken = %q, want stale", be.lastRequest().WriteToken)
	}
	stored, _ := store.Account(ctx, repo.Account().ID)
	if stored.WriteToken != "" {
		t.Errorf("stored WriteToken = %q, want cleared", stored.WriteToken)
	}
	if stored.Watermark != 10 {
		t.Errorf("Watermark = %d, want 10", stored.Watermark)
	}
}

func TestSync_LocalAccountNeverPushes(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindLocal)
	ctx := context.Background()
	id := seedItem42(t, repo, be, store)

	if _, err := store.SetItemRead(ctx, id, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mustSync(t, repo)
	if !be.lastRequest().Outbound.Empty() {
		t.Errorf("Outbound = %+v, want empty", be.lastRequest().Outbound)
	}
	if be.fetches() != 0 {
		t.Errorf("write token fetched %d times, want 0", be.fetches())
	}
}

// ---- Scenario 7: reconciliation edges ----

func TestSync_RemovesFeedsMissingRemotely(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	ctx := context.Background()

	be.respond = pushAll(newDelta(baseFolders(), baseFeeds(), []backend.RemoteItem{remoteItem("1", "feed/b", t1)}, 1))
	mustSync(t, repo)

	be.respond = pushAll(newDelta(nil, baseFeeds()[:1], nil, 2))
	mustSync(t, repo)

	feeds, _ := store.Feeds(ctx, repo.Account().ID)
	if len(feeds) != 1 || model.Deref(feeds[0].RemoteID) != "feed/a" {
		t.Errorf("feeds = %+v, want only feed/a", feeds)
	}
	folders, _ := store.Folders(ctx, repo.Account().ID)
	if len(folders) != 0 {
		t.Errorf("folders = %d, want 0", len(folders))
	}
	if n := len(allItems(t, store, repo.Account().ID)); n != 0 {
		t.Errorf("items = %d, want 0 (removed with their feed)", n)
	}
}

func TestSync_SkipsItemsOfUnknownFeeds(t *testing.T) {
	repo, be, _ := newTestRepo(t, model.KindFreshRSS)

	be.respond = pushAll(newDelta(nil, baseFeeds(), []backend.RemoteItem{
		remoteItem("1", "feed/a", t1),
		remoteItem("2", "feed/zzz", t1),
		remoteItem("3", "feed/zzz", t2),
	}, 1))
	res := mustSync(t, repo)
	if res.Inserted != 1 {
		t.Errorf("Inserted = %d, want 1", res.Inserted)
	}
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res.Skipped)
	}
}

func TestSync_FolderNameConflictReported(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	ctx := context.Background()

	if _, err := store.InsertFolder(ctx, model.Folder{AccountID: repo.Account().ID, Name: "news"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	be.respond = pushAll(newDelta(baseFolders(), baseFeeds(), nil, 1))
	res := mustSync(t, repo)

	if len(res.Conflicts) != 1 || !errors.Is(res.Conflicts[0], backend.ErrConflict) {
		t.Errorf("Conflicts = %v, want one conflict", res.Conflicts)
	}
	feeds, _ := store.Feeds(ctx, repo.Account().ID)
	if len(feeds) != 2 {
		t.Errorf("feeds = %d, want 2", len(feeds))
	}
}

// ---- Scenario 8: concurrency ----

func TestSync_RejectsConcurrentSync(t *testing.T) {
	repo, be, _ := newTestRepo(t, model.KindFreshRSS)

	started := make(chan struct{})
	release := make(chan struct{})
	be.respond = func(backend.SyncRequest) (*backend.SyncDelta, error) {
		close(started)
		<-release
		return newDelta(nil, nil, nil, 1), nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := repo.Sync(context.Background(), nil)
		done <- err
	}()
	<-started

	if _, err := repo.Sync(context.Background(), nil); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("err = %v, want ErrSyncInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSync_KnownFeedsPassedThrough(t *testing.T) {
	repo, be, _ := newTestRepo(t, model.KindLocal)

	id := "https://a.example.com/rss"
	known := []model.Feed{{URL: id, RemoteID: &id}}
	if _, err := repo.Sync(context.Background(), known); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	refs := be.lastRequest().KnownFeeds
	if len(refs) != 1 || refs[0].URL != id || refs[0].RemoteID != id {
		t.Errorf("KnownFeeds = %+v, want the one feed", refs)
	}
	if be.lastRequest().PageSize != 100 {
		t.Errorf("PageSize = %d, want 100", be.lastRequest().PageSize)
	}
}

// ---- Scenario 9: login ----

func TestLogin_StoresSession(t *testing.T) {
	repo, be, store := newTestRepo(t, model.KindFreshRSS)
	be.session = backend.Session{Token: "auth-1", WriteToken: "wt-0", DisplayName: "Alice"}

	if err := repo.Login(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acct := repo.Account()
	if acct.Token != "auth-1" || acct.WriteToken != "wt-0" || acct.DisplayName != "Alice" {
		t.Errorf("account = %+v, want session applied", acct)
	}
	stored, _ := store.Account(context.Background(), acct.ID)
	if stored.Token != "auth-1" {
		t.Errorf("stored Token = %q, want auth-1", stored.Token)
	}
}

func TestLogin_Failure(t *testing.T) {
	repo, be, _ := newTestRepo(t, model.KindFreshRSS)
	be.loginErr = backend.AuthError("login", errors.New("bad password"))

	if err := repo.Login(context.Background()); !errors.Is(err, backend.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if repo.Account().Token != "" {
		t.Error("token should stay empty")
	}
}
