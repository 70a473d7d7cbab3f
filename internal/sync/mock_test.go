package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/model"
	"github.com/njoerd114/readrelay/internal/state"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock Backend ------------------------------------------------------------

type mockBackend struct {
	mu sync.Mutex

	session  backend.Session
	loginErr error

	// respond builds the delta for each Sync call. nil returns an empty,
	// fully fetched delta.
	respond  func(req backend.SyncRequest) (*backend.SyncDelta, error)
	requests []backend.SyncRequest

	// writeToken is handed out by FetchWriteToken.
	writeToken  string
	tokenErr    error
	tokenFetchs int

	editErr error
	edits   []string // "op token remote-id name"
	nextID  int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		session:    backend.Session{Token: "tok", DisplayName: "Alice"},
		writeToken: "wt-1",
	}
}

func (m *mockBackend) Login(context.Context, backend.Credentials) (backend.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.loginErr
}

func (m *mockBackend) Sync(_ context.Context, req backend.SyncRequest) (*backend.SyncDelta, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	respond := m.respond
	m.mu.Unlock()

	if respond == nil {
		return newDelta(nil, nil, nil, 1), nil
	}
	return respond(req)
}

func (m *mockBackend) FetchWriteToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenFetchs++
	return m.writeToken, m.tokenErr
}

func (m *mockBackend) record(op, token, remoteID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.editErr != nil {
		return m.editErr
	}
	m.edits = append(m.edits, fmt.Sprintf("%s %s %s %s", op, token, remoteID, name))
	return nil
}

func (m *mockBackend) CreateFeed(_ context.Context, token string, f backend.FeedEdit) (backend.RemoteFeed, error) {
	if err := m.record("create-feed", token, f.FolderRemoteID, f.Name); err != nil {
		return backend.RemoteFeed{}, err
	}
	m.mu.Lock()
	m.nextID++
	id := fmt.Sprintf("feed/%d", m.nextID)
	m.mu.Unlock()
	return backend.RemoteFeed{ID: id, Name: f.Name, URL: f.URL, FolderID: f.FolderRemoteID}, nil
}

func (m *mockBackend) UpdateFeed(_ context.Context, token string, f backend.FeedEdit) error {
	return m.record("update-feed", token, f.RemoteID, f.Name)
}

func (m *mockBackend) DeleteFeed(_ context.Context, token string, f backend.FeedEdit) error {
	return m.record("delete-feed", token, f.RemoteID, "")
}

func (m *mockBackend) CreateFolder(_ context.Context, token string, name string) (backend.RemoteFolder, error) {
	if err := m.record("create-folder", token, "", name); err != nil {
		return backend.RemoteFolder{}, err
	}
	return backend.RemoteFolder{ID: "label/" + name, Name: name}, nil
}

func (m *mockBackend) UpdateFolder(_ context.Context, token string, f backend.FolderEdit) error {
	return m.record("update-folder", token, f.RemoteID, f.Name)
}

func (m *mockBackend) DeleteFolder(_ context.Context, token string, f backend.FolderEdit) error {
	return m.record("delete-folder", token, f.RemoteID, "")
}

func (m *mockBackend) lastRequest() backend.SyncRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return backend.SyncRequest{}
	}
	return m.requests[len(m.requests)-1]
}

func (m *mockBackend) editLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.edits...)
}

func (m *mockBackend) fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenFetchs
}

// newDelta returns a delta with all three listings marked fetched.
func newDelta(folders []backend.RemoteFolder, feeds []backend.RemoteFeed, items []backend.RemoteItem, watermark int64) *backend.SyncDelta {
	d := &backend.SyncDelta{Folders: folders, Feeds: feeds, Items: items, Watermark: watermark}
	d.MarkFetched(backend.CategoryFolders)
	d.MarkFetched(backend.CategoryFeeds)
	d.MarkFetched(backend.CategoryItems)
	return d
}

// pushAll confirms every outbound change it is sent.
func pushAll(d *backend.SyncDelta) func(req backend.SyncRequest) (*backend.SyncDelta, error) {
	return func(req backend.SyncRequest) (*backend.SyncDelta, error) {
		cp := *d
		cp.Pushed = req.Outbound
		return &cp, nil
	}
}

// --- Mock Syncer -------------------------------------------------------------

type mockSyncer struct {
	mu      sync.Mutex
	account model.Account
	results []*Result
	errs    []error
	calls   int
}

func (m *mockSyncer) Account() model.Account { return m.account }

func (m *mockSyncer) Sync(context.Context, []model.Feed) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	var err error
	if i < len(m.errs) {
		err = m.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(m.results) {
		return m.results[i], nil
	}
	return &Result{Account: m.account.Name, Failed: map[backend.Category]error{}}, nil
}

func (m *mockSyncer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock Icons --------------------------------------------------------------

type mockIcons struct {
	mu     sync.Mutex
	icons  map[string]string // page URL → icon
	stored map[int64]string
}

func newMockIcons(icons map[string]string) *mockIcons {
	return &mockIcons{icons: icons, stored: make(map[int64]string)}
}

func (m *mockIcons) Resolve(_ context.Context, pageURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if icon, ok := m.icons[pageURL]; ok {
		return icon, nil
	}
	return "", errors.New("no icon")
}

func (m *mockIcons) UpdateFeedIcon(_ context.Context, id int64, iconURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[id] = iconURL
	return nil
}

// --- Helpers -----------------------------------------------------------------

func openStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// newTestRepo registers a FreshRSS-like remote account and returns a
// repository backed by a real store.
func newTestRepo(t *testing.T, kind model.Kind) (*Repository, *mockBackend, *state.Store) {
	t.Helper()
	store := openStore(t)
	acct, err := store.EnsureAccount(context.Background(), model.Account{
		Name: "test", Kind: kind, URL: "https://rss.example.com", Login: "alice", Password: "pw",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	be := newMockBackend()
	repo := NewRepository(acct, be, store, 100, testLogger)
	repo.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return repo, be, store
}

func remoteItem(id, feedID string, pub time.Time) backend.RemoteItem {
	return backend.RemoteItem{
		ID:        id,
		FeedID:    feedID,
		Title:     "Item " + id,
		Content:   "<p>some words here</p>",
		Link:      "https://example.com/" + id,
		Published: pub,
	}
}

func mustSync(t *testing.T, repo *Repository) *Result {
	t.Helper()
	res, err := repo.Sync(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return res
}

func allItems(t *testing.T, store *state.Store, accountID int64) []model.Item {
	t.Helper()
	items, err := store.Items(context.Background(), state.ItemQuery{AccountID: accountID, OldestFirst: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return items
}
