package sync

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/config"
	"github.com/njoerd114/readrelay/internal/model"
)

func testAccounts() []config.Account {
	return []config.Account{
		{Name: "home", Kind: "freshrss", URL: "https://rss.example.com", Login: "alice", Password: "pw"},
		{Name: "offline", Kind: "local"},
	}
}

func TestBootstrap_RegistersAndLogsIn(t *testing.T) {
	store := openStore(t)
	be := newMockBackend()
	var out bytes.Buffer

	b := NewBootstrap(store, 100, testLogger, &out)
	var built []model.Account
	b.newClient = func(a model.Account, _ ClientOptions) (backend.Client, error) {
		built = append(built, a)
		return be, nil
	}

	repos, err := b.Run(context.Background(), testAccounts())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("repos = %d, want 2", len(repos))
	}
	if built[0].Password != "pw" {
		t.Error("client should be built with the configured password")
	}

	home := repos[0].Account()
	if home.DisplayName != "Alice" || home.Token != "tok" {
		t.Errorf("home = %+v, want logged in", home)
	}
	if repos[1].Account().Token != "" {
		t.Error("local account should not log in")
	}

	summary := out.String()
	if !strings.Contains(summary, "logged in as Alice") || !strings.Contains(summary, "offline") {
		t.Errorf("summary = %q", summary)
	}

	stored, _ := store.Accounts(context.Background())
	if len(stored) != 2 {
		t.Errorf("stored accounts = %d, want 2", len(stored))
	}
}

func TestBootstrap_SkipsLoginWithSession(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	acct, err := store.EnsureAccount(ctx, testAccounts()[0].Model())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.UpdateSession(ctx, acct.ID, "old", "", "Bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	be := newMockBackend()
	be.loginErr = errors.New("login must not be called")
	b := NewBootstrap(store, 100, testLogger, &bytes.Buffer{})
	var builtToken string
	b.newClient = func(a model.Account, _ ClientOptions) (backend.Client, error) {
		builtToken = a.Token
		return be, nil
	}

	repos, err := b.Run(ctx, testAccounts()[:1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if builtToken != "old" {
		t.Errorf("client token = %q, want the stored session", builtToken)
	}
	if repos[0].Account().DisplayName != "Bob" {
		t.Errorf("DisplayName = %q, want Bob", repos[0].Account().DisplayName)
	}
}

func TestBootstrap_LoginFailureKeepsAccount(t *testing.T) {
	store := openStore(t)
	be := newMockBackend()
	be.loginErr = backend.AuthError("login", errors.New("bad password"))
	var out bytes.Buffer

	b := NewBootstrap(store, 100, testLogger, &out)
	b.newClient = func(model.Account, ClientOptions) (backend.Client, error) { return be, nil }

	repos, err := b.Run(context.Background(), testAccounts()[:1])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("repos = %d, want 1", len(repos))
	}
	if !strings.Contains(out.String(), "login failed") {
		t.Errorf("summary = %q, want login failure", out.String())
	}
}

func TestNewClient_Kinds(t *testing.T) {
	for _, kind := range []model.Kind{model.KindLocal, model.KindFreshRSS, model.KindNextcloud, model.KindFever} {
		c, err := NewClient(model.Account{Name: "x", Kind: kind, URL: "https://rss.example.com"}, ClientOptions{})
		if err != nil {
			t.Errorf("NewClient(%s): unexpected error: %v", kind, err)
		}
		if c == nil {
			t.Errorf("NewClient(%s) = nil", kind)
		}
	}
	if _, err := NewClient(model.Account{Name: "x", Kind: "bogus"}, ClientOptions{}); err == nil {
		t.Error("NewClient(bogus) should fail")
	}
}
