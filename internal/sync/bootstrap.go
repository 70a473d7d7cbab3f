package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/njoerd114/readrelay/internal/backend"
	"github.com/njoerd114/readrelay/internal/config"
	"github.com/njoerd114/readrelay/internal/model"
)

// Bootstrap registers the configured accounts in the store and builds one
// [Repository] per account. Remote accounts without a session are logged in
// here; a failed login is reported but the account is still returned so
// the next sync can surface the error.
type Bootstrap struct {
	store    StateStore
	pageSize int
	log      *slog.Logger
	writer   io.Writer // for summary output (os.Stdout in production)

	newClient func(model.Account, ClientOptions) (backend.Client, error)
}

// NewBootstrap creates a Bootstrap. writer receives one summary line per
// account and may be io.Discard.
func NewBootstrap(store StateStore, pageSize int, logger *slog.Logger, writer io.Writer) *Bootstrap {
	return &Bootstrap{
		store:     store,
		pageSize:  pageSize,
		log:       logger,
		writer:    writer,
		newClient: NewClient,
	}
}

// Run registers every account and returns the repositories in config order.
func (b *Bootstrap) Run(ctx context.Context, accounts []config.Account) ([]*Repository, error) {
	repos := make([]*Repository, 0, len(accounts))
	for _, ca := range accounts {
		acct, err := b.store.EnsureAccount(ctx, ca.Model())
		if err != nil {
			return nil, fmt.Errorf("registering account %q: %w", ca.Name, err)
		}

		// Built from the stored account so a persisted session is reused.
		client, err := b.newClient(acct, ClientOptions{RequestsPerSecond: ca.RequestsPerSecond})
		if err != nil {
			return nil, fmt.Errorf("building client for %q: %w", ca.Name, err)
		}

		repo := NewRepository(acct, client, b.store, b.pageSize, b.log)
		status := "ready"
		if acct.Kind.Remote() && acct.DisplayName == "" {
			if err := repo.Login(ctx); err != nil {
				b.log.Error("login failed", "account", acct.Name, "error", err)
				status = "login failed"
			} else {
				status = "logged in as " + repo.Account().DisplayName
			}
		}

		_, _ = fmt.Fprintf(b.writer, "%-20s %-10s %s\n", acct.Name, acct.Kind, status)
		repos = append(repos, repo)
	}
	return repos, nil
}
