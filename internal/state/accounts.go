package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/njoerd114/readrelay/internal/model"
)

const accountColumns = `id, name, kind, url, login, token, write_token, display_name, watermark, last_synced_at`

// EnsureAccount registers a configured account, or refreshes the stored
// copy's kind, URL and login. When the kind, URL or login changed, the
// session, display name and watermark are reset so the next sync starts from scratch.
// The returned account carries the caller's Password.
func (s *Store) EnsureAccount(ctx context.Context, a model.Account) (model.Account, error) {
	const q = `
		INSERT INTO accounts (name, kind, url, login)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
		    token       = CASE WHEN accounts.kind != excluded.kind OR accounts.url != excluded.url OR accounts.login != excluded.login
		                       THEN '' ELSE accounts.token END,
		    write_token = CASE WHEN accounts.kind != excluded.kind OR accounts.url != excluded.url OR accounts.login != excluded.login
		                       THEN '' ELSE accounts.write_token END,
		    display_name = CASE WHEN accounts.kind != excluded.kind OR accounts.url != excluded.url OR accounts.login != excluded.login
		                       THEN '' ELSE accounts.display_name END,
		    watermark   = CASE WHEN accounts.kind != excluded.kind OR accounts.url != excluded.url OR accounts.login != excluded.login
		                       THEN 0 ELSE accounts.watermark END,
		    kind        = excluded.kind,
		    url         = excluded.url,
		    login       = excluded.login`

	if _, err := s.q.ExecContext(ctx, q, a.Name, string(a.Kind), a.URL, a.Login); err != nil {
		return model.Account{}, fmt.Errorf("ensuring account %q: %w", a.Name, err)
	}

	stored, err := s.AccountByName(ctx, a.Name)
	if err != nil {
		return model.Account{}, err
	}
	if stored == nil {
		return model.Account{}, fmt.Errorf("account %q vanished after upsert", a.Name)
	}
	stored.Password = a.Password
	return *stored, nil
}

// Account returns the account with the given id, or (nil, nil) if no such
// account exists.
func (s *Store) Account(ctx context.Context, id int64) (*model.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// AccountByName returns the account with the given name, or (nil, nil).
func (s *Store) AccountByName(ctx context.Context, name string) (*model.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE name = ?`, name)
	return scanAccount(row)
}

// Accounts returns all accounts ordered by id.
func (s *Store) Accounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// UpdateSession stores the result of a login.
func (s *Store) UpdateSession(ctx context.Context, id int64, token, writeToken, displayName string) error {
	const q = `UPDATE accounts SET token = ?, write_token = ?, display_name = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, q, token, writeToken, displayName, id); err != nil {
		return fmt.Errorf("updating session for account id=%d: %w", id, err)
	}
	return nil
}

// UpdateWatermark advances the sync cursor and stamps the sync time.
func (s *Store) UpdateWatermark(ctx context.Context, id, watermark int64, at time.Time) error {
	const q = `UPDATE accounts SET watermark = ?, last_synced_at = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, q, watermark, formatTime(at), id); err != nil {
		return fmt.Errorf("updating watermark for account id=%d: %w", id, err)
	}
	return nil
}

// UpdateWriteToken stores the secondary credential for mutating calls.
func (s *Store) UpdateWriteToken(ctx context.Context, id int64, token string) error {
	const q = `UPDATE accounts SET write_token = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, q, token, id); err != nil {
		return fmt.Errorf("updating write token for account id=%d: %w", id, err)
	}
	return nil
}

func scanAccount(s scanner) (*model.Account, error) {
	var a model.Account
	var kind, syncedAt string

	err := s.Scan(
		&a.ID,
		&a.Name,
		&kind,
		&a.URL,
		&a.Login,
		&a.Token,
		&a.WriteToken,
		&a.DisplayName,
		&a.Watermark,
		&syncedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account row: %w", err)
	}

	a.Kind = model.Kind(kind)
	a.LastSyncedAt, _ = parseTime(syncedAt)
	return &a, nil
}
