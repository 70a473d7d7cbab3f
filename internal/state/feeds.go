package state

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/njoerd114/readrelay/internal/model"
)

const feedColumns = `id, account_id, folder_id, name, url, site_url, icon_url, remote_id`

// Feed returns the feed with the given id, or (nil, nil).
func (s *Store) Feed(ctx context.Context, id int64) (*model.Feed, error) {
	return scanFeed(s.q.QueryRowContext(ctx, `SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id))
}

// Feeds returns the account's feeds ordered by name.
func (s *Store) Feeds(ctx context.Context, accountID int64) ([]model.Feed, error) {
	const q = `SELECT ` + feedColumns + ` FROM feeds WHERE account_id = ? ORDER BY name COLLATE NOCASE, id`
	return s.queryFeeds(ctx, q, accountID)
}

// FeedsByIDs returns the feeds with the given ids, ordered by id. Unknown ids
// are skipped.
func (s *Store) FeedsByIDs(ctx context.Context, ids []int64) ([]model.Feed, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	q := `SELECT ` + feedColumns + ` FROM feeds WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id`
	return s.queryFeeds(ctx, q, args...)
}

// FeedIDByRemoteID resolves a remote feed id within the account. ok is false
// when no such feed exists.
func (s *Store) FeedIDByRemoteID(ctx context.Context, accountID int64, remoteID string) (id int64, ok bool, err error) {
	const q = `SELECT id FROM feeds WHERE account_id = ? AND remote_id = ?`
	err = s.q.QueryRowContext(ctx, q, accountID, remoteID).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolving feed %q: %w", remoteID, err)
	}
	return id, true, nil
}

// UpsertFeeds merges remote feeds into the account keyed by remote id and
// returns the ids of the feeds that did not exist before. Each feed's
// FolderRemoteID is resolved against the account's folders; an unresolvable
// reference leaves an existing feed in its current folder.
func (s *Store) UpsertFeeds(ctx context.Context, accountID int64, feeds []model.Feed) (newIDs []int64, err error) {
	folders, err := s.Folders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	folderIDs := make(map[string]int64, len(folders))
	for _, f := range folders {
		if f.RemoteID != nil {
			folderIDs[*f.RemoteID] = f.ID
		}
	}

	for _, f := range feeds {
		f.AccountID = accountID
		folderID, resolved := resolveFolder(folderIDs, f.FolderRemoteID)
		f.FolderID = folderID

		var existingID int64
		var found bool
		if f.RemoteID != nil {
			existingID, found, err = s.FeedIDByRemoteID(ctx, accountID, *f.RemoteID)
			if err != nil {
				return newIDs, err
			}
		}

		if !found {
			id, err := s.InsertFeed(ctx, f)
			if err != nil {
				return newIDs, err
			}
			newIDs = append(newIDs, id)
			continue
		}

		const q = `
			UPDATE feeds SET
			    name      = ?,
			    url       = ?,
			    site_url  = ?,
			    icon_url  = CASE WHEN ? != '' THEN ? ELSE icon_url END,
			    folder_id = CASE WHEN ? THEN ? ELSE folder_id END
			WHERE id = ?`
		_, err = s.q.ExecContext(ctx, q,
			f.Name, f.URL, f.SiteURL,
			f.IconURL, f.IconURL,
			resolved, nullInt(folderID),
			existingID,
		)
		if err != nil {
			return newIDs, fmt.Errorf("updating feed %q: %w", f.Name, err)
		}
	}
	return newIDs, nil
}

// resolveFolder maps a remote folder reference to a local id. An empty
// reference resolves to the root.
func resolveFolder(folderIDs map[string]int64, remoteID string) (*int64, bool) {
	if remoteID == "" {
		return nil, true
	}
	id, ok := folderIDs[remoteID]
	if !ok {
		return nil, false
	}
	return &id, true
}

// InsertFeed creates a feed and returns its id. A remote id already used in
// the account yields [ErrDuplicateFeed].
func (s *Store) InsertFeed(ctx context.Context, f model.Feed) (int64, error) {
	const q = `
		INSERT INTO feeds (account_id, folder_id, name, url, site_url, icon_url, remote_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.q.ExecContext(ctx, q,
		f.AccountID, nullInt(f.FolderID), f.Name, f.URL, f.SiteURL, f.IconURL, nullString(f.RemoteID))
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("feed %q: %w", f.URL, ErrDuplicateFeed)
	}
	if err != nil {
		return 0, fmt.Errorf("inserting feed %q: %w", f.Name, err)
	}
	return res.LastInsertId()
}

// UpdateFeed stores a feed's name, URL and folder.
func (s *Store) UpdateFeed(ctx context.Context, f model.Feed) error {
	const q = `UPDATE feeds SET name = ?, url = ?, folder_id = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, q, f.Name, f.URL, nullInt(f.FolderID), f.ID); err != nil {
		return fmt.Errorf("updating feed id=%d: %w", f.ID, err)
	}
	return nil
}

// UpdateFeedIcon stores a resolved icon URL.
func (s *Store) UpdateFeedIcon(ctx context.Context, id int64, iconURL string) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE feeds SET icon_url = ? WHERE id = ?`, iconURL, id); err != nil {
		return fmt.Errorf("updating icon for feed id=%d: %w", id, err)
	}
	return nil
}

// DeleteFeed removes a feed and its items.
func (s *Store) DeleteFeed(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting feed id=%d: %w", id, err)
	}
	return nil
}

// DeleteMissingFeeds removes the account's feeds whose remote id is not in
// keep, along with their items. It returns the number of feeds removed.
func (s *Store) DeleteMissingFeeds(ctx context.Context, accountID int64, keep []string) (int, error) {
	feeds, err := s.Feeds(ctx, accountID)
	if err != nil {
		return 0, err
	}
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	removed := 0
	for _, f := range feeds {
		if f.RemoteID == nil || keepSet[*f.RemoteID] {
			continue
		}
		if err := s.DeleteFeed(ctx, f.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) queryFeeds(ctx context.Context, q string, args ...any) ([]model.Feed, error) {
	rows, err := s.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

func scanFeed(s scanner) (*model.Feed, error) {
	var f model.Feed
	var folderID sql.NullInt64
	var remoteID sql.NullString

	err := s.Scan(&f.ID, &f.AccountID, &folderID, &f.Name, &f.URL, &f.SiteURL, &f.IconURL, &remoteID)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning feed row: %w", err)
	}
	f.FolderID = int64Ptr(folderID)
	f.RemoteID = stringPtr(remoteID)
	return &f, nil
}
