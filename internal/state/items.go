package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/njoerd114/readrelay/internal/model"
)

const itemColumns = `i.id, i.feed_id, i.remote_id, i.title, i.content, i.author, i.link,
	i.pub_date, i.read, i.starred, i.read_time`

// RemoteItemExists reports whether the feed already holds an item with the
// given remote id.
func (s *Store) RemoteItemExists(ctx context.Context, feedID int64, remoteID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM items WHERE feed_id = ? AND remote_id = ?)`
	var exists bool
	if err := s.q.QueryRowContext(ctx, q, feedID, remoteID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking item %q in feed id=%d: %w", remoteID, feedID, err)
	}
	return exists, nil
}

// InsertItems inserts items in order with one prepared statement. Items whose
// (feed, remote id) pair already exists are ignored. It returns the number of
// rows actually inserted.
func (s *Store) InsertItems(ctx context.Context, items []model.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	const q = `
		INSERT OR IGNORE INTO items
		    (feed_id, remote_id, title, content, author, link, pub_date, read, starred, read_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := s.q.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("preparing item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			it.FeedID, it.RemoteID, it.Title, it.Content, it.Author, it.Link,
			unixMillis(it.PubDate), boolInt(it.Read), boolInt(it.Starred), it.ReadTime,
		)
		if err != nil {
			return inserted, fmt.Errorf("inserting item %q: %w", it.RemoteID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

// Item returns the item with the given id, or (nil, nil).
func (s *Store) Item(ctx context.Context, id int64) (*model.Item, error) {
	return scanItem(s.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items i WHERE i.id = ?`, id))
}

// ItemQuery filters [Store.Items]. Zero values disable a filter.
type ItemQuery struct {
	AccountID   int64
	FeedID      int64
	FolderID    int64
	UnreadOnly  bool
	StarredOnly bool
	OldestFirst bool
	Limit       int
	Offset      int
}

// Items lists items matching q, newest first unless q.OldestFirst.
func (s *Store) Items(ctx context.Context, q ItemQuery) ([]model.Item, error) {
	var where []string
	var args []any

	if q.AccountID != 0 {
		where = append(where, "f.account_id = ?")
		args = append(args, q.AccountID)
	}
	if q.FeedID != 0 {
		where = append(where, "i.feed_id = ?")
		args = append(args, q.FeedID)
	}
	if q.FolderID != 0 {
		where = append(where, "f.folder_id = ?")
		args = append(args, q.FolderID)
	}
	if q.UnreadOnly {
		where = append(where, "i.read = 0")
	}
	if q.StarredOnly {
		where = append(where, "i.starred = 1")
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + itemColumns + ` FROM items i JOIN feeds f ON f.id = i.feed_id`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if q.OldestFirst {
		b.WriteString(" ORDER BY i.pub_date ASC, i.id ASC")
	} else {
		b.WriteString(" ORDER BY i.pub_date DESC, i.id DESC")
	}
	if q.Limit > 0 {
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.q.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// SetItemRead changes an item's read flag and, for remote accounts, marks it
// for the next push. Setting the current value is a no-op. changed reports
// whether the row was modified.
func (s *Store) SetItemRead(ctx context.Context, id int64, read bool) (changed bool, err error) {
	const q = `
		UPDATE items SET
		    read         = ?,
		    read_changed = CASE WHEN (
		        SELECT a.kind FROM feeds f JOIN accounts a ON a.id = f.account_id
		        WHERE f.id = items.feed_id) = 'local' THEN 0 ELSE 1 END
		WHERE id = ? AND read != ?`
	res, err := s.q.ExecContext(ctx, q, boolInt(read), id, boolInt(read))
	if err != nil {
		return false, fmt.Errorf("setting read=%v on item id=%d: %w", read, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("setting read=%v on item id=%d: %w", read, id, err)
	}
	return n > 0, nil
}

// SetItemStarred changes an item's starred flag. Stars stay local.
func (s *Store) SetItemStarred(ctx context.Context, id int64, starred bool) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE items SET starred = ? WHERE id = ?`, boolInt(starred), id); err != nil {
		return fmt.Errorf("setting starred=%v on item id=%d: %w", starred, id, err)
	}
	return nil
}

// ReadChanges returns the remote ids of the account's items marked read
// locally since the last confirmed push.
func (s *Store) ReadChanges(ctx context.Context, accountID int64) ([]string, error) {
	return s.changes(ctx, accountID, true)
}

// UnreadChanges returns the remote ids of the account's items marked unread
// locally since the last confirmed push.
func (s *Store) UnreadChanges(ctx context.Context, accountID int64) ([]string, error) {
	return s.changes(ctx, accountID, false)
}

func (s *Store) changes(ctx context.Context, accountID int64, read bool) ([]string, error) {
	const q = `
		SELECT i.remote_id FROM items i JOIN feeds f ON f.id = i.feed_id
		WHERE f.account_id = ? AND i.read_changed = 1 AND i.read = ?
		ORDER BY i.id`
	rows, err := s.q.QueryContext(ctx, q, accountID, boolInt(read))
	if err != nil {
		return nil, fmt.Errorf("querying change queue for account id=%d: %w", accountID, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning change queue row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ResetChanges clears the dirty bit of pushed items. A row is only cleared
// while its read flag still equals the state that was pushed, so a toggle
// made after the push was assembled stays queued.
func (s *Store) ResetChanges(ctx context.Context, accountID int64, read, unread []string) error {
	const q = `
		UPDATE items SET read_changed = 0
		WHERE read_changed = 1 AND read = ? AND remote_id = ?
		  AND feed_id IN (SELECT id FROM feeds WHERE account_id = ?)`
	if len(read) == 0 && len(unread) == 0 {
		return nil
	}
	stmt, err := s.q.PrepareContext(ctx, q)
	if err != nil {
		return fmt.Errorf("preparing change reset: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, batch := range []struct {
		read bool
		ids  []string
	}{{true, read}, {false, unread}} {
		for _, id := range batch.ids {
			if _, err := stmt.ExecContext(ctx, boolInt(batch.read), id, accountID); err != nil {
				return fmt.Errorf("resetting change for item %q: %w", id, err)
			}
		}
	}
	return nil
}

func scanItem(s scanner) (*model.Item, error) {
	var it model.Item
	var pub int64
	var read, starred int

	err := s.Scan(
		&it.ID,
		&it.FeedID,
		&it.RemoteID,
		&it.Title,
		&it.Content,
		&it.Author,
		&it.Link,
		&pub,
		&read,
		&starred,
		&it.ReadTime,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning item row: %w", err)
	}
	it.PubDate = fromUnixMillis(pub)
	it.Read = read == 1
	it.Starred = starred == 1
	return &it, nil
}
