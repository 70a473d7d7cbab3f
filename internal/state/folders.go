package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/njoerd114/readrelay/internal/model"
)

const folderColumns = `id, account_id, name, remote_id`

// Folder returns the folder with the given id, or (nil, nil).
func (s *Store) Folder(ctx context.Context, id int64) (*model.Folder, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+folderColumns+` FROM folders WHERE id = ?`, id)
	return scanFolder(row)
}

// FolderByRemoteID returns the account's folder with the given remote id, or
// (nil, nil).
func (s *Store) FolderByRemoteID(ctx context.Context, accountID int64, remoteID string) (*model.Folder, error) {
	const q = `SELECT ` + folderColumns + ` FROM folders WHERE account_id = ? AND remote_id = ?`
	return scanFolder(s.q.QueryRowContext(ctx, q, accountID, remoteID))
}

// Folders returns the account's folders ordered by name.
func (s *Store) Folders(ctx context.Context, accountID int64) ([]model.Folder, error) {
	const q = `SELECT ` + folderColumns + ` FROM folders WHERE account_id = ? ORDER BY name COLLATE NOCASE`
	rows, err := s.q.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying folders for account id=%d: %w", accountID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// InsertFolder creates a folder and returns its id. A name already used in
// the account yields [ErrDuplicateName].
func (s *Store) InsertFolder(ctx context.Context, f model.Folder) (int64, error) {
	const q = `INSERT INTO folders (account_id, name, remote_id) VALUES (?, ?, ?)`
	res, err := s.q.ExecContext(ctx, q, f.AccountID, f.Name, nullString(f.RemoteID))
	if isUniqueViolation(err) {
		return 0, fmt.Errorf("folder %q: %w", f.Name, ErrDuplicateName)
	}
	if err != nil {
		return 0, fmt.Errorf("inserting folder %q: %w", f.Name, err)
	}
	return res.LastInsertId()
}

// UpsertFolders merges remote folders into the account by remote id. New
// folders are inserted and known ones renamed when the name changed. Name
// collisions do not abort the batch: they are returned as conflicts wrapping
// [ErrDuplicateName].
func (s *Store) UpsertFolders(ctx context.Context, folders []model.Folder) (conflicts []error, err error) {
	for _, f := range folders {
		if f.RemoteID == nil {
			continue
		}
		existing, err := s.FolderByRemoteID(ctx, f.AccountID, *f.RemoteID)
		if err != nil {
			return conflicts, err
		}

		if existing == nil {
			if _, err := s.InsertFolder(ctx, f); err != nil {
				if isDuplicateName(err) {
					conflicts = append(conflicts, err)
					continue
				}
				return conflicts, err
			}
			continue
		}

		if existing.Name == f.Name {
			continue
		}
		if err := s.UpdateFolder(ctx, existing.ID, f.Name); err != nil {
			if isDuplicateName(err) {
				conflicts = append(conflicts, err)
				continue
			}
			return conflicts, err
		}
	}
	return conflicts, nil
}

// UpdateFolder renames a folder.
func (s *Store) UpdateFolder(ctx context.Context, id int64, name string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE folders SET name = ? WHERE id = ?`, name, id)
	if isUniqueViolation(err) {
		return fmt.Errorf("folder %q: %w", name, ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("renaming folder id=%d: %w", id, err)
	}
	return nil
}

// DeleteFolder removes a folder. Its feeds move to the root.
func (s *Store) DeleteFolder(ctx context.Context, id int64) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting folder id=%d: %w", id, err)
	}
	return nil
}

// DeleteMissingFolders removes the account's remote folders whose remote id
// is not in keep. Local-only folders are left alone. It returns the number
// of folders removed.
func (s *Store) DeleteMissingFolders(ctx context.Context, accountID int64, keep []string) (int, error) {
	folders, err := s.Folders(ctx, accountID)
	if err != nil {
		return 0, err
	}
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	removed := 0
	for _, f := range folders {
		if f.RemoteID == nil || keepSet[*f.RemoteID] {
			continue
		}
		if err := s.DeleteFolder(ctx, f.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func scanFolder(s scanner) (*model.Folder, error) {
	var f model.Folder
	var remoteID sql.NullString

	err := s.Scan(&f.ID, &f.AccountID, &f.Name, &remoteID)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning folder row: %w", err)
	}
	f.RemoteID = stringPtr(remoteID)
	return &f, nil
}

func isDuplicateName(err error) bool {
	return errors.Is(err, ErrDuplicateName)
}
