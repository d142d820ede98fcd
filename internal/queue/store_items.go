package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Enqueue inserts a new queued item for the URL. When the URL is already
// tracked the existing item is returned and created is false.
func (s *Store) Enqueue(ctx context.Context, url string) (item *Item, created bool, err error) {
	existing, err := s.GetByURL(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := NewItemID(now)

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO archive_items (id, url, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		id,
		url,
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		// A concurrent enqueue of the same URL loses the race on the
		// unique constraint; treat it as a duplicate.
		if existing, getErr := s.GetByURL(ctx, url); getErr == nil && existing != nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert item: %w", err)
	}

	item, err = s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// GetByID fetches an archive item by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM archive_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// GetByURL fetches an archive item by its source URL.
func (s *Store) GetByURL(ctx context.Context, url string) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM archive_items WHERE url = ?`, url)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item by url: %w", err)
	}
	return item, nil
}

// Update persists changes to an existing archive item.
func (s *Store) Update(ctx context.Context, item *Item) error {
	if item == nil {
		return errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE archive_items
         SET url = ?, title = ?, status = ?, message = ?,
             local_path = ?, info_path = ?, thumbnail_url = ?,
             filemoon_code = ?, filesvc_code = ?, encoding_progress = ?,
             owner = ?, updated_at = ?
         WHERE id = ?`,
		item.URL,
		nullableString(item.Title),
		item.Status,
		nullableString(item.Message),
		nullableString(item.LocalPath),
		nullableString(item.InfoPath),
		nullableString(item.ThumbnailURL),
		nullableString(item.FilemoonCode),
		nullableString(item.FilesVCCode),
		nullableInt(item.EncodingProgress),
		nullableString(item.Owner),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
	); err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// UpdateIfStatus persists changes like Update, but only while the row still
// holds the from status. It reports whether the write was applied, so callers
// racing a concurrent transition (a cancel landing during the final flush of a
// download, for example) can detect they lost.
func (s *Store) UpdateIfStatus(ctx context.Context, item *Item, from Status) (bool, error) {
	if item == nil {
		return false, errors.New("item is nil")
	}
	item.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE archive_items
         SET url = ?, title = ?, status = ?, message = ?,
             local_path = ?, info_path = ?, thumbnail_url = ?,
             filemoon_code = ?, filesvc_code = ?, encoding_progress = ?,
             owner = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		item.URL,
		nullableString(item.Title),
		item.Status,
		nullableString(item.Message),
		nullableString(item.LocalPath),
		nullableString(item.InfoPath),
		nullableString(item.ThumbnailURL),
		nullableString(item.FilemoonCode),
		nullableString(item.FilesVCCode),
		nullableInt(item.EncodingProgress),
		nullableString(item.Owner),
		item.UpdatedAt.Format(time.RFC3339Nano),
		item.ID,
		from,
	)
	if err != nil {
		return false, fmt.Errorf("update item if status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetStatus unconditionally moves an item to a status, replacing its message.
func (s *Store) SetStatus(ctx context.Context, id string, status Status, message string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE archive_items SET status = ?, message = ?, updated_at = ? WHERE id = ?`,
		status,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return nil
}

// TransitionStatus moves an item to a status only when its current status is
// one of from. It reports whether the transition was applied, so callers can
// detect that the item moved underneath them (a cancel racing a download
// completion, for example).
func (s *Store) TransitionStatus(ctx context.Context, id string, to Status, message string, from ...Status) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("no source statuses")
	}
	placeholders := makePlaceholders(len(from))
	args := []any{to, nullableString(message), time.Now().UTC().Format(time.RFC3339Nano), id}
	for _, status := range from {
		args = append(args, status)
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE archive_items SET status = ?, message = ?, updated_at = ?
         WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetRemoteReference records the hosting identifier for a target. References
// are written once; a second write for the same target is ignored so remote
// state never flaps.
func (s *Store) SetRemoteReference(ctx context.Context, id string, target RemoteTarget, code string) error {
	var column string
	switch target {
	case TargetFilemoon:
		column = "filemoon_code"
	case TargetFilesVC:
		column = "filesvc_code"
	default:
		return fmt.Errorf("unknown remote target %q", target)
	}

	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE archive_items SET `+column+` = ?, updated_at = ?
         WHERE id = ? AND (`+column+` IS NULL OR `+column+` = '')`,
		code,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("set remote reference: %w", err)
	}
	return nil
}

// UpdateEncodingState records reconciliation output: status, progress, and an
// optional message in a single write.
func (s *Store) UpdateEncodingState(ctx context.Context, id string, status Status, progress *int, message string) error {
	if err := s.execWithoutResultRetry(
		ctx,
		`UPDATE archive_items SET status = ?, encoding_progress = ?, message = ?, updated_at = ? WHERE id = ?`,
		status,
		nullableInt(progress),
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update encoding state: %w", err)
	}
	return nil
}

// List returns archive items filtered by status set (or all items when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Item, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + itemColumns + ` FROM archive_items`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListActive returns every item that has not reached the archive yet, newest
// first.
func (s *Store) ListActive(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM archive_items WHERE status != ? ORDER BY created_at DESC, id DESC`,
		StatusEncoded,
	)
	if err != nil {
		return nil, fmt.Errorf("list active items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// ListEncoded returns archived items, newest first.
func (s *Store) ListEncoded(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+itemColumns+` FROM archive_items WHERE status = ? ORDER BY created_at DESC, id DESC`,
		StatusEncoded,
	)
	if err != nil {
		return nil, fmt.Errorf("list encoded items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextQueued returns the oldest queued item, or nil when the queue is drained.
func (s *Store) NextQueued(ctx context.Context) (*Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+itemColumns+` FROM archive_items WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		StatusQueued,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	return item, nil
}

// Remove deletes an item by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM archive_items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearByStatus removes items matching any of the given statuses.
func (s *Store) ClearByStatus(ctx context.Context, statuses ...Status) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}

	res, err := s.execWithRetry(ctx, `DELETE FROM archive_items WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("clear by status: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all items.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM archive_items`)
	if err != nil {
		return 0, fmt.Errorf("clear items: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns item counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM archive_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}
