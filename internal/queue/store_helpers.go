package queue

import (
	"database/sql"
	"errors"
	"time"
)

const itemColumns = "id, url, title, status, message, local_path, info_path, thumbnail_url, filemoon_code, filesvc_code, encoding_progress, owner, created_at, updated_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		id           string
		url          string
		title        sql.NullString
		statusStr    string
		message      sql.NullString
		localPath    sql.NullString
		infoPath     sql.NullString
		thumbnailURL sql.NullString
		filemoonCode sql.NullString
		filesvcCode  sql.NullString
		encProgress  sql.NullInt64
		owner        sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&url,
		&title,
		&statusStr,
		&message,
		&localPath,
		&infoPath,
		&thumbnailURL,
		&filemoonCode,
		&filesvcCode,
		&encProgress,
		&owner,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &Item{
		ID:           id,
		URL:          url,
		Title:        title.String,
		Status:       Status(statusStr),
		Message:      message.String,
		LocalPath:    localPath.String,
		InfoPath:     infoPath.String,
		ThumbnailURL: thumbnailURL.String,
		FilemoonCode: filemoonCode.String,
		FilesVCCode:  filesvcCode.String,
		Owner:        owner.String,
	}
	if encProgress.Valid {
		progress := int(encProgress.Int64)
		item.EncodingProgress = &progress
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
