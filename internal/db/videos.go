package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/talkinghead/internal/models"
)

// PutVideo stores the video and its thumbnail in one row, so an item is
// never persisted without its thumbnail.
func (db *DB) PutVideo(ctx context.Context, v *models.VideoHistoryItem) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO video_history (id, thumbnail, script, created_at, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			thumbnail = EXCLUDED.thumbnail,
			script = EXCLUDED.script,
			created_at = EXCLUDED.created_at,
			data = EXCLUDED.data
	`

	if _, err := conn.ExecContext(ctx, query, v.ID, v.Thumbnail, v.Script, v.Timestamp, v.Video); err != nil {
		return fmt.Errorf("failed to put video: %w", err)
	}
	return nil
}

func (db *DB) ListVideos(ctx context.Context) ([]models.VideoHistoryItem, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, thumbnail, script, created_at, data
		FROM video_history
		ORDER BY created_at DESC
	`

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query video history: %w", err)
	}
	defer rows.Close()

	var items []models.VideoHistoryItem
	for rows.Next() {
		var v models.VideoHistoryItem
		if err := rows.Scan(&v.ID, &v.Thumbnail, &v.Script, &v.Timestamp, &v.Video); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read video history: %w", err)
	}

	return items, nil
}

func (db *DB) GetVideo(ctx context.Context, id string) (*models.VideoHistoryItem, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, thumbnail, script, created_at, data
		FROM video_history
		WHERE id = $1
	`

	v := &models.VideoHistoryItem{}
	err = conn.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.Thumbnail, &v.Script, &v.Timestamp, &v.Video)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return v, nil
}

func (db *DB) DeleteVideo(ctx context.Context, id string) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM video_history WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	return nil
}

func (db *DB) ClearVideos(ctx context.Context) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM video_history`); err != nil {
		return fmt.Errorf("failed to clear video history: %w", err)
	}
	return nil
}
