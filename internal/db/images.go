package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/talkinghead/internal/models"
)

func (db *DB) PutImage(ctx context.Context, img *models.ImageAsset) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO images (id, kind, mime_type, created_at, frame_id, time_sec, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			mime_type = EXCLUDED.mime_type,
			created_at = EXCLUDED.created_at,
			frame_id = EXCLUDED.frame_id,
			time_sec = EXCLUDED.time_sec,
			data = EXCLUDED.data
	`

	_, err = conn.ExecContext(ctx, query,
		img.ID, img.Kind, img.MimeType, img.CreatedAt, img.FrameID, img.TimeSec, img.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to put image: %w", err)
	}
	return nil
}

func (db *DB) ListImages(ctx context.Context) ([]models.ImageAsset, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, kind, mime_type, created_at, frame_id, time_sec, data
		FROM images
		ORDER BY created_at DESC
	`

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []models.ImageAsset
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, *img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read images: %w", err)
	}

	return images, nil
}

func (db *DB) GetImage(ctx context.Context, id string) (*models.ImageAsset, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, kind, mime_type, created_at, frame_id, time_sec, data
		FROM images
		WHERE id = $1
	`

	img, err := scanImage(conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	return img, nil
}

func (db *DB) DeleteImage(ctx context.Context, id string) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	return nil
}

func (db *DB) ClearImages(ctx context.Context) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM images`); err != nil {
		return fmt.Errorf("failed to clear images: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(row scanner) (*models.ImageAsset, error) {
	var (
		img     models.ImageAsset
		frameID sql.NullString
		timeSec sql.NullFloat64
	)
	err := row.Scan(&img.ID, &img.Kind, &img.MimeType, &img.CreatedAt, &frameID, &timeSec, &img.Data)
	if err != nil {
		return nil, err
	}
	if frameID.Valid {
		img.FrameID = &frameID.String
	}
	if timeSec.Valid {
		img.TimeSec = &timeSec.Float64
	}
	return &img, nil
}
