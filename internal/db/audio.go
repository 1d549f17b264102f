package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/talkinghead/internal/models"
)

func (db *DB) PutAudio(ctx context.Context, a *models.AudioAsset) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audio (id, voice_name, scope, text_hash, duration_sec, created_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			voice_name = EXCLUDED.voice_name,
			scope = EXCLUDED.scope,
			text_hash = EXCLUDED.text_hash,
			duration_sec = EXCLUDED.duration_sec,
			created_at = EXCLUDED.created_at,
			data = EXCLUDED.data
	`

	_, err = conn.ExecContext(ctx, query,
		a.ID, a.VoiceName, a.Scope, a.TextHash, a.DurationSec, a.CreatedAt, a.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to put audio: %w", err)
	}
	return nil
}

func (db *DB) GetAudio(ctx context.Context, key string) (*models.AudioAsset, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, voice_name, scope, text_hash, duration_sec, created_at, data
		FROM audio
		WHERE id = $1
	`

	a := &models.AudioAsset{}
	err = conn.QueryRowContext(ctx, query, key).Scan(
		&a.ID, &a.VoiceName, &a.Scope, &a.TextHash, &a.DurationSec, &a.CreatedAt, &a.Data,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audio %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio: %w", err)
	}
	return a, nil
}

func (db *DB) ListAudio(ctx context.Context) ([]models.AudioAsset, error) {
	conn, err := db.session(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, voice_name, scope, text_hash, duration_sec, created_at, data
		FROM audio
		ORDER BY created_at DESC
	`

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query audio: %w", err)
	}
	defer rows.Close()

	var assets []models.AudioAsset
	for rows.Next() {
		var a models.AudioAsset
		err := rows.Scan(&a.ID, &a.VoiceName, &a.Scope, &a.TextHash, &a.DurationSec, &a.CreatedAt, &a.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audio: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	return assets, nil
}

func (db *DB) DeleteAudio(ctx context.Context, key string) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM audio WHERE id = $1`, key); err != nil {
		return fmt.Errorf("failed to delete audio: %w", err)
	}
	return nil
}

func (db *DB) ClearAudio(ctx context.Context) error {
	conn, err := db.session(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM audio`); err != nil {
		return fmt.Errorf("failed to clear audio: %w", err)
	}
	return nil
}
