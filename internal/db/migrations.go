package db

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

type migration struct {
	version int
	name    string
	// destructive migrations drop cached data and cannot be undone.
	destructive bool
	stmts       []string
}

// Migrations only ever add tables, except version 3 which rebuilds the audio
// cache after its key gained the scope component. Images and video history
// are never touched after creation.
var migrations = []migration{
	{
		version: 1,
		name:    "create images and video history",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS images (
				id         TEXT PRIMARY KEY,
				kind       TEXT NOT NULL,
				mime_type  TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				frame_id   TEXT,
				time_sec   DOUBLE PRECISION,
				data       BYTEA NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS video_history (
				id         TEXT PRIMARY KEY,
				thumbnail  TEXT NOT NULL,
				script     TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				data       BYTEA NOT NULL
			)`,
		},
	},
	{
		version: 2,
		name:    "create audio cache",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS audio (
				id           TEXT PRIMARY KEY,
				voice_name   TEXT NOT NULL,
				text_hash    TEXT NOT NULL,
				duration_sec DOUBLE PRECISION NOT NULL,
				created_at   TIMESTAMPTZ NOT NULL,
				data         BYTEA NOT NULL
			)`,
		},
	},
	{
		version:     3,
		name:        "rebuild audio cache keyed by hash-voice-scope",
		destructive: true,
		stmts: []string{
			`DROP TABLE IF EXISTS audio`,
			`CREATE TABLE audio (
				id           TEXT PRIMARY KEY,
				voice_name   TEXT NOT NULL,
				scope        TEXT NOT NULL,
				text_hash    TEXT NOT NULL,
				duration_sec DOUBLE PRECISION NOT NULL,
				created_at   TIMESTAMPTZ NOT NULL,
				data         BYTEA NOT NULL
			)`,
		},
	},
}

func migrate(ctx context.Context, conn *sql.DB, logger *zap.Logger) error {
	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if m.destructive {
			logger.Warn("applying destructive migration, cached data will be dropped",
				zap.Int("version", m.version), zap.String("name", m.name))
		}
		if err := apply(ctx, conn, m); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		logger.Info("migration applied", zap.Int("version", m.version), zap.String("name", m.name))
	}
	return nil
}

func apply(ctx context.Context, conn *sql.DB, m migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, m.version); err != nil {
		return fmt.Errorf("failed to record version: %w", err)
	}
	return tx.Commit()
}
