package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/models"
)

var (
	// ErrNotFound is returned when a key is absent from its namespace.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps failures to open, ping or migrate the database.
	ErrUnavailable = errors.New("asset store unavailable")
)

// Store is the persistent home of every binary the application produces.
// It is split into three independent namespaces.
type Store interface {
	PutImage(ctx context.Context, img *models.ImageAsset) error
	ListImages(ctx context.Context) ([]models.ImageAsset, error)
	GetImage(ctx context.Context, id string) (*models.ImageAsset, error)
	DeleteImage(ctx context.Context, id string) error
	ClearImages(ctx context.Context) error

	PutAudio(ctx context.Context, a *models.AudioAsset) error
	// GetAudio looks up by the composite key hash-voice-scope.
	GetAudio(ctx context.Context, key string) (*models.AudioAsset, error)
	ListAudio(ctx context.Context) ([]models.AudioAsset, error)
	DeleteAudio(ctx context.Context, key string) error
	ClearAudio(ctx context.Context) error

	PutVideo(ctx context.Context, v *models.VideoHistoryItem) error
	ListVideos(ctx context.Context) ([]models.VideoHistoryItem, error)
	GetVideo(ctx context.Context, id string) (*models.VideoHistoryItem, error)
	DeleteVideo(ctx context.Context, id string) error
	ClearVideos(ctx context.Context) error
}

var (
	_ Store = (*DB)(nil)
	_ Store = (*Memory)(nil)
)

// DB is the Postgres-backed Store. The connection is opened and migrated on
// first use and reused afterwards; a failed open is retried on the next call.
type DB struct {
	dsn    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *sql.DB
}

func New(dsn string, logger *zap.Logger) *DB {
	return &DB{dsn: dsn, logger: logger.Named("db")}
}

// newFromConn wraps an already migrated connection.
func newFromConn(conn *sql.DB, logger *zap.Logger) *DB {
	return &DB{conn: conn, logger: logger}
}

func (db *DB) session(ctx context.Context) (*sql.DB, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn != nil {
		return db.conn, nil
	}

	conn, err := sql.Open("postgres", db.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrUnavailable, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %w", ErrUnavailable, err)
	}
	if err := migrate(ctx, conn, db.logger); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	db.logger.Info("asset store opened")
	db.conn = conn
	return conn, nil
}

// Close releases the connection if one was opened.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}
