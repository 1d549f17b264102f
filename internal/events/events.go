// Package events feeds pipeline stage transitions into Redis: a capped list
// for late readers and a pub/sub channel for live ones.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/models"
)

const (
	ListKey = "pipeline:events"
	Channel = "pipeline:stage"

	maxEvents      = 200
	bufferSize     = 64
	publishTimeout = 5 * time.Second
)

// Publisher implements pipeline.StageObserver. StageChanged never blocks;
// a background loop started by Run writes events to Redis in order.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
	events chan models.StageEvent
}

func New(redisURL string, logger *zap.Logger) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newPublisher(client, logger), nil
}

func newPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.Named("events"),
		events: make(chan models.StageEvent, bufferSize),
	}
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// StageChanged hands the event to the background loop, dropping it when the
// loop has fallen behind.
func (p *Publisher) StageChanged(ev models.StageEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("stage event dropped", zap.String("stage", string(ev.Stage)))
	}
}

// Run writes events until ctx is done.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			if err := p.publish(ctx, ev); err != nil {
				p.logger.Error("failed to publish stage event", zap.String("stage", string(ev.Stage)), zap.Error(err))
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev models.StageEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	pipe := p.client.TxPipeline()
	pipe.RPush(ctx, ListKey, data)
	pipe.LTrim(ctx, ListKey, -maxEvents, -1)
	pipe.Publish(ctx, Channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest events, oldest first.
func (p *Publisher) Recent(ctx context.Context, n int) ([]models.StageEvent, error) {
	if n <= 0 || n > maxEvents {
		n = maxEvents
	}
	raw, err := p.client.LRange(ctx, ListKey, int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return decodeEvents(raw)
}

func decodeEvents(raw []string) ([]models.StageEvent, error) {
	out := make([]models.StageEvent, 0, len(raw))
	for _, r := range raw {
		var ev models.StageEvent
		if err := json.Unmarshal([]byte(r), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
