package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bobarin/talkinghead/internal/models"
)

func unreachable() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
}

func TestStageChangedNeverBlocks(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	p := newPublisher(unreachable(), zap.New(core))
	defer p.Close()

	done := make(chan struct{})
	go func() {
		// No loop is running, so the buffer fills and the rest is dropped.
		for i := 0; i < bufferSize+5; i++ {
			p.StageChanged(models.StageEvent{Stage: models.StageVideoRender})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StageChanged blocked")
	}
	if n := logs.FilterMessage("stage event dropped").Len(); n != 5 {
		t.Errorf("expected 5 dropped events, got %d", n)
	}
}

func TestRecentReportsRedisErrors(t *testing.T) {
	p := newPublisher(unreachable(), zap.NewNop())
	defer p.Close()

	if _, err := p.Recent(context.Background(), 10); err == nil {
		t.Fatal("expected an error from an unreachable redis")
	}
}

func TestRunStopsWithContext(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	p := newPublisher(unreachable(), zap.New(core))
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()

	p.StageChanged(models.StageEvent{Stage: models.StageDone})
	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("failed to publish stage event").Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("publish failure was not logged")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestDecodeEvents(t *testing.T) {
	ev := models.StageEvent{Stage: models.StageError, Previous: models.StageVideoRender, Error: "boom"}
	data, _ := json.Marshal(ev)

	got, err := decodeEvents([]string{string(data)})
	if err != nil || len(got) != 1 || got[0].Error != "boom" || got[0].Previous != models.StageVideoRender {
		t.Fatalf("got %+v, %v", got, err)
	}
	if _, err := decodeEvents([]string{"{"}); err == nil {
		t.Error("expected an unmarshal error")
	}
}
