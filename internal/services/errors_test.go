package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

func TestClassifyKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"openai rate limit", &openai.APIError{HTTPStatusCode: 429, Message: "slow down"}, KindQuotaExceeded},
		{"openai bad key", fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: 401}), KindInvalidCredentials},
		{"rest bad request", &statusError{Provider: "Google TTS", Status: 400}, KindInvalidInput},
		{"rest outage", &statusError{Provider: "gemini", Status: 503}, KindTransient},
		{"genai quota", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, KindQuotaExceeded},
		{"genai bad request mentioning a connection", fmt.Errorf("start: %w", genai.APIError{Code: 400, Message: "prompt mentions connection and 429 bytes"}), KindInvalidInput},
		{"genai server error", genai.APIError{Code: 503, Message: "overloaded"}, KindTransient},
		{"genai quota text", errors.New("Error 429, Message: Resource has been exhausted, Status: RESOURCE_EXHAUSTED"), KindQuotaExceeded},
		{"genai key text", errors.New("API key not valid. Please pass a valid API key."), KindInvalidCredentials},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"other", errors.New("something odd"), KindUnknown},
	}
	for _, c := range cases {
		err := Classify("Op", c.err)
		var se *ServiceError
		if !errors.As(err, &se) {
			t.Fatalf("%s: expected ServiceError, got %T", c.name, err)
		}
		if se.Kind != c.want {
			t.Errorf("%s: expected kind %s, got %s", c.name, c.want, se.Kind)
		}
	}
}

func TestClassifyPassesCancellationThrough(t *testing.T) {
	err := Classify("Op", fmt.Errorf("poll: %w", context.Canceled))
	var se *ServiceError
	if errors.As(err, &se) {
		t.Fatal("cancellation must not be wrapped")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatal("cancellation lost")
	}
	if Classify("Op", nil) != nil {
		t.Error("nil should stay nil")
	}
}

func TestClassifyKeepsKindAndRenamesOp(t *testing.T) {
	inner := &ServiceError{Op: "image edit", Kind: KindInvalidInput, Err: errors.New("no image")}
	err := Classify("Keyframe generation", inner)
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindInvalidInput || se.Op != "Keyframe generation" {
		t.Fatalf("unexpected: %#v", err)
	}
	if !strings.HasPrefix(err.Error(), "Keyframe generation: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestServiceErrorMessagesAreDistinct(t *testing.T) {
	seen := map[string]ErrorKind{}
	for _, k := range []ErrorKind{KindQuotaExceeded, KindInvalidCredentials, KindInvalidInput, KindTransient, KindUnknown} {
		msg := (&ServiceError{Op: "x", Kind: k}).Error()
		if other, ok := seen[msg]; ok {
			t.Errorf("%s and %s share a message", k, other)
		}
		seen[msg] = k
	}
}
