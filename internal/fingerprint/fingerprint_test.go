package fingerprint

import (
	"testing"

	"github.com/bobarin/talkinghead/internal/models"
)

func TestOfIgnoresTagOrder(t *testing.T) {
	a := Of("Hello world.", []string{"calm", "warm", "slow"})
	b := Of("Hello world.", []string{"slow", "calm", "warm"})
	if a != b {
		t.Fatalf("expected equal hashes, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
}

func TestOfDoesNotMutateTags(t *testing.T) {
	tags := []string{"b", "a"}
	Of("x", tags)
	if tags[0] != "b" || tags[1] != "a" {
		t.Errorf("caller slice was reordered: %v", tags)
	}
}

func TestOfDistinguishesInputs(t *testing.T) {
	base := Of("Hello world.", nil)
	if base != Of("Hello world.", []string{}) {
		t.Error("nil tags should hash like an empty set")
	}
	if base == Of("Hello world!", nil) {
		t.Error("different text produced the same hash")
	}
	if base == Of("Hello world.", []string{"calm"}) {
		t.Error("different tags produced the same hash")
	}
	// Tag boundaries are part of the encoding.
	if Of("x", []string{"ab", "c"}) == Of("x", []string{"a", "bc"}) {
		t.Error("tag boundaries are not preserved")
	}
}

func TestAudioKey(t *testing.T) {
	got := AudioKey("abc", "en-US-Studio-O", models.AudioScopePreview)
	if got != "abc-en-US-Studio-O-preview" {
		t.Errorf("unexpected key %q", got)
	}
	if AudioKey("abc", "V1", models.AudioScopePreview) == AudioKey("abc", "V1", models.AudioScopeFull) {
		t.Error("scopes must not collide")
	}
}

func TestFirstSentence(t *testing.T) {
	cases := map[string]string{
		"Welcome. This is great!":     "Welcome.",
		"Really?! Yes.":               "Really?!",
		"  no terminator here  ":      "no terminator here",
		"Wait... what is this? Fine.": "Wait...",
		"":                            "",
	}
	for in, want := range cases {
		if got := FirstSentence(in); got != want {
			t.Errorf("FirstSentence(%q) = %q, want %q", in, got, want)
		}
	}
}
