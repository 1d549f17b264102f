// Package fingerprint derives the content hashes used as cache keys for
// synthesized audio.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/bobarin/talkinghead/internal/models"
)

var firstSentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// Of returns the lowercase hex SHA-256 of text followed by the JSON encoding
// of the sorted tags. Tag order never affects the result and nil tags hash
// the same as an empty set.
func Of(text string, tags []string) string {
	sorted := make([]string, len(tags))
	copy(sorted, tags)
	sort.Strings(sorted)

	// Marshalling a []string cannot fail.
	encoded, _ := json.Marshal(sorted)

	h := sha256.New()
	h.Write([]byte(text))
	h.Write(encoded)
	return hex.EncodeToString(h.Sum(nil))
}

// AudioKey builds the composite audio cache key hash-voice-scope.
func AudioKey(textHash, voiceName string, scope models.AudioScope) string {
	return fmt.Sprintf("%s-%s-%s", textHash, voiceName, scope)
}

// FirstSentence returns the first terminated sentence of script, used for
// voice previews. A script with no terminator is returned whole.
func FirstSentence(script string) string {
	if m := firstSentenceRe.FindString(script); m != "" {
		return strings.TrimSpace(m)
	}
	return strings.TrimSpace(script)
}
