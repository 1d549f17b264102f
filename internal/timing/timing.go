// Package timing estimates per-sentence timing from a measured narration
// length. There is no acoustic analysis: each sentence gets a share of the
// total proportional to its length and a peak placed by word count.
package timing

import (
	"strings"
	"unicode/utf8"

	"github.com/bobarin/talkinghead/internal/models"
)

const (
	shortPeak    = 0.50 // up to 3 words
	mediumPeak   = 0.60 // 4 to 8 words
	longPeak     = 0.70 // more than 8 words
	emphasisPeak = 0.15 // added for ? and !
	maxPeak      = 0.85
)

// Analyze splits script into sentence units and lays them out over
// [0, totalSec]. Segments are contiguous, in script order, and the last one
// ends exactly at totalSec.
func Analyze(totalSec float64, script string) models.AudioAnalysis {
	analysis := models.AudioAnalysis{TotalSec: totalSec, Segments: []models.AudioTimingSegment{}}
	if totalSec <= 0 {
		return analysis
	}

	units := splitSentences(script)
	totalChars := 0
	for _, u := range units {
		totalChars += utf8.RuneCountInString(u)
	}
	if totalChars == 0 {
		return analysis
	}

	start := 0.0
	for i, u := range units {
		dur := totalSec * float64(utf8.RuneCountInString(u)) / float64(totalChars)
		end := start + dur
		if i == len(units)-1 {
			end = totalSec
		}
		analysis.Segments = append(analysis.Segments, models.AudioTimingSegment{
			ID:       i,
			Text:     u,
			StartSec: start,
			EndSec:   end,
			PeakSec:  start + (end-start)*peakFraction(u),
		})
		start = end
	}
	return analysis
}

// splitSentences cuts text into runs of non-terminators each followed by its
// terminators (., !, ? or newline). Text after the last terminator forms a
// final unit. Units are trimmed and empty ones dropped.
func splitSentences(text string) []string {
	var units []string
	var cur strings.Builder
	inTerminators := false

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			units = append(units, s)
		}
		cur.Reset()
		inTerminators = false
	}

	for _, r := range text {
		if isTerminator(r) {
			if cur.Len() == 0 {
				// A terminator with no preceding text.
				continue
			}
			inTerminators = true
			cur.WriteRune(r)
			continue
		}
		if inTerminators {
			flush()
		}
		cur.WriteRune(r)
	}
	flush()
	return units
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

func peakFraction(sentence string) float64 {
	words := len(strings.Fields(sentence))
	frac := longPeak
	switch {
	case words <= 3:
		frac = shortPeak
	case words <= 8:
		frac = mediumPeak
	}
	if strings.HasSuffix(sentence, "?") || strings.HasSuffix(sentence, "!") {
		frac += emphasisPeak
		if frac > maxPeak {
			frac = maxPeak
		}
	}
	return frac
}
