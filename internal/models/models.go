package models

import (
	"time"
)

// Enums
type Stage string

const (
	StageIdle            Stage = "IDLE"
	StageVoicePreviews   Stage = "VOICE_PREVIEWS"
	StageVoiceSelected   Stage = "VOICE_SELECTED"
	StageAudioFull       Stage = "AUDIO_FULL"
	StageAudioAnalysis   Stage = "AUDIO_ANALYSIS"
	StageGesturePlanning Stage = "GESTURE_PLANNING"
	StageGestureEditing  Stage = "GESTURE_EDITING"
	StageKeyframeGen     Stage = "KEYFRAME_GEN"
	StageVideoStart      Stage = "VIDEO_START"
	StageVideoRender     Stage = "VIDEO_RENDER"
	StageVideoDownload   Stage = "VIDEO_DOWNLOAD"
	StageDone            Stage = "DONE"
	StageError           Stage = "ERROR"
	StageCanceled        Stage = "CANCELED"
)

// Busy reports whether the stage is a phase with work in flight.
// Idle, review checkpoints and terminal stages are not busy.
func (s Stage) Busy() bool {
	switch s {
	case StageVoicePreviews, StageAudioFull, StageAudioAnalysis, StageGesturePlanning,
		StageKeyframeGen, StageVideoStart, StageVideoRender, StageVideoDownload:
		return true
	}
	return false
}

// Terminal reports whether the stage ends a generation attempt.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageError || s == StageCanceled
}

// Video reports whether the stage belongs to the cancelable video sub-pipeline.
func (s Stage) Video() bool {
	return s == StageVideoStart || s == StageVideoRender || s == StageVideoDownload
}

type ImageKind string

const (
	ImageKindUploaded  ImageKind = "uploaded"
	ImageKindGenerated ImageKind = "generated"
)

type AudioScope string

const (
	AudioScopePreview AudioScope = "preview"
	AudioScopeFull    AudioScope = "full"
)

type ExpressionIntensity string

const (
	IntensityNeutral        ExpressionIntensity = "Neutral"
	IntensityExpressive     ExpressionIntensity = "Expressive"
	IntensityVeryExpressive ExpressionIntensity = "Very Expressive"
)

type VideoOrientation string

const (
	OrientationLandscape VideoOrientation = "Landscape (16:9)"
	OrientationPortrait  VideoOrientation = "Portrait (9:16)"
	OrientationSquare    VideoOrientation = "Square (1:1)"
)

// AspectRatio returns the ratio string understood by the generation models.
func (o VideoOrientation) AspectRatio() string {
	switch o {
	case OrientationLandscape:
		return "16:9"
	case OrientationSquare:
		return "1:1"
	default:
		return "9:16"
	}
}

// Models

type ImageAsset struct {
	ID        string    `json:"id"`
	Kind      ImageKind `json:"kind"`
	Data      []byte    `json:"-"`
	MimeType  string    `json:"mime_type"`
	CreatedAt time.Time `json:"created_at"`
	FrameID   *string   `json:"frame_id,omitempty"` // Set for gesture keyframes
	TimeSec   *float64  `json:"time_sec,omitempty"` // Gesture peak the keyframe depicts
}

// AudioAsset is cached synthesized speech. ID is the cache key hash-voice-scope.
type AudioAsset struct {
	ID          string     `json:"id"`
	VoiceName   string     `json:"voice_name"`
	Scope       AudioScope `json:"scope"`
	TextHash    string     `json:"text_hash"`
	Data        []byte     `json:"-"`
	DurationSec float64    `json:"duration_sec"`
	CreatedAt   time.Time  `json:"created_at"`
}

type AudioTimingSegment struct {
	ID       int     `json:"id"`
	Text     string  `json:"text"`
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	PeakSec  float64 `json:"peak_sec"`
}

type AudioAnalysis struct {
	TotalSec float64              `json:"total_sec"`
	Segments []AudioTimingSegment `json:"segments"`
}

type GestureInstruction struct {
	KeyPhrase          string  `json:"key_phrase"`
	GestureDescription string  `json:"gesture_description"`
	TimeSec            float64 `json:"timeSec"`
}

type VideoHistoryItem struct {
	ID        string    `json:"id"`
	Video     []byte    `json:"-"`
	Thumbnail string    `json:"thumbnail"` // data URL
	Script    string    `json:"script"`
	Timestamp time.Time `json:"timestamp"`
}

// StageEvent is emitted on every pipeline stage transition.
type StageEvent struct {
	Stage     Stage     `json:"stage"`
	Previous  Stage     `json:"previous"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
