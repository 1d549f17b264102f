package models

import (
	"testing"
)

func TestStageBusy(t *testing.T) {
	busy := []Stage{
		StageVoicePreviews,
		StageAudioFull,
		StageAudioAnalysis,
		StageGesturePlanning,
		StageKeyframeGen,
		StageVideoStart,
		StageVideoRender,
		StageVideoDownload,
	}
	for _, s := range busy {
		if !s.Busy() {
			t.Errorf("expected %s to be busy", s)
		}
	}

	idle := []Stage{StageIdle, StageVoiceSelected, StageGestureEditing, StageDone, StageError, StageCanceled}
	for _, s := range idle {
		if s.Busy() {
			t.Errorf("expected %s not to be busy", s)
		}
	}
}

func TestStageTerminal(t *testing.T) {
	for _, s := range []Stage{StageDone, StageError, StageCanceled} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	if StageIdle.Terminal() || StageVideoRender.Terminal() {
		t.Error("idle and render must not be terminal")
	}
}

func TestOrientationAspectRatio(t *testing.T) {
	cases := map[VideoOrientation]string{
		OrientationLandscape: "16:9",
		OrientationPortrait:  "9:16",
		OrientationSquare:    "1:1",
		"":                   "9:16",
	}
	for o, want := range cases {
		if got := o.AspectRatio(); got != want {
			t.Errorf("%q: expected %s, got %s", o, want, got)
		}
	}
}

func TestVoiceVariants(t *testing.T) {
	catalog := CatalogVoice{Name: "en-US-Studio-O", DisplayName: "Female (US)", Gender: GenderFemale, PromptDescriptor: "a friendly voice"}
	cloned := ClonedVoice{ID: "c1", DisplayName: "Me", PromptDescriptor: "a raspy voice", SourceSampleLabel: "me.mp3", BaseVoice: "en-US-Studio-M"}

	if catalog.SynthesisVoice() != "en-US-Studio-O" {
		t.Errorf("catalog voice should synthesize with its own name")
	}
	if cloned.SynthesisVoice() != "en-US-Studio-M" {
		t.Errorf("cloned voice should synthesize with its base voice, got %s", cloned.SynthesisVoice())
	}

	opt := ToOption(cloned)
	if opt.Kind != "cloned" || opt.SampleLabel != "me.mp3" || opt.ID != "c1" {
		t.Errorf("unexpected cloned option: %+v", opt)
	}
	opt = ToOption(catalog)
	if opt.Kind != "catalog" || opt.Gender != GenderFemale {
		t.Errorf("unexpected catalog option: %+v", opt)
	}
}
