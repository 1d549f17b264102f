package models

type Gender string

const (
	GenderMale   Gender = "Male"
	GenderFemale Gender = "Female"
)

// Voice is either a fixed catalog voice or a voice cloned from a user sample.
// The set of implementations is closed: CatalogVoice and ClonedVoice.
type Voice interface {
	// VoiceID uniquely identifies the option in the voice list.
	VoiceID() string
	// SynthesisVoice is the TTS voice name used to produce narration audio.
	SynthesisVoice() string
	// Descriptor describes the voice for the video narration prompt.
	Descriptor() string
	// Label is the human-readable display name.
	Label() string

	voice()
}

type CatalogVoice struct {
	Name             string `json:"name" yaml:"name"`
	DisplayName      string `json:"display_name" yaml:"display_name"`
	Gender           Gender `json:"gender" yaml:"gender"`
	PromptDescriptor string `json:"prompt_descriptor" yaml:"prompt_descriptor"`
}

func (v CatalogVoice) VoiceID() string        { return v.Name }
func (v CatalogVoice) SynthesisVoice() string { return v.Name }
func (v CatalogVoice) Descriptor() string     { return v.PromptDescriptor }
func (v CatalogVoice) Label() string          { return v.DisplayName }
func (CatalogVoice) voice()                   {}

// ClonedVoice is derived from an analysed voice sample. Its descriptor drives
// the narration prompt; BaseVoice is the catalog voice used for timing audio.
type ClonedVoice struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	PromptDescriptor  string `json:"prompt_descriptor"`
	SourceSampleLabel string `json:"source_sample_label"`
	BaseVoice         string `json:"base_voice"`
}

func (v ClonedVoice) VoiceID() string        { return v.ID }
func (v ClonedVoice) SynthesisVoice() string { return v.BaseVoice }
func (v ClonedVoice) Descriptor() string     { return v.PromptDescriptor }
func (v ClonedVoice) Label() string          { return v.DisplayName }
func (ClonedVoice) voice()                   {}

// VoiceOption is the wire form of a Voice.
type VoiceOption struct {
	Kind        string `json:"kind"` // "catalog" or "cloned"
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Descriptor  string `json:"descriptor"`
	Gender      Gender `json:"gender,omitempty"`
	SampleLabel string `json:"sample_label,omitempty"`
}

// ToOption converts a Voice into its wire form.
func ToOption(v Voice) VoiceOption {
	opt := VoiceOption{
		ID:          v.VoiceID(),
		DisplayName: v.Label(),
		Descriptor:  v.Descriptor(),
	}
	switch tv := v.(type) {
	case CatalogVoice:
		opt.Kind = "catalog"
		opt.Gender = tv.Gender
	case ClonedVoice:
		opt.Kind = "cloned"
		opt.SampleLabel = tv.SourceSampleLabel
	}
	return opt
}
