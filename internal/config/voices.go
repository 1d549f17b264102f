package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bobarin/talkinghead/internal/models"
)

type voiceCatalog struct {
	Voices []models.CatalogVoice `yaml:"voices"`
}

// LoadVoices reads a YAML voice catalog. An empty path yields the built-in
// catalog.
func LoadVoices(path string) ([]models.CatalogVoice, error) {
	if path == "" {
		return DefaultVoices(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice catalog: %w", err)
	}
	var catalog voiceCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse voice catalog: %w", err)
	}
	if len(catalog.Voices) == 0 {
		return nil, fmt.Errorf("voice catalog %s lists no voices", path)
	}

	seen := make(map[string]bool, len(catalog.Voices))
	for i, v := range catalog.Voices {
		if v.Name == "" || v.PromptDescriptor == "" {
			return nil, fmt.Errorf("voice %d: name and prompt_descriptor are required", i)
		}
		if v.Gender != models.GenderMale && v.Gender != models.GenderFemale {
			return nil, fmt.Errorf("voice %s: gender must be Male or Female", v.Name)
		}
		if seen[v.Name] {
			return nil, fmt.Errorf("voice %s is listed twice", v.Name)
		}
		seen[v.Name] = true
		if v.DisplayName == "" {
			catalog.Voices[i].DisplayName = v.Name
		}
	}
	return catalog.Voices, nil
}

// DefaultVoices is a curated set of Google Cloud Text-to-Speech voices.
func DefaultVoices() []models.CatalogVoice {
	return []models.CatalogVoice{
		{Name: "en-US-Studio-O", DisplayName: "Female (US) - Friendly & Clear", Gender: models.GenderFemale,
			PromptDescriptor: "a standard female voice with a friendly and clear American accent"},
		{Name: "en-US-Studio-M", DisplayName: "Male (US) - Professional & Confident", Gender: models.GenderMale,
			PromptDescriptor: "a standard male voice with a professional and confident American accent"},
		{Name: "en-GB-Studio-C", DisplayName: "Female (UK) - Polished & Refined", Gender: models.GenderFemale,
			PromptDescriptor: "a female voice with a polished and refined British accent"},
		{Name: "en-GB-News-J", DisplayName: "Male (UK) - Storyteller", Gender: models.GenderMale,
			PromptDescriptor: "a male voice with a classic British accent, suitable for storytelling"},
		{Name: "en-AU-Studio-B", DisplayName: "Male (AU) - Relaxed & Natural", Gender: models.GenderMale,
			PromptDescriptor: "a male voice with a relaxed and natural Australian accent"},
		{Name: "en-IN-Wavenet-D", DisplayName: "Male (IN) - Professional", Gender: models.GenderMale,
			PromptDescriptor: "a professional male voice with a standard Indian English accent"},
		{Name: "en-US-Wavenet-H", DisplayName: "Female (US) - Upbeat & Energetic", Gender: models.GenderFemale,
			PromptDescriptor: "an upbeat and energetic female voice with an American accent"},
		{Name: "en-US-Wavenet-D", DisplayName: "Male (US) - Deep & Authoritative", Gender: models.GenderMale,
			PromptDescriptor: "a deep, authoritative male voice with an American accent for narration"},
		{Name: "en-US-Wavenet-F", DisplayName: "Female (US) - Warm & Soothing", Gender: models.GenderFemale,
			PromptDescriptor: "a warm and soothing female voice with an American accent, like for meditation or storytelling"},
		{Name: "fr-FR-Studio-A", DisplayName: "Female - French, Elegant", Gender: models.GenderFemale,
			PromptDescriptor: "an elegant female voice with a Parisian French accent"},
		{Name: "es-ES-Studio-A", DisplayName: "Female - Spanish, Clear", Gender: models.GenderFemale,
			PromptDescriptor: "a female voice with a clear Castilian Spanish accent"},
		{Name: "de-DE-Studio-B", DisplayName: "Male - German, Formal", Gender: models.GenderMale,
			PromptDescriptor: "a formal male voice with a standard German accent"},
		{Name: "ja-JP-Wavenet-C", DisplayName: "Female - Japanese, Standard", Gender: models.GenderFemale,
			PromptDescriptor: "a standard female Japanese voice"},
	}
}
