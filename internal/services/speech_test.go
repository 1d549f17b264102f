package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/bobarin/talkinghead/internal/models"
)

type fakeProber struct {
	duration float64
	err      error
	gotExt   string
}

func (f *fakeProber) ProbeDuration(ctx context.Context, data []byte, ext string) (float64, error) {
	f.gotExt = ext
	return f.duration, f.err
}

func newTestGoogleTTS(t *testing.T, handler http.HandlerFunc) *GoogleTTSService {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	catalog := []models.CatalogVoice{
		{Name: "en-GB-News-J", Gender: models.GenderMale},
		{Name: "en-US-Studio-O", Gender: models.GenderFemale},
	}
	svc := NewGoogleTTSService("test-key", catalog, zap.NewNop())
	svc.baseURL = srv.URL
	return svc
}

func TestGoogleTTSRequestShape(t *testing.T) {
	var got googleTTSRequest
	svc := newTestGoogleTTS(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text:synthesize" || r.URL.Query().Get("key") != "test-key" {
			t.Errorf("unexpected url %s", r.URL)
		}
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(googleTTSResponse{AudioContent: base64.StdEncoding.EncodeToString([]byte("mp3-bytes"))})
	})

	resp, err := svc.GenerateSpeech(context.Background(), "Hello.", "en-GB-News-J")
	if err != nil {
		t.Fatalf("GenerateSpeech failed: %v", err)
	}
	if string(resp.AudioData) != "mp3-bytes" || resp.Format != "mp3" {
		t.Errorf("unexpected response %+v", resp)
	}
	if got.Voice.LanguageCode != "en-GB" || got.Voice.SSMLGender != "MALE" || got.Voice.Name != "en-GB-News-J" {
		t.Errorf("unexpected voice %+v", got.Voice)
	}
	if got.AudioConfig.AudioEncoding != "MP3" || got.Input.Text != "Hello." {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestSpeechServiceMeasuresDuration(t *testing.T) {
	svc := newTestGoogleTTS(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(googleTTSResponse{AudioContent: base64.StdEncoding.EncodeToString([]byte("mp3"))})
	})
	prober := &fakeProber{duration: 4.0}
	speech := NewSpeechService(svc, prober)

	out, err := speech.SynthesizeSpeech(context.Background(), "Welcome. This is great!", "en-US-Studio-O")
	if err != nil {
		t.Fatalf("SynthesizeSpeech failed: %v", err)
	}
	if out.DurationSec != 4.0 || out.MimeType != "audio/mpeg" || prober.gotExt != "mp3" {
		t.Errorf("unexpected speech %+v (ext %s)", out, prober.gotExt)
	}
}

func TestSpeechServiceClassifiesProviderErrors(t *testing.T) {
	svc := newTestGoogleTTS(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"quota"}}`, http.StatusTooManyRequests)
	})
	speech := NewSpeechService(svc, &fakeProber{duration: 1})

	_, err := speech.SynthesizeSpeech(context.Background(), "Hi.", "en-US-Studio-O")
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindQuotaExceeded {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestSpeechServiceProbeFailure(t *testing.T) {
	svc := newTestGoogleTTS(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(googleTTSResponse{AudioContent: base64.StdEncoding.EncodeToString([]byte("garbage"))})
	})
	speech := NewSpeechService(svc, &fakeProber{err: errors.New("invalid data found")})

	if _, err := speech.SynthesizeSpeech(context.Background(), "Hi.", "en-US-Studio-O"); err == nil {
		t.Fatal("expected error when duration cannot be measured")
	}
}

func TestElevenLabsUsesVoiceAsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice-123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "k" {
			t.Errorf("missing api key header")
		}
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	svc := NewElevenLabsService("k", zap.NewNop())
	svc.baseURL = srv.URL
	resp, err := svc.GenerateSpeech(context.Background(), "Hi.", "voice-123")
	if err != nil || string(resp.AudioData) != "audio" {
		t.Fatalf("unexpected %v %v", resp, err)
	}
}

func TestLanguageCode(t *testing.T) {
	if languageCode("en-US-Studio-O") != "en-US" || languageCode("ja-JP-Wavenet-C") != "ja-JP" {
		t.Error("language code not derived from voice name")
	}
}

func TestSeekPoint(t *testing.T) {
	cases := map[float64]float64{8.0: 1.0, 1.0: 0.95, 0.5: 0.45, 0: 0}
	for dur, want := range cases {
		if got := seekPoint(dur); got < want-1e-9 || got > want+1e-9 {
			t.Errorf("seekPoint(%v) = %v, want %v", dur, got, want)
		}
	}
}
