package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/pitch-arena/backend/internal/service/speech"
)

type fakeTranscriber struct {
	text   string
	err    error
	format string
	audio  []byte
}

func (f *fakeTranscriber) Available() bool { return true }

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, audio []byte, format string) (string, error) {
	f.audio = audio
	f.format = format
	return f.text, f.err
}

type fakeSynthesizer struct {
	playback speechmodel.Playback
	got      speechsvc.Utterance
}

func (f *fakeSynthesizer) Backends() []string { return []string{"elevenlabs"} }

func (f *fakeSynthesizer) Speak(_ context.Context, u speechsvc.Utterance) speechmodel.Playback {
	f.got = u
	return f.playback
}

func newRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func audioUpload(t *testing.T, filename string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("audio")); err != nil {
		t.Fatalf("write audio err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestTranscribeProbe(t *testing.T) {
	asr := &fakeTranscriber{text: "hello panel"}
	r := newRouter(New(asr, nil, nil, nil))

	body, ct := audioUpload(t, "sample.ogg")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if asr.format != "ogg" || string(asr.audio) != "audio" {
		t.Fatalf("unexpected transcriber input: format=%s audio=%q", asr.format, asr.audio)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if resp["text"] != "hello panel" {
		t.Fatalf("unexpected text: %q", resp["text"])
	}
}

func TestTranscribeEmptyTranscript(t *testing.T) {
	asr := &fakeTranscriber{err: speechsvc.ErrEmptyTranscript}
	r := newRouter(New(asr, nil, nil, nil))

	body, ct := audioUpload(t, "sample.wav")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
}

func TestTranscribeUnsupportedFormat(t *testing.T) {
	asr := &fakeTranscriber{err: fmt.Errorf("%w: %w", speechsvc.ErrTranscriptionFailed, speechsvc.ErrUnsupportedAudioFormat)}
	r := newRouter(New(asr, nil, nil, nil))

	body, ct := audioUpload(t, "sample.webm")
	req := httptest.NewRequest(http.MethodPost, "/speech/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
}

func TestTranscribeUnavailable(t *testing.T) {
	r := newRouter(New(nil, nil, nil, nil))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/speech/transcribe", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestSynthesizeWritesAudio(t *testing.T) {
	synth := &fakeSynthesizer{playback: speechmodel.Playback{Backend: "elevenlabs", Format: "mpeg", Audio: []byte("mp3")}}
	r := newRouter(New(nil, synth, persona.NewMemoryStore(persona.Seed()), nil))

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewBufferString(`{"text":"hello","personaId":"vc"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("Content-Type=%q", ct)
	}
	if rr.Body.String() != "mp3" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if synth.got.Persona.ID != "vc" || synth.got.Text != "hello" {
		t.Fatalf("unexpected utterance: %+v", synth.got)
	}
}

func TestSynthesizeLocalInstruction(t *testing.T) {
	local := &speechmodel.LocalSpeech{Text: "hello", Lang: "en-US", Pitch: 1, Rate: 1}
	synth := &fakeSynthesizer{playback: speechmodel.Playback{Backend: "device", Local: local}}
	r := newRouter(New(nil, synth, persona.NewMemoryStore(persona.Seed()), nil))

	req := httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewBufferString(`{"text":"hello"}`))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var playback speechmodel.Playback
	if err := json.NewDecoder(rr.Body).Decode(&playback); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if !playback.IsLocal() || playback.Local.Lang != "en-US" {
		t.Fatalf("expected local instruction, got %+v", playback)
	}
	if synth.got.Persona.ID != persona.OpeningID {
		t.Fatalf("default persona should be %s, got %s", persona.OpeningID, synth.got.Persona.ID)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	r := newRouter(New(nil, &fakeSynthesizer{}, persona.NewMemoryStore(persona.Seed()), nil))

	cases := map[string]string{
		"empty text":      `{"text":"  "}`,
		"unknown persona": `{"text":"hi","personaId":"ghost"}`,
		"bad json":        `{`,
	}
	for name, body := range cases {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/speech/synthesize", bytes.NewBufferString(body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rr.Code)
		}
	}
}

func TestInferAudioFormat(t *testing.T) {
	cases := map[string]string{
		"a.MP3":  "mp3",
		"b.webm": "webm",
		"c.bin":  "wav",
		"noext":  "wav",
	}
	for name, want := range cases {
		if got := inferAudioFormat(name); got != want {
			t.Fatalf("inferAudioFormat(%q) = %q, want %q", name, got, want)
		}
	}
}
