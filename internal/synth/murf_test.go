package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/quickmart-labs/voicecart-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(endpoint string) config.SynthesisConfig {
	return config.SynthesisConfig{
		Enabled:          true,
		Mode:             "murf",
		Endpoint:         endpoint,
		APIKey:           "test-key",
		Voice:            "en-US-ryan",
		Style:            "Conversational",
		Format:           "WAV",
		SampleRate:       24000,
		Channels:         1,
		Speed:            1.0,
		RequestTimeoutMS: 5000,
	}
}

// wavFixture encodes the samples as a standard 44-byte-header WAV file and
// returns both the container bytes and the bare little-endian PCM payload.
func wavFixture(t *testing.T, samples []int) (container, pcm []byte) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	enc := wav.NewEncoder(f, 24000, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 24000},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}

	container, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	var raw bytes.Buffer
	for _, s := range samples {
		if err := binary.Write(&raw, binary.LittleEndian, int16(s)); err != nil {
			t.Fatalf("build expected pcm: %v", err)
		}
	}
	return container, raw.Bytes()
}

func TestGenerateInlineAudioContent(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5, 6}
	var fetches atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/speech/generate":
			if got := r.Header.Get("api-key"); got != "test-key" {
				t.Errorf("missing api key header, got %q", got)
			}
			var req generateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if req.VoiceID != "en-US-ryan" || req.ChannelType != "MONO" || req.SampleRate != 24000 {
				t.Errorf("unexpected request payload: %+v", req)
			}
			json.NewEncoder(w).Encode(map[string]string{
				"audioContent": base64.StdEncoding.EncodeToString(pcm),
			})
		default:
			fetches.Add(1)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL), newLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	got, err := c.Generate(context.Background(), "hello", "en-US-ryan", "Conversational")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("expected inline pcm %v, got %v", pcm, got)
	}
	if fetches.Load() != 0 {
		t.Fatalf("inline content must not trigger a fetch, got %d", fetches.Load())
	}
}

func TestGenerateAudioFileFetchStripsHeader(t *testing.T) {
	container, pcm := wavFixture(t, []int{100, -200, 300, -400, 500})
	var fetches atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/speech/generate":
			json.NewEncoder(w).Encode(map[string]string{
				"audioFile": "http://" + r.Host + "/files/utterance.wav",
			})
		case "/files/utterance.wav":
			fetches.Add(1)
			w.Write(container)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL), newLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	got, err := c.Generate(context.Background(), "hello", "en-US-ryan", "Conversational")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if fetches.Load() != 1 {
		t.Fatalf("expected exactly one secondary fetch, got %d", fetches.Load())
	}
	if !bytes.Equal(got, pcm) {
		t.Fatalf("expected bare pcm after header strip\nwant %v\ngot  %v", pcm, got)
	}
}

func TestGenerateUnexpectedResponseShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"something": true})
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL), newLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Generate(context.Background(), "hello", "v", "s"); err == nil {
		t.Fatal("expected error for unrecognized response shape")
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL), newLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.Generate(context.Background(), "hello", "v", "s"); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	cfg := testConfig("http://localhost")
	cfg.APIKey = ""
	if _, err := NewClient(cfg, newLogger()); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestMurfSynthEmitsSingleFinalChunk(t *testing.T) {
	pcm := []byte{9, 9, 8, 8, 7, 7, 6, 6}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(pcm),
		})
	}))
	defer srv.Close()

	s, err := NewMurfSynth(testConfig(srv.URL), newLogger())
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}

	chunks, errs := s.Synthesize(context.Background(), Request{SessionID: "sess", Text: "hello"})

	var got []Chunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	for err := range errs {
		t.Fatalf("unexpected synth error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected exactly one chunk, got %d", len(got))
	}
	c := got[0]
	if !c.Final {
		t.Fatal("single chunk must be final")
	}
	if c.SampleRate != 24000 || c.Channels != 1 {
		t.Fatalf("unexpected audio format: %+v", c)
	}
	if c.Samples != len(pcm)/2 {
		t.Fatalf("expected %d samples, got %d", len(pcm)/2, c.Samples)
	}
	if !bytes.Equal(c.PCM, pcm) {
		t.Fatalf("unexpected pcm: %v", c.PCM)
	}
}

func TestMurfSynthFailureReachesErrorChannel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewMurfSynth(testConfig(srv.URL), newLogger())
	if err != nil {
		t.Fatalf("new synth: %v", err)
	}

	chunks, errs := s.Synthesize(context.Background(), Request{SessionID: "sess", Text: "hello"})
	for range chunks {
		t.Fatal("no chunks expected on failure")
	}
	select {
	case err, ok := <-errs:
		if !ok || err == nil {
			t.Fatal("expected a synthesis error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestVoicesHandlesWrappedAndBareArrays(t *testing.T) {
	wrapped := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech/voices" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"voices": []Voice{{VoiceID: "en-US-ryan", Name: "Ryan", Gender: "Male", Language: "en-US"}},
		})
	}))
	defer wrapped.Close()

	c, err := NewClient(testConfig(wrapped.URL), newLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	voices, err := c.Voices(context.Background())
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	if len(voices) != 1 || voices[0].VoiceID != "en-US-ryan" {
		t.Fatalf("unexpected voices: %+v", voices)
	}

	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]Voice{{VoiceID: "en-US-natalie", Name: "Natalie"}})
	}))
	defer bare.Close()

	c, err = NewClient(testConfig(bare.URL), newLogger())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	voices, err = c.Voices(context.Background())
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	if len(voices) != 1 || voices[0].VoiceID != "en-US-natalie" {
		t.Fatalf("unexpected voices: %+v", voices)
	}
}

func TestMockSynthRespectsCancellation(t *testing.T) {
	s := NewMockSynth(24000, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks, errs := s.Synthesize(ctx, Request{SessionID: "sess", Text: "hello"})
	for range chunks {
		t.Fatal("no chunks expected after cancellation")
	}
	if err := <-errs; err == nil {
		t.Fatal("expected context error")
	}
}
