package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quickmart-labs/voicecart-core/internal/config"
)

const riffHeaderSize = 44

var errUnexpectedResponse = errors.New("unexpected synthesis response shape")

// Client talks to a Murf-style speech generation API. The generate call is
// blocking; Synthesizer implementations run it off the caller's goroutine.
type Client struct {
	cfg  config.SynthesisConfig
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg config.SynthesisConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("synthesis api key is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("synthesis endpoint is required")
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		},
		log: log.With(slog.String("component", "murf-client")),
	}, nil
}

type generateRequest struct {
	VoiceID        string  `json:"voiceId"`
	Style          string  `json:"style"`
	Text           string  `json:"text"`
	Format         string  `json:"format"`
	SampleRate     int     `json:"sampleRate"`
	ChannelType    string  `json:"channelType"`
	EncodeAsBase64 bool    `json:"encodeAsBase64"`
	Speed          float64 `json:"speed"`
	Pitch          float64 `json:"pitch"`
}

// generateResponse carries one of two shapes: a downloadable resource or an
// inline base64 payload.
type generateResponse struct {
	AudioFile    string `json:"audioFile"`
	AudioContent string `json:"audioContent"`
}

// Voice describes one vendor voice.
type Voice struct {
	VoiceID  string `json:"voiceId"`
	Name     string `json:"name"`
	Gender   string `json:"gender"`
	Language string `json:"language"`
}

// Generate synthesizes text into raw s16le PCM. It blocks for up to the
// configured request timeout and never retries.
func (c *Client) Generate(ctx context.Context, text, voice, style string) ([]byte, error) {
	channelType := "MONO"
	if c.cfg.Channels > 1 {
		channelType = "STEREO"
	}
	payload := generateRequest{
		VoiceID:        voice,
		Style:          style,
		Text:           text,
		Format:         c.cfg.Format,
		SampleRate:     c.cfg.SampleRate,
		ChannelType:    channelType,
		EncodeAsBase64: false,
		Speed:          c.cfg.Speed,
		Pitch:          c.cfg.Pitch,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/v1/speech/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Info("synthesizing speech",
		slog.String("voice", voice),
		slog.Int("text_length", len(text)))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech generate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("speech generate returned %s: %s", resp.Status, readSnippet(resp.Body))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode generate response: %w", err)
	}

	var audio []byte
	switch {
	case decoded.AudioFile != "":
		audio, err = c.fetch(ctx, decoded.AudioFile)
		if err != nil {
			return nil, err
		}
	case decoded.AudioContent != "":
		audio, err = base64.StdEncoding.DecodeString(decoded.AudioContent)
		if err != nil {
			return nil, fmt.Errorf("decode inline audio: %w", err)
		}
	default:
		return nil, errUnexpectedResponse
	}

	return stripContainerHeader(audio), nil
}

// fetch downloads the audio resource referenced by the generate response.
func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audio file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch audio file returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Voices lists the vendor's available voices. The endpoint returns either a
// bare array or an object wrapping one.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"/v1/speech/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list voices returned %s: %s", resp.Status, readSnippet(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var voices []Voice
	if err := json.Unmarshal(data, &voices); err == nil {
		return voices, nil
	}
	var wrapped struct {
		Voices []Voice `json:"voices"`
		Data   []Voice `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode voices response: %w", err)
	}
	if len(wrapped.Voices) > 0 {
		return wrapped.Voices, nil
	}
	return wrapped.Data, nil
}

// stripContainerHeader removes the fixed-size RIFF header when the payload
// arrives as a self-describing WAV, so downstream sees bare PCM samples.
func stripContainerHeader(audio []byte) []byte {
	if len(audio) > riffHeaderSize && bytes.HasPrefix(audio, []byte("RIFF")) {
		return audio[riffHeaderSize:]
	}
	return audio
}

func readSnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(data)
}

type murfSynth struct {
	client *Client
	cfg    config.SynthesisConfig
}

// NewMurfSynth wraps the blocking vendor call in the stream-shaped
// Synthesizer contract. Synthesis is all-or-nothing per utterance, so the
// stream has length exactly one.
func NewMurfSynth(cfg config.SynthesisConfig, log *slog.Logger) (Synthesizer, error) {
	client, err := NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return &murfSynth{client: client, cfg: cfg}, nil
}

func (m *murfSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		voice := req.Voice
		if voice == "" {
			voice = m.cfg.Voice
		}
		style := req.Style
		if style == "" {
			style = m.cfg.Style
		}

		pcm, err := m.client.Generate(ctx, req.Text, voice, style)
		if err != nil {
			errs <- err
			return
		}
		chunks <- Chunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			SampleRate: m.cfg.SampleRate,
			Channels:   m.cfg.Channels,
			PCM:        pcm,
			Samples:    len(pcm) / 2,
			Final:      true,
		}
	}()
	return chunks, errs
}
