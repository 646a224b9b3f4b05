package synth

import (
	"context"
	"time"
)

// mockSynth stands in for the vendor API during development and wiring
// tests: every reply becomes a short silent utterance after a small
// vendor-like delay, so the request/chunk/done flow is exercised without
// network or an API key.
type mockSynth struct {
	sampleRate int
	channels   int
}

const (
	mockLatency    = 50 * time.Millisecond
	mockUtteranceS = 0.1
)

func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(mockLatency):
		}
		pcm := make([]byte, int(float64(m.sampleRate)*mockUtteranceS)*2*m.channels)
		chunks <- Chunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        pcm,
			Samples:    len(pcm) / 2,
			Final:      true,
		}
	}()
	return chunks, errs
}
