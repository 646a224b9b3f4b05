package synth

import "context"

// Request contains parameters to synthesize one utterance.
type Request struct {
	SessionID string
	Text      string
	Voice     string
	Style     string
}

// Chunk contains signed 16-bit mono PCM data. Samples is the sample count
// derived from the byte length.
type Chunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Samples    int
	Final      bool
}

// Synthesizer is the contract for producing audio. The channel pair is a
// lazy, finite, non-restartable stream; implementations that can only
// produce whole utterances emit a single final chunk.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}
