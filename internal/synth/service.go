package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/quickmart-labs/voicecart-core/internal/bus"
	"github.com/quickmart-labs/voicecart-core/internal/config"
	"github.com/quickmart-labs/voicecart-core/internal/protocol"
)

// NewSynthesizer selects the backend for the configured mode.
func NewSynthesizer(cfg config.SynthesisConfig, log *slog.Logger) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "murf":
		return NewMurfSynth(cfg, log)
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}

// Service bridges speak requests on the bus to the synthesizer and streams
// the resulting audio back to the playback pipeline.
type Service struct {
	cfg    config.SynthesisConfig
	bus    *bus.Client
	synth  Synthesizer
	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewService(parent context.Context, cfg config.SynthesisConfig, busClient *bus.Client, synth Synthesizer, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		synth:  synth,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(slog.String("component", "synth-service")),
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakRequest, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		// The synthesizer enforces its own request timeout; this bound is a
		// backstop so a stuck backend cannot pin the worker forever.
		timeout := time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond + 15*time.Second
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()

		chunks, errs := s.synth.Synthesize(ctx, Request{
			SessionID: req.SessionID,
			Text:      req.Text,
			Voice:     req.Voice,
			Style:     req.Style,
		})
		sequence := 0
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					chunks = nil
					continue
				}
				chunk.Sequence = sequence
				sequence++
				s.publishChunk(req, chunk)
			case err, ok := <-errs:
				if ok && err != nil {
					s.logger.Warn("synthesis failed", slogError(err))
					s.publishFailure(req, err)
				}
				errs = nil
			case <-ctx.Done():
				s.logger.Warn("synthesis cancelled", slogError(ctx.Err()))
				return
			}
			if chunks == nil && errs == nil {
				return
			}
		}
	}()
}

func (s *Service) publishChunk(req protocol.SpeakRequest, chunk Chunk) {
	packet := protocol.AudioChunk{
		SessionID:  req.SessionID,
		Target:     req.Target,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		Sequence:   chunk.Sequence,
		PCM:        chunk.PCM,
		Final:      chunk.Final,
	}
	data, err := json.Marshal(packet)
	if err != nil {
		s.logger.Warn("failed to marshal audio chunk", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeakAudio, data); err != nil {
		s.logger.Warn("failed to publish audio chunk", slogError(err))
	}
	if chunk.Final {
		done := protocol.SpeakStatus{
			SessionID: req.SessionID,
			Target:    req.Target,
			Completed: true,
			Timestamp: time.Now().UTC(),
		}
		if data, err := json.Marshal(done); err == nil {
			_ = s.bus.Conn().Publish(protocol.SubjectSpeakDone, data)
		}
	}
}

func (s *Service) publishFailure(req protocol.SpeakRequest, synthErr error) {
	status := protocol.SpeakStatus{
		SessionID: req.SessionID,
		Target:    req.Target,
		Completed: false,
		Error:     synthErr.Error(),
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	_ = s.bus.Conn().Publish(protocol.SubjectSpeakDone, data)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
