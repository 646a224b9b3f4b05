package synth

import (
	"context"
	"testing"
	"time"
)

func TestExecSynthRejectsUnparsableCommand(t *testing.T) {
	if _, err := NewExecSynth("", 24000, 1); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecSynth(`broken "quote`, 24000, 1); err == nil {
		t.Fatal("expected error for unbalanced quoting")
	}
}

func TestExecSynthAbandonedStreamDoesNotBlockNextRequest(t *testing.T) {
	s, err := NewExecSynth("cat", 24000, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}

	// Start an utterance, never read its chunks, then cancel. The backend
	// must give up on the abandoned stream instead of wedging.
	ctx, cancel := context.WithCancel(context.Background())
	_, errs := s.Synthesize(ctx, Request{SessionID: "sess", Text: "hello"})
	cancel()

	select {
	case err, ok := <-errs:
		if ok && err == nil {
			t.Fatal("expected cancellation error for abandoned stream")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("abandoned stream never released its goroutine")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		chunks, errs := s.Synthesize(context.Background(), Request{SessionID: "sess", Text: "again"})
		for range chunks {
		}
		for err := range errs {
			t.Errorf("unexpected synth error: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("second utterance stalled after an abandoned stream")
	}
}
