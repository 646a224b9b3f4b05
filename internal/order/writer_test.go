package order

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sampleOrder(id string) Order {
	return Order{
		OrderID:      id,
		CustomerName: "Guest",
		CreatedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Status:       StatusReceived,
		Lines: []Line{
			{ItemID: "i1", Name: "Bread", Unit: "loaf", Price: 40, Quantity: 2},
		},
		Total: 80,
	}
}

func TestWriteCreatesRecordAndHistory(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir, newLogger())

	if err := w.Write(context.Background(), sampleOrder("abc12345")); err != nil {
		t.Fatalf("write order: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "order_abc12345.json"))
	if err != nil {
		t.Fatalf("read order record: %v", err)
	}
	var got Order
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode order record: %v", err)
	}
	if got.OrderID != "abc12345" || got.Total != 80 || got.Status != StatusReceived {
		t.Fatalf("unexpected record: %+v", got)
	}

	history, err := w.History(context.Background())
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(history) != 1 || history[0].OrderID != "abc12345" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestHistoryIsAppendOnly(t *testing.T) {
	w := NewFileWriter(t.TempDir(), newLogger())

	for _, id := range []string{"one", "two", "three"} {
		if err := w.Write(context.Background(), sampleOrder(id)); err != nil {
			t.Fatalf("write order %s: %v", id, err)
		}
	}

	history, err := w.History(context.Background())
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(history))
	}
	if history[0].OrderID != "one" || history[2].OrderID != "three" {
		t.Fatalf("history out of order: %+v", history)
	}
}

func TestCorruptHistoryIsTolerated(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "order_history.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt history: %v", err)
	}

	w := NewFileWriter(dir, newLogger())
	if err := w.Write(context.Background(), sampleOrder("fresh")); err != nil {
		t.Fatalf("write over corrupt history: %v", err)
	}

	history, err := w.History(context.Background())
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(history) != 1 || history[0].OrderID != "fresh" {
		t.Fatalf("expected history reset to the new order, got %+v", history)
	}
}

func TestHistoryFailureRemovesOrphanedRecord(t *testing.T) {
	dir := t.TempDir()
	// A directory squatting on the history path makes the rename fail
	// after the record write already succeeded.
	if err := os.Mkdir(filepath.Join(dir, "order_history.json"), 0o755); err != nil {
		t.Fatalf("seed history obstruction: %v", err)
	}

	w := NewFileWriter(dir, newLogger())
	if err := w.Write(context.Background(), sampleOrder("half")); err == nil {
		t.Fatal("expected history write to fail")
	}

	if _, err := os.Stat(filepath.Join(dir, "order_half.json")); !os.IsNotExist(err) {
		t.Fatalf("order record must be rolled back, stat err=%v", err)
	}
}

func TestWriteCancelledContext(t *testing.T) {
	w := NewFileWriter(t.TempDir(), newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Write(ctx, sampleOrder("never")); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
