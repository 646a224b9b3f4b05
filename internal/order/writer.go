package order

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

const historyFile = "order_history.json"

// FileWriter persists orders as one JSON record per order plus a cumulative
// history list. Writes are serialized so the multi-step update never
// interleaves; each file lands via temp-file + rename.
type FileWriter struct {
	dir string
	log *slog.Logger
	mu  sync.Mutex
}

func NewFileWriter(dir string, log *slog.Logger) *FileWriter {
	return &FileWriter{
		dir: dir,
		log: log.With(slog.String("component", "order-writer")),
	}
}

// Write persists the order record and appends it to the history. On error
// nothing is considered written and the caller must keep its cart.
func (w *FileWriter) Write(ctx context.Context, o Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create orders dir: %w", err)
	}

	record, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	history := w.readHistory()
	history = append(history, o)
	historyData, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode order history: %w", err)
	}

	recordPath := filepath.Join(w.dir, fmt.Sprintf("order_%s.json", o.OrderID))
	if err := writeAtomic(recordPath, record); err != nil {
		return fmt.Errorf("write order record: %w", err)
	}
	if err := writeAtomic(filepath.Join(w.dir, historyFile), historyData); err != nil {
		// Roll back the record so a failed pair leaves no partial state.
		os.Remove(recordPath)
		return fmt.Errorf("write order history: %w", err)
	}

	w.log.Info("order persisted",
		slog.String("order_id", o.OrderID),
		slog.Int("lines", len(o.Lines)),
		slog.Float64("total", o.Total))
	return nil
}

// History returns all orders recorded so far, oldest first.
func (w *FileWriter) History(ctx context.Context) ([]Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readHistory(), nil
}

// readHistory tolerates a missing or corrupted history file: the write must
// proceed against an empty history rather than fail.
func (w *FileWriter) readHistory() []Order {
	data, err := os.ReadFile(filepath.Join(w.dir, historyFile))
	if err != nil {
		if !os.IsNotExist(err) {
			w.log.Warn("failed to read order history, treating as empty", slog.String("error", err.Error()))
		}
		return nil
	}
	var history []Order
	if err := json.Unmarshal(data, &history); err != nil {
		w.log.Warn("corrupted order history, treating as empty", slog.String("error", err.Error()))
		return nil
	}
	return history
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".order-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
