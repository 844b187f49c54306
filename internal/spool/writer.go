// Package spool implements the durable JSONL fallback buffer between Edge
// and Worker: append-only files, rotated hourly or at a size cap, flushed
// after every line, and replayed (then marked .done) by the Worker
// listener (§4.2, §6.3).
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/signalcove/pixelwatch/internal/record"
)

// Writer appends TrackingRecords to spool_{UTCtimestamp}.jsonl files under
// Directory, rotating to a new file on process start, hour boundary, or
// RotateBytes, whichever comes first.
type Writer struct {
	directory   string
	rotateBytes int64

	mu          sync.Mutex
	file        *os.File
	writtenSize int64
	openedHour  int
}

func NewWriter(directory string, rotateBytes int64) (*Writer, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("spool: creating directory %s: %w", directory, err)
	}
	w := &Writer{directory: directory, rotateBytes: rotateBytes}
	if err := w.rotateLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Append writes rec as one JSON line and flushes to the kernel before
// returning. A successful return is one of the two durability tiers the
// system guarantees a hit reached (§5 "Durability contract").
func (w *Writer) Append(rec record.TrackingRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("spool: encoding record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	if now.Hour() != w.openedHour || w.writtenSize+int64(len(line)) > w.rotateBytes {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	n, err := w.file.Write(line)
	if err != nil {
		return fmt.Errorf("spool: writing line: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("spool: flushing: %w", err)
	}
	w.writtenSize += int64(n)
	return nil
}

// rotateLocked must be called with mu held.
func (w *Writer) rotateLocked() error {
	if w.file != nil {
		w.file.Close()
	}

	now := time.Now().UTC()
	name := fmt.Sprintf("spool_%s.jsonl", now.Format("20060102T150405.000000000"))
	path := filepath.Join(w.directory, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("spool: opening %s: %w", path, err)
	}

	w.file = f
	w.writtenSize = 0
	w.openedHour = now.Hour()
	return nil
}

// Close flushes and closes the current spool file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}
