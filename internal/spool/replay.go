package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/signalcove/pixelwatch/internal/record"
)

// Handler is called once per decoded record found in a spool file, in
// file-chronological then line order (§5 "Spool replay on startup:
// chronological by file name, then line order within file").
type Handler func(record.TrackingRecord) error

// fileState tracks how much of a spool file the Replayer has already
// consumed, so a scan re-reads only newly appended lines.
type fileState struct {
	offset      int64
	lastSize    int64
	sawNoGrowth bool
}

// Replayer watches Directory for *.jsonl spool files, replays any new
// lines they contain through Handler, and renames a file to ".done" once
// it stops growing and has been fully consumed. A filesystem watcher
// triggers rescans; a periodic poll is the backstop for dropped
// notifications (§4.2, §9 "File-watch reliability").
type Replayer struct {
	directory    string
	pollInterval time.Duration
	handler      Handler
	logger       *zap.Logger

	mu     sync.Mutex
	states map[string]*fileState
}

func NewReplayer(directory string, pollInterval time.Duration, handler Handler, logger *zap.Logger) *Replayer {
	return &Replayer{
		directory:    directory,
		pollInterval: pollInterval,
		handler:      handler,
		logger:       logger,
		states:       map[string]*fileState{},
	}
}

// Run performs an initial chronological replay of every pending *.jsonl
// file, then blocks watching for new activity (fsnotify events, with a
// periodic poll backstop) until ctx is canceled.
func (r *Replayer) Run(ctx context.Context) error {
	if err := r.scan(); err != nil {
		return fmt.Errorf("spool: initial scan: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("spool: fsnotify unavailable, relying on poll backstop only", zap.Error(err))
		return r.pollLoop(ctx)
	}
	defer watcher.Close()

	if err := watcher.Add(r.directory); err != nil {
		r.logger.Warn("spool: failed to watch directory, relying on poll backstop only", zap.Error(err))
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := r.scan(); err != nil {
					r.logger.Warn("spool: rescan after fsnotify event failed", zap.Error(err))
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				continue
			}
			r.logger.Warn("spool: fsnotify error", zap.Error(err))
		case <-ticker.C:
			if err := r.scan(); err != nil {
				r.logger.Warn("spool: periodic poll scan failed", zap.Error(err))
			}
		}
	}
}

func (r *Replayer) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.scan(); err != nil {
				r.logger.Warn("spool: poll scan failed", zap.Error(err))
			}
		}
	}
}

// scan lists pending spool files in chronological order and replays any
// newly appended content in each.
func (r *Replayer) scan() error {
	entries, err := os.ReadDir(r.directory)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".jsonl") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // filenames embed a sortable UTC timestamp

	for _, name := range names {
		if err := r.replayFile(name); err != nil {
			r.logger.Warn("spool: replaying file failed", zap.String("file", name), zap.Error(err))
		}
	}
	return nil
}

func (r *Replayer) replayFile(name string) error {
	path := filepath.Join(r.directory, name)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	r.mu.Lock()
	st, ok := r.states[name]
	if !ok {
		st = &fileState{}
		r.states[name] = st
	}
	r.mu.Unlock()

	grew := info.Size() > st.lastSize

	if info.Size() > st.offset {
		if err := r.consumeNewLines(path, st); err != nil {
			return err
		}
	}

	r.mu.Lock()
	st.lastSize = info.Size()
	quiescent := !grew && st.sawNoGrowth
	st.sawNoGrowth = !grew
	r.mu.Unlock()

	if quiescent && st.offset >= info.Size() {
		if err := os.Rename(path, path+".done"); err != nil {
			return fmt.Errorf("marking %s done: %w", name, err)
		}
		r.mu.Lock()
		delete(r.states, name)
		r.mu.Unlock()
		r.logger.Debug("spool file fully replayed", zap.String("file", name))
	}

	return nil
}

func (r *Replayer) consumeNewLines(path string, st *fileState) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(st.offset, 0); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if len(line) == 0 && err != nil {
			break
		}
		if !strings.HasSuffix(line, "\n") {
			// Partial trailing line (writer hasn't flushed the newline
			// yet) — leave it for the next scan, don't advance offset.
			break
		}

		st.offset += int64(len(line))

		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		var rec record.TrackingRecord
		if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
			r.logger.Warn("spool: malformed line skipped", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}

		if err := r.handler(rec); err != nil {
			return fmt.Errorf("handling record: %w", err)
		}

		if err != nil {
			break
		}
	}
	return nil
}
