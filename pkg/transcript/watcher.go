// Package transcript tails a directory of JSONL conversation transcripts and
// feeds each new message to a sink, normally the message buffer.
//
// Every line of a *.jsonl file is one message:
//
//	{"conversation_id": "slack:C042", "sender": "alice", "content": "..."}
//
// A line without a conversation_id belongs to a conversation named after the
// file. Only complete, newline-terminated lines are consumed; a partial last
// line is picked up once its newline is written. A line whose delivery fails
// with a retryable error stays unconsumed and is tried again later.
package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/papercomputeco/recall/pkg/logger"
)

const (
	fileExt = ".jsonl"

	defaultRetryInterval = 5 * time.Second
)

// ErrDeliveryDeferred wraps a retryable sink error. The offending line and
// everything after it in the same file are left for a later pass.
var ErrDeliveryDeferred = errors.New("transcript delivery deferred")

// SinkFunc receives one transcript message. buffer.Buffer.Add and
// client.Client.AddMessage both have this shape.
type SinkFunc func(ctx context.Context, conversationID, sender, content string) (bool, error)

// Line is one transcript message.
type Line struct {
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
}

// Config configures a Watcher.
type Config struct {
	// Dir is the directory to watch. Subdirectories are not watched.
	Dir string

	// Sink receives every parsed line.
	Sink SinkFunc

	// Offsets resumes from a previous run, keyed by absolute file path.
	Offsets map[string]int64

	// Retry reports whether a sink error is transient. Lines failing with a
	// transient error are not consumed. Nil treats every error as a
	// permanent rejection.
	Retry func(error) bool

	// RetryInterval is how often Run retries deferred files.
	// Defaults to 5s.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Watcher tails the transcripts in one directory.
type Watcher struct {
	dir           string
	sink          SinkFunc
	retry         func(error) bool
	retryInterval time.Duration
	logger        *slog.Logger

	mu       sync.Mutex
	offsets  map[string]int64
	deferred map[string]struct{}
}

// New creates a watcher. The directory must exist.
func New(cfg Config) (*Watcher, error) {
	if cfg.Sink == nil {
		return nil, errors.New("transcript sink is required")
	}

	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving transcript dir: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("transcript dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("transcript dir %s is not a directory", dir)
	}

	offsets := map[string]int64{}
	maps.Copy(offsets, cfg.Offsets)

	retry := cfg.Retry
	if retry == nil {
		retry = func(error) bool { return false }
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	return &Watcher{
		dir:           dir,
		sink:          cfg.Sink,
		retry:         retry,
		retryInterval: retryInterval,
		logger:        logger.OrNop(cfg.Logger),
		offsets:       offsets,
		deferred:      map[string]struct{}{},
	}, nil
}

// Offsets returns a snapshot of how far each file has been consumed.
func (w *Watcher) Offsets() map[string]int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.offsets)
}

// Scan consumes whatever is new in every transcript file once. A file whose
// delivery is deferred does not stop the others; the joined errors are
// returned.
func (w *Watcher) Scan(ctx context.Context) error {
	matches, err := filepath.Glob(filepath.Join(w.dir, "*"+fileExt))
	if err != nil {
		return fmt.Errorf("listing transcripts: %w", err)
	}

	var errs []error
	for _, path := range matches {
		if err := w.consume(ctx, path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deferred reports whether any file has a line waiting to be retried.
func (w *Watcher) Deferred() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.deferred) > 0
}

func (w *Watcher) retryDeferred(ctx context.Context) {
	w.mu.Lock()
	paths := make([]string, 0, len(w.deferred))
	for path := range w.deferred {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	for _, path := range paths {
		w.logConsumeError(path, w.consume(ctx, path))
	}
}

func (w *Watcher) logConsumeError(path string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrDeliveryDeferred):
		w.logger.Warn("transcript delivery deferred", "path", path, "error", err)
	default:
		w.logger.Error("reading transcript", "path", path, "error", err)
	}
}

// Run scans existing transcripts, then consumes appended lines until ctx is
// cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating transcript watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching transcript dir: %w", err)
	}

	// Scan after Add so writes landing in between are not missed.
	if err := w.Scan(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.logConsumeError(w.dir, err)
	}

	w.logger.Info("watching transcripts", "dir", w.dir)

	retry := time.NewTicker(w.retryInterval)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-retry.C:
			if w.Deferred() {
				w.retryDeferred(ctx)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != fileExt {
				continue
			}

			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				w.logConsumeError(event.Name, w.consume(ctx, event.Name))
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.forget(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("transcript watcher error: %w", err)
		}
	}
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.offsets, filepath.Clean(path))
	delete(w.deferred, filepath.Clean(path))
}

// consume feeds every complete line past the stored offset to the sink.
func (w *Watcher) consume(ctx context.Context, path string) error {
	path = filepath.Clean(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			delete(w.offsets, path)
			delete(w.deferred, path)
			return nil
		}
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat transcript: %w", err)
	}

	offset := w.offsets[path]
	if stat.Size() < offset {
		w.logger.Warn("transcript truncated, reading from start", "path", path)
		offset = 0
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek transcript: %w", err)
	}

	fallback := strings.TrimSuffix(filepath.Base(path), fileExt)
	reader := bufio.NewReader(file)
	for {
		raw, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// partial line: wait for the rest
			break
		}
		if err != nil {
			return fmt.Errorf("reading transcript: %w", err)
		}

		if err := w.deliver(ctx, path, fallback, raw); err != nil {
			w.offsets[path] = offset
			w.deferred[path] = struct{}{}
			return fmt.Errorf("%s: %w", path, err)
		}
		offset += int64(len(raw))
	}

	w.offsets[path] = offset
	delete(w.deferred, path)
	return nil
}

// deliver returns an error only when the line must be retried.
func (w *Watcher) deliver(ctx context.Context, path, fallback string, raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}

	var line Line
	if err := json.Unmarshal(raw, &line); err != nil {
		w.logger.Warn("skipping malformed transcript line", "path", path, "error", err)
		return nil
	}
	if line.ConversationID == "" {
		line.ConversationID = fallback
	}
	if line.Sender == "" {
		line.Sender = "user"
	}

	_, err := w.sink(ctx, line.ConversationID, line.Sender, line.Content)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || w.retry(err) {
		return fmt.Errorf("%w: %w", ErrDeliveryDeferred, err)
	}

	w.logger.Debug("transcript message not buffered",
		"conversation_id", line.ConversationID,
		"error", err,
	)
	return nil
}
