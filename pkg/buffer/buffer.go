// Package buffer accumulates conversation messages in per-conversation
// sliding windows and hands full or idle windows to a flush callback.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/papercomputeco/recall/pkg/logger"
)

var (
	// ErrMessageTooShort is returned by Add for messages below the minimum
	// length. The message is not buffered.
	ErrMessageTooShort = errors.New("message too short")

	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("buffer closed")
)

// FlushFunc receives a rendered window. Errors are logged by the buffer and
// never undo the window slide.
type FlushFunc func(ctx context.Context, conversationID, block string) error

// Message is a single buffered line of conversation.
type Message struct {
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationStats is a point-in-time view of one conversation's window.
type ConversationStats struct {
	MessageCount int       `json:"message_count"`
	LastFlush    time.Time `json:"last_flush"`
}

type conversation struct {
	mu       sync.Mutex
	messages []Message

	// lastFlush is set on creation and on every flush.
	lastFlush time.Time

	// lastActivity is the later of the last append and the last flush.
	lastActivity time.Time

	// pending counts messages appended since the last flush. The overlap
	// kept by a slide is not pending.
	pending int
}

// Buffer is the per-conversation sliding-window message buffer.
type Buffer struct {
	cfg    Config
	flush  FlushFunc
	logger *slog.Logger

	// mu guards convs and closed
	mu     sync.Mutex
	convs  map[string]*conversation
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a buffer and starts its idle sweep.
func New(cfg Config, flush FlushFunc) *Buffer {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	b := &Buffer{
		cfg:    cfg,
		flush:  flush,
		logger: logger.OrNop(cfg.Logger),
		convs:  make(map[string]*conversation),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go b.sweep()

	return b
}

func (b *Buffer) sweep() {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.FlushStale(b.ctx)
		}
	}
}

func (b *Buffer) conversation(id string, create bool) (*conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	c, ok := b.convs[id]
	if !ok && create {
		now := b.cfg.Now()
		c = &conversation{lastFlush: now, lastActivity: now}
		b.convs[id] = c
	}
	return c, nil
}

// Add appends a message to the conversation's window. When the window fills,
// the conversation is flushed before Add returns and flushed reports true.
func (b *Buffer) Add(ctx context.Context, conversationID, sender, content string) (bool, error) {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) < b.cfg.MinMessageChars {
		return false, ErrMessageTooShort
	}

	c, err := b.conversation(conversationID, true)
	if err != nil {
		return false, err
	}

	now := b.cfg.Now()
	c.mu.Lock()
	c.messages = append(c.messages, Message{Sender: sender, Content: content, Timestamp: now})
	c.lastActivity = now
	c.pending++
	full := len(c.messages) >= b.cfg.WindowSize
	var block string
	if full {
		block = b.slide(c)
	}
	c.mu.Unlock()

	if !full {
		return false, nil
	}

	b.deliver(ctx, conversationID, block)
	return true, nil
}

// slide renders the window and keeps the last StepSize messages. Callers hold
// c.mu.
func (b *Buffer) slide(c *conversation) string {
	lines := make([]string, len(c.messages))
	for i, m := range c.messages {
		lines[i] = fmt.Sprintf("[%s]: %s", m.Sender, m.Content)
	}

	if keep := b.cfg.StepSize; len(c.messages) > keep {
		c.messages = slices.Clone(c.messages[len(c.messages)-keep:])
	}

	now := b.cfg.Now()
	c.lastFlush = now
	c.lastActivity = now
	c.pending = 0

	return strings.Join(lines, "\n")
}

func (b *Buffer) deliver(ctx context.Context, conversationID, block string) {
	if b.flush == nil {
		return
	}

	if err := b.flush(ctx, conversationID, block); err != nil {
		b.logger.Error("flush callback failed",
			"conversation_id", conversationID,
			"error", err,
		)
	}
}

// Flush renders and hands off the conversation's window. It is a no-op when
// the conversation has no buffered messages.
func (b *Buffer) Flush(ctx context.Context, conversationID string) {
	b.flushIf(ctx, conversationID, func(*conversation) bool { return true })
}

func (b *Buffer) flushIf(ctx context.Context, conversationID string, cond func(*conversation) bool) bool {
	b.mu.Lock()
	c := b.convs[conversationID]
	b.mu.Unlock()
	if c == nil {
		return false
	}

	c.mu.Lock()
	if len(c.messages) == 0 || !cond(c) {
		c.mu.Unlock()
		return false
	}
	block := b.slide(c)
	c.mu.Unlock()

	b.deliver(ctx, conversationID, block)
	return true
}

// FlushStale flushes every conversation with new messages that has been idle
// longer than FlushTimeout. It returns the number of conversations flushed.
func (b *Buffer) FlushStale(ctx context.Context) int {
	now := b.cfg.Now()
	flushed := 0
	for _, id := range b.ids() {
		if b.flushIf(ctx, id, func(c *conversation) bool {
			return c.pending > 0 && now.Sub(c.lastActivity) > b.cfg.FlushTimeout
		}) {
			flushed++
		}
	}

	if flushed > 0 {
		b.logger.Debug("flushed idle conversations", "count", flushed)
	}
	return flushed
}

// FlushAll flushes every non-empty conversation regardless of size or idle
// time. It returns the number of conversations flushed.
func (b *Buffer) FlushAll(ctx context.Context) int {
	flushed := 0
	for _, id := range b.ids() {
		if b.flushIf(ctx, id, func(*conversation) bool { return true }) {
			flushed++
		}
	}
	return flushed
}

func (b *Buffer) ids() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Sorted(maps.Keys(b.convs))
}

// Stats snapshots every conversation's window.
func (b *Buffer) Stats() map[string]ConversationStats {
	b.mu.Lock()
	convs := maps.Clone(b.convs)
	b.mu.Unlock()

	stats := make(map[string]ConversationStats, len(convs))
	for id, c := range convs {
		c.mu.Lock()
		stats[id] = ConversationStats{MessageCount: len(c.messages), LastFlush: c.lastFlush}
		c.mu.Unlock()
	}
	return stats
}

// Messages returns a copy of the conversation's buffered messages.
func (b *Buffer) Messages(conversationID string) []Message {
	b.mu.Lock()
	c := b.convs[conversationID]
	b.mu.Unlock()
	if c == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// Close stops the idle sweep and rejects further messages. It does not
// flush; call FlushAll first to hand off buffered context. Close is safe to
// call more than once.
func (b *Buffer) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		b.cancel()
		<-b.done
	})
}
