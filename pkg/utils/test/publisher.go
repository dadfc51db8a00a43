package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/recall/pkg/eventstream"
)

// MockPublisher records published fact events.
type MockPublisher struct {
	mu     sync.Mutex
	events []*eventstream.FactStoredEvent

	// Fail causes PublishFact to return an error.
	Fail bool

	Closed bool
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) PublishFact(_ context.Context, event *eventstream.FactStoredEvent) error {
	if event == nil {
		return eventstream.ErrNilFactEvent
	}
	if m.Fail {
		return errors.New("mock publish failure")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of the published events.
func (m *MockPublisher) Events() []*eventstream.FactStoredEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*eventstream.FactStoredEvent(nil), m.events...)
}

func (m *MockPublisher) Close() error {
	m.Closed = true
	return nil
}
