package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/recall/pkg/graph"
)

// MockExtractor returns canned facts and records the blocks it was given.
type MockExtractor struct {
	mu sync.Mutex

	// Facts is returned for every block not found in ByBlock.
	Facts []graph.CandidateFact

	// ByBlock maps an exact block to the facts extracted from it.
	ByBlock map[string][]graph.CandidateFact

	Blocks []string
}

func NewMockExtractor(facts ...graph.CandidateFact) *MockExtractor {
	return &MockExtractor{
		Facts:   facts,
		ByBlock: make(map[string][]graph.CandidateFact),
	}
}

func (m *MockExtractor) Extract(_ context.Context, text string) []graph.CandidateFact {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Blocks = append(m.Blocks, text)
	if facts, ok := m.ByBlock[text]; ok {
		return facts
	}
	return m.Facts
}

// Seen returns a copy of the recorded blocks.
func (m *MockExtractor) Seen() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Blocks...)
}
