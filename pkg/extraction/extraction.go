// Package extraction turns conversation blocks into candidate facts with a
// language model.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/logger"
)

// ErrExtraction wraps failures of the model call.
var ErrExtraction = errors.New("extraction failed")

// Extractor distills a block of conversation into candidate facts. It never
// fails: problems are logged and yield an empty list.
type Extractor interface {
	Extract(ctx context.Context, text string) []graph.CandidateFact
}

// LLMExtractor is an Extractor backed by an LLMCallFunc.
type LLMExtractor struct {
	call   LLMCallFunc
	logger *slog.Logger
}

// NewLLMExtractor creates an extractor around call.
func NewLLMExtractor(call LLMCallFunc, log *slog.Logger) *LLMExtractor {
	return &LLMExtractor{call: call, logger: logger.OrNop(log)}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, text string) []graph.CandidateFact {
	facts, err := e.extract(ctx, text)
	if err != nil {
		e.logger.Error("fact extraction failed", "error", err)
		return []graph.CandidateFact{}
	}

	e.logger.Debug("extracted candidate facts", "count", len(facts))
	return facts
}

func (e *LLMExtractor) extract(ctx context.Context, text string) ([]graph.CandidateFact, error) {
	if strings.TrimSpace(text) == "" {
		return []graph.CandidateFact{}, nil
	}

	raw, err := e.call(ctx, BuildPrompt(text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	resp := DecodeResponse([]byte(raw))
	facts, err := Normalize(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %s response: %v", ErrExtraction, resp.Kind, err)
	}
	return facts, nil
}

var _ Extractor = (*LLMExtractor)(nil)
