package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/recall/pkg/ingest"
)

var (
	knowledgeGraphToolName    = "knowledge_graph"
	knowledgeGraphDescription = "Search and manage the knowledge graph. Stores facts extracted from conversations as (subject, relation, object) triples with vector embeddings for semantic search."
)

// Actions accepted by the knowledge_graph tool.
const (
	ActionSearch   = "search"
	ActionEntity   = "entity"
	ActionRelation = "relation"
	ActionStats    = "stats"
	ActionRecent   = "recent"
	ActionSimilar  = "similar"
	ActionMerge    = "merge"
	ActionAdd      = "add"
	ActionMentions = "mentions"
)

// KnowledgeGraphInput represents the input arguments for the knowledge_graph tool.
type KnowledgeGraphInput struct {
	Action      string `json:"action" jsonschema:"one of: search (semantic via mentions), entity (by name), relation (by type), stats, recent (latest facts), similar (find similar entities via mentions), merge (deduplicate entities), add (manually add a fact), mentions (list mentions for an entity)"`
	Query       string `json:"query,omitempty" jsonschema:"natural language search query (for action=search)"`
	Entity      string `json:"entity,omitempty" jsonschema:"entity name to look up (for action=entity, similar, mentions)"`
	Relation    string `json:"relation,omitempty" jsonschema:"relation type to filter (for action=relation) or to add (for action=add)"`
	Subject     string `json:"subject,omitempty" jsonschema:"subject entity (for action=add)"`
	SubjectType string `json:"subject_type,omitempty" jsonschema:"subject entity type (for action=add)"`
	Object      string `json:"object,omitempty" jsonschema:"object entity (for action=add)"`
	ObjectType  string `json:"object_type,omitempty" jsonschema:"object entity type (for action=add)"`
	MergeFrom   string `json:"merge_from,omitempty" jsonschema:"entity to merge from (for action=merge)"`
	MergeInto   string `json:"merge_into,omitempty" jsonschema:"entity to merge into (for action=merge)"`
	Limit       int    `json:"limit,omitempty" jsonschema:"max results (default 10)"`
}

func toolError(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// handleKnowledgeGraph dispatches on the action. Failures are reported as
// tool errors rather than protocol errors so the agent can read them.
func (s *Server) handleKnowledgeGraph(ctx context.Context, _ *mcp.CallToolRequest, in KnowledgeGraphInput) (*mcp.CallToolResult, any, error) {
	logger := s.config.Logger
	q := s.config.Query

	logger.Debug("MCP knowledge_graph request",
		"action", in.Action,
		"limit", in.Limit,
	)

	var (
		out any
		err error
	)

	switch in.Action {
	case ActionSearch:
		out, err = q.Search(ctx, in.Query, in.Limit)
	case ActionEntity:
		out, err = q.Entity(ctx, in.Entity, in.Limit)
	case ActionRelation:
		out, err = q.Relation(ctx, in.Relation, in.Limit)
	case ActionStats:
		out, err = q.Stats(ctx)
	case ActionRecent:
		out, err = q.Recent(ctx, in.Limit)
	case ActionSimilar:
		out, err = q.Similar(ctx, in.Entity, in.Limit)
	case ActionMerge:
		out, err = q.Merge(ctx, in.MergeFrom, in.MergeInto)
	case ActionAdd:
		out, err = q.Add(ctx, ingest.ManualFact{
			Subject:     in.Subject,
			SubjectType: in.SubjectType,
			Relation:    in.Relation,
			Object:      in.Object,
			ObjectType:  in.ObjectType,
		})
	case ActionMentions:
		out, err = q.Mentions(ctx, in.Entity, in.Limit)
	default:
		return toolError(fmt.Sprintf(
			"Unknown action: %q. Use: search, entity, relation, stats, recent, similar, merge, add, mentions",
			in.Action,
		)), nil, nil
	}

	if err != nil {
		logger.Warn("knowledge_graph action failed",
			"action", in.Action,
			"error", err,
		)
		return toolError(err.Error()), nil, nil
	}

	jsonBytes, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		logger.Error("failed to marshal knowledge_graph output", "error", err)
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), nil, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, nil, nil
}
