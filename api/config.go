// Package api provides the HTTP API server for ingesting conversation
// messages and querying the knowledge graph.
package api

import (
	"net/http"

	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/buffer"
)

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8082")
	ListenAddr string

	// Query answers every read and manual write.
	Query *query.Service

	// Buffer receives POST /v1/messages. Without it the endpoint answers 503.
	Buffer *buffer.Buffer

	// MCP is mounted under /mcp when set.
	MCP http.Handler
}
