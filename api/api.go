package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/recall/pkg/logger"
)

// Server is the API server for the knowledge graph.
type Server struct {
	config Config
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
func NewServer(config Config, log *slog.Logger) (*Server, error) {
	if config.Query == nil {
		return nil, errors.New("query service is required")
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		logger: logger.OrNop(log),
		app:    app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")
	v1.Post("/messages", s.handleAddMessage)
	v1.Get("/search", s.handleSearch)
	v1.Get("/stats", s.handleStats)
	v1.Get("/facts/recent", s.handleRecent)
	v1.Post("/facts", s.handleAddFact)
	v1.Get("/relations/:relation/facts", s.handleRelationFacts)
	v1.Post("/entities/merge", s.handleMerge)
	v1.Get("/entities/:name/facts", s.handleEntityFacts)
	v1.Get("/entities/:name/similar", s.handleSimilar)
	v1.Get("/entities/:name/mentions", s.handleMentions)

	if config.MCP != nil {
		mcpHandler := adaptor.HTTPHandler(config.MCP)
		app.All("/mcp", mcpHandler)
		app.All("/mcp/*", mcpHandler)
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server",
		"listen", s.config.ListenAddr,
	)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
