package api

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/recall/pkg/buffer"
	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/ingest"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageRequest is the body of POST /v1/messages.
type MessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Sender         string `json:"sender"`
	Content        string `json:"content"`
}

// MessageResponse reports what the buffer did with a message.
type MessageResponse struct {
	Buffered bool `json:"buffered"`
	Flushed  bool `json:"flushed"`
}

// MergeRequest is the body of POST /v1/entities/merge.
type MergeRequest struct {
	MergeFrom string `json:"merge_from"`
	MergeInto string `json:"merge_into"`
}

// handleError maps domain errors onto HTTP statuses.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, graph.ErrInvalidInput):
		status = fiber.StatusBadRequest
	case graph.IsNotFound(err):
		status = fiber.StatusNotFound
	case errors.Is(err, embeddings.ErrNotConfigured), errors.Is(err, buffer.ErrClosed):
		status = fiber.StatusServiceUnavailable
	}

	if status == fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", c.Path(),
			"error", err,
		)
	}

	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}

// limit parses the optional limit query parameter. Zero means the default.
func limit(c *fiber.Ctx) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// param returns a decoded path parameter.
func param(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleAddMessage buffers one conversation message.
func (s *Server) handleAddMessage(c *fiber.Ctx) error {
	if s.config.Buffer == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "message ingestion is not configured"})
	}

	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.ConversationID == "" {
		return badRequest(c, "conversation_id is required")
	}
	if req.Sender == "" {
		req.Sender = "user"
	}

	flushed, err := s.config.Buffer.Add(c.UserContext(), req.ConversationID, req.Sender, req.Content)
	if errors.Is(err, buffer.ErrMessageTooShort) {
		return c.JSON(MessageResponse{})
	}
	if err != nil {
		return s.handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(MessageResponse{Buffered: true, Flushed: flushed})
}

// handleSearch handles GET /v1/search?query=&limit=.
func (s *Server) handleSearch(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return badRequest(c, "query parameter is required")
	}

	n, ok := limit(c)
	if !ok {
		return badRequest(c, "limit must be a positive integer")
	}

	out, err := s.config.Query.Search(c.UserContext(), query, n)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) handleEntityFacts(c *fiber.Ctx) error {
	n, ok := limit(c)
	if !ok {
		return badRequest(c, "limit must be a positive integer")
	}

	out, err := s.config.Query.Entity(c.UserContext(), param(c, "name"), n)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) handleRelationFacts(c *fiber.Ctx) error {
	n, ok := limit(c)
	if !ok {
		return badRequest(c, "limit must be a positive integer")
	}

	out, err := s.config.Query.Relation(c.UserContext(), param(c, "relation"), n)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) handleRecent(c *fiber.Ctx) error {
	n, ok := limit(c)
	if !ok {
		return badRequest(c, "limit must be a positive integer")
	}

	out, err := s.config.Query.Recent(c.UserContext(), n)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) handleSimilar(c *fiber.Ctx) error {
	n, ok := limit(c)
	if !ok {
		return badRequest(c, "limit must be a positive integer")
	}

	out, err := s.config.Query.Similar(c.UserContext(), param(c, "name"), n)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) handleMentions(c *fiber.Ctx) error {
	n, ok := limit(c)
	if !ok {
		return badRequest(c, "limit must be a positive integer")
	}

	out, err := s.config.Query.Mentions(c.UserContext(), param(c, "name"), n)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) handleMerge(c *fiber.Ctx) error {
	var req MergeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	out, err := s.config.Query.Merge(c.UserContext(), req.MergeFrom, req.MergeInto)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}

func (s *Server) handleAddFact(c *fiber.Ctx) error {
	var req ingest.ManualFact
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	out, err := s.config.Query.Add(c.UserContext(), req)
	if err != nil {
		return s.handleError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	out, err := s.config.Query.Stats(c.UserContext())
	if err != nil {
		return s.handleError(c, err)
	}
	return c.JSON(out)
}
