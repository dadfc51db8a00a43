// Package client is the HTTP client CLI commands use to talk to a running
// recall API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/papercomputeco/recall/api"
	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/ingest"
)

const defaultTimeout = 30 * time.Second

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("recall API request failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether a failed request may succeed if sent again.
// Connection failures, 5xx and 429 responses are retryable; other API
// errors mean the server rejected the request.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Client calls the recall REST API.
type Client struct {
	target     string
	base       *url.URL
	httpClient *http.Client
}

// New creates a client for the API server at apiTarget (scheme + host + port).
// A nil httpClient uses a client with a 30 second timeout.
func New(apiTarget string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API target URL %q: scheme and host are required", apiTarget)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{target: apiTarget, base: base, httpClient: httpClient}, nil
}

// Ping checks that the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil, nil)
}

// AddMessage feeds one conversation message to the server's buffer. It
// satisfies the transcript watcher's sink so `recall watch` can forward
// transcripts to a remote server.
func (c *Client) AddMessage(ctx context.Context, conversationID, sender, content string) (bool, error) {
	var out api.MessageResponse
	req := api.MessageRequest{ConversationID: conversationID, Sender: sender, Content: content}
	if err := c.do(ctx, http.MethodPost, "/v1/messages", nil, req, &out); err != nil {
		return false, err
	}
	return out.Flushed, nil
}

// Search runs a semantic search over fact mentions.
func (c *Client) Search(ctx context.Context, q string, limit int) (*query.SearchOutput, error) {
	params := limitParams(limit)
	params.Set("query", q)

	var out query.SearchOutput
	if err := c.do(ctx, http.MethodGet, "/v1/search", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EntityFacts lists facts touching an entity.
func (c *Client) EntityFacts(ctx context.Context, name string, limit int) (*query.FactsOutput, error) {
	var out query.FactsOutput
	path := "/v1/entities/" + url.PathEscape(name) + "/facts"
	if err := c.do(ctx, http.MethodGet, path, limitParams(limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RelationFacts lists facts with a relation label.
func (c *Client) RelationFacts(ctx context.Context, relation string, limit int) (*query.FactsOutput, error) {
	var out query.FactsOutput
	path := "/v1/relations/" + url.PathEscape(relation) + "/facts"
	if err := c.do(ctx, http.MethodGet, path, limitParams(limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentFacts lists the most recently stored facts.
func (c *Client) RecentFacts(ctx context.Context, limit int) (*query.FactsOutput, error) {
	var out query.FactsOutput
	if err := c.do(ctx, http.MethodGet, "/v1/facts/recent", limitParams(limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Similar lists entities semantically close to name.
func (c *Client) Similar(ctx context.Context, name string, limit int) (*query.SimilarOutput, error) {
	var out query.SimilarOutput
	path := "/v1/entities/" + url.PathEscape(name) + "/similar"
	if err := c.do(ctx, http.MethodGet, path, limitParams(limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mentions lists the stored mentions of an entity.
func (c *Client) Mentions(ctx context.Context, name string, limit int) (*query.MentionsOutput, error) {
	var out query.MentionsOutput
	path := "/v1/entities/" + url.PathEscape(name) + "/mentions"
	if err := c.do(ctx, http.MethodGet, path, limitParams(limit), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Merge folds the entity named from into the entity named into.
func (c *Client) Merge(ctx context.Context, from, into string) (*query.MergeOutput, error) {
	var out query.MergeOutput
	req := api.MergeRequest{MergeFrom: from, MergeInto: into}
	if err := c.do(ctx, http.MethodPost, "/v1/entities/merge", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddFact stores a fact directly, bypassing extraction.
func (c *Client) AddFact(ctx context.Context, fact ingest.ManualFact) (*query.AddOutput, error) {
	var out query.AddOutput
	if err := c.do(ctx, http.MethodPost, "/v1/facts", nil, fact, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns graph counts and ingestion state.
func (c *Client) Stats(ctx context.Context) (*query.StatsOutput, error) {
	var out query.StatsOutput
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func limitParams(limit int) url.Values {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return params
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, in, out any) error {
	// path arrives with its segments already escaped
	u := *c.base
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return fmt.Errorf("invalid request path %q: %w", path, err)
	}
	u.Path = unescaped
	u.RawPath = path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to recall API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(data)}
		var errResp api.ErrorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
