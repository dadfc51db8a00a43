package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/papercomputeco/recall/pkg/logger"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGateway   = "gateway"

	callTimeout = 60 * time.Second
	maxTokens   = 2000
	temperature = 0.1
)

// LLMCallFunc sends a prompt to a language model and returns its raw text.
type LLMCallFunc func(ctx context.Context, prompt string) (string, error)

// LLMCallerConfig holds configuration for creating an LLM caller.
type LLMCallerConfig struct {
	Provider string // "openai", "anthropic", "ollama" or "gateway"
	Model    string
	APIKey   string // explicit API key (highest priority)
	BaseURL  string
	Logger   *slog.Logger
}

// HasLLMCredentials reports whether a key can be resolved for the provider
// without building a caller.
func HasLLMCredentials(cfg LLMCallerConfig) bool {
	provider := strings.ToLower(cfg.Provider)
	if provider == ProviderOllama || cfg.APIKey != "" {
		return true
	}
	return resolveAPIKeyFromEnv(provider) != ""
}

// NewLLMCaller creates an LLMCallFunc based on the provided configuration.
// Resolution order for API key:
//  1. Explicit APIKey in config
//  2. Environment variables (OPENAI_API_KEY / ANTHROPIC_API_KEY / RECALL_GATEWAY_TOKEN)
//  3. Fall back to Ollama at localhost:11434
func NewLLMCaller(cfg LLMCallerConfig) (LLMCallFunc, error) {
	log := logger.OrNop(cfg.Logger)
	provider := strings.ToLower(cfg.Provider)
	model := cfg.Model

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = resolveAPIKeyFromEnv(provider)
	}

	if apiKey == "" && provider != ProviderOllama {
		log.Warn("no API key found, falling back to ollama", "provider", provider)
		provider = ProviderOllama
		model = ""
	}

	switch provider {
	case ProviderOpenAI, "":
		if model == "" {
			model = "gpt-4o-mini"
		}
		return newOpenAICaller(apiKey, model, baseURLOr(cfg.BaseURL, "https://api.openai.com")), nil

	case ProviderAnthropic:
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		return newAnthropicCaller(apiKey, model, baseURLOr(cfg.BaseURL, "https://api.anthropic.com")), nil

	case ProviderOllama:
		if model == "" {
			model = "llama3.2"
		}
		return newOllamaCaller(model, baseURLOr(cfg.BaseURL, "http://localhost:11434")), nil

	case ProviderGateway:
		if cfg.BaseURL == "" {
			return nil, errors.New("gateway provider requires a target URL")
		}
		return newGatewayCaller(apiKey, model, cfg.BaseURL), nil

	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func baseURLOr(baseURL, fallback string) string {
	if baseURL == "" {
		return fallback
	}
	return strings.TrimRight(baseURL, "/")
}

func resolveAPIKeyFromEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI, "":
		return os.Getenv("OPENAI_API_KEY")
	case ProviderGateway:
		return os.Getenv("RECALL_GATEWAY_TOKEN")
	default:
		return ""
	}
}

// post sends a JSON body and returns the response body for a 200 reply.
func post(ctx context.Context, name, target string, payload any, headers map[string]string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error (status %d): %s", name, resp.StatusCode, string(body))
	}
	return body, nil
}

// --- OpenAI caller ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// The json_object response format is not requested: it forbids the bare
// array the extraction prompt asks for.
func newOpenAICaller(apiKey, model, baseURL string) LLMCallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		body, err := post(ctx, "openai", baseURL+"/v1/chat/completions", openAIRequest{
			Model:       model,
			Messages:    []openAIMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, map[string]string{"Authorization": "Bearer " + apiKey})
		if err != nil {
			return "", err
		}

		var result openAIResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if result.Error != nil {
			return "", fmt.Errorf("openai error: %s", result.Error.Message)
		}
		if len(result.Choices) == 0 {
			return "", errors.New("openai returned no choices")
		}

		return result.Choices[0].Message.Content, nil
	}
}

// --- Anthropic caller ---

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newAnthropicCaller(apiKey, model, baseURL string) LLMCallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		body, err := post(ctx, "anthropic", baseURL+"/v1/messages", anthropicRequest{
			Model:       model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Messages: []anthropicMessage{
				{Role: "user", Content: prompt + "\n\nReturn ONLY valid JSON, no markdown or extra text."},
			},
		}, map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		})
		if err != nil {
			return "", err
		}

		var result anthropicResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if result.Error != nil {
			return "", fmt.Errorf("anthropic error: %s", result.Error.Message)
		}
		if len(result.Content) == 0 {
			return "", errors.New("anthropic returned no content")
		}

		return result.Content[0].Text, nil
	}
}

// --- Ollama caller ---

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func newOllamaCaller(model, baseURL string) LLMCallFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		body, err := post(ctx, "ollama", baseURL+"/api/chat", ollamaChatRequest{
			Model:    model,
			Messages: []ollamaChatMessage{{Role: "user", Content: prompt}},
			Stream:   false,
			Options:  ollamaOptions{Temperature: temperature},
		}, nil)
		if err != nil {
			return "", err
		}

		var result ollamaChatResponse
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("unmarshal response: %w", err)
		}
		if result.Error != "" {
			return "", fmt.Errorf("ollama error: %s", result.Error)
		}

		return result.Message.Content, nil
	}
}

// --- Gateway caller ---

// gatewayRequest is the body of a hosted llm-task tool invocation. The
// gateway answers with one of several envelopes, so the caller returns the
// whole body for DecodeResponse.
type gatewayRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

func newGatewayCaller(token, model, baseURL string) LLMCallFunc {
	target := strings.TrimRight(baseURL, "/") + "/api/tools/llm-task"
	return func(ctx context.Context, prompt string) (string, error) {
		headers := map[string]string{}
		if token != "" {
			headers["Authorization"] = "Bearer " + token
			headers["X-Auth-Token"] = token
		}

		body, err := post(ctx, "gateway", target, gatewayRequest{
			Prompt:      prompt,
			Model:       model,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, headers)
		if err != nil {
			return "", err
		}
		return string(body), nil
	}
}
