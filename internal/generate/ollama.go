// ABOUTME: Ollama generation backend over the local server's /api/chat endpoint
// ABOUTME: History role "model" maps to "assistant" on the wire

package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Ollama generates completions through an Ollama-compatible HTTP server.
type Ollama struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
}

// NewOllama creates the Ollama backend.
func NewOllama(endpoint, model string, timeout time.Duration, logger *slog.Logger) *Ollama {
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	if model == "" {
		model = "phi3:mini"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Ollama{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "generate-ollama"),
	}
}

// Name implements Generator.
func (o *Ollama) Name() string { return "ollama" }

// ollamaChatMessage is one wire message for /api/chat.
type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ollamaChatRequest is the body of POST /api/chat.
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

// ollamaChatResponse is the non-streaming reply.
type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

// Generate implements Generator.
func (o *Ollama) Generate(ctx context.Context, req Request) (*Result, error) {
	messages := make([]ollamaChatMessage, 0, len(req.History)+1)
	for _, msg := range req.History {
		role := msg.Role
		if role == RoleModel {
			role = "assistant"
		}
		messages = append(messages, ollamaChatMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, ollamaChatMessage{Role: "user", Content: req.UserText})

	raw, err := json.Marshal(ollamaChatRequest{Model: o.model, Messages: messages, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(detail))
	}

	var body ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}

	if body.Message.Content == "" {
		return nil, errors.New("ollama returned no text")
	}

	o.logger.Debug("generation complete",
		"model", o.model,
		"duration", duration,
		"input_tokens", body.PromptEvalCount,
		"output_tokens", body.EvalCount,
	)

	return &Result{
		Text:         body.Message.Content,
		Duration:     duration,
		InputTokens:  body.PromptEvalCount,
		OutputTokens: body.EvalCount,
	}, nil
}
