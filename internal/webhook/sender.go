// ABOUTME: Outbound channel sender for text and image messages
// ABOUTME: Uses each tenant's own channel access token and phone number id

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxleaf/concierge-gateway/internal/engine"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// Sender delivers messages through the channel's HTTP API.
type Sender struct {
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

// NewSender creates a sender rooted at the channel API base URL.
func NewSender(apiBase string, timeout time.Duration, logger *slog.Logger) *Sender {
	if apiBase == "" {
		apiBase = "https://graph.facebook.com/v19.0"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		apiBase: strings.TrimSuffix(apiBase, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "sender"),
	}
}

// Deliver sends the reply items in order. A failed item is logged and
// skipped so one bad asset does not stall the rest of the sequence.
func (s *Sender) Deliver(ctx context.Context, t *tenant.Tenant, to string, items []engine.Outbound) {
	for _, item := range items {
		var err error
		if item.ImageURL != "" {
			err = s.SendImage(ctx, t, to, item.ImageURL, item.Caption)
		} else {
			err = s.SendText(ctx, t, to, item.Text)
		}
		if err != nil {
			s.logger.Error("send failed", "tenant", t.ID, "to", to, "error", err)
		}
	}
}

// SendText sends a plain text message.
func (s *Sender) SendText(ctx context.Context, t *tenant.Tenant, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return s.post(ctx, t, payload)
}

// SendImage sends an image message by URL with an optional caption.
func (s *Sender) SendImage(ctx context.Context, t *tenant.Tenant, to, link, caption string) error {
	image := map[string]string{"link": link}
	if caption != "" {
		image["caption"] = caption
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "image",
		"image":             image,
	}
	return s.post(ctx, t, payload)
}

func (s *Sender) post(ctx context.Context, t *tenant.Tenant, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", s.apiBase, t.Channel.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.Channel.AccessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("channel send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("channel returned status %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}
