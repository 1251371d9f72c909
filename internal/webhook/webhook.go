// ABOUTME: Channel webhook handler: GET verification handshake and POST message intake
// ABOUTME: Resolves the tenant from the payload's phone number id and runs the engine

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/voxleaf/concierge-gateway/internal/engine"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

const maxBodyBytes = 1 << 20

// Registry is the tenant-resolution surface the handler needs.
type Registry interface {
	Get(id string) (*tenant.Tenant, error)
	ByPhoneNumberID(phoneNumberID string) (*tenant.Tenant, error)
}

// Engine processes one inbound message into ordered replies.
type Engine interface {
	Handle(ctx context.Context, t *tenant.Tenant, userID, messageID, text string) ([]engine.Outbound, error)
}

// Deliverer sends the engine's replies back over the channel.
type Deliverer interface {
	Deliver(ctx context.Context, t *tenant.Tenant, to string, items []engine.Outbound)
}

// Handler serves the channel webhook.
type Handler struct {
	registry      Registry
	engine        Engine
	sender        Deliverer
	verifyToken   string
	appSecret     string
	defaultTenant string
	logger        *slog.Logger
}

// NewHandler creates the webhook handler. appSecret empty disables
// signature validation; defaultTenant empty drops unclaimed messages.
func NewHandler(registry Registry, eng Engine, sender Deliverer, verifyToken, appSecret, defaultTenant string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:      registry,
		engine:        eng,
		sender:        sender,
		verifyToken:   verifyToken,
		appSecret:     appSecret,
		defaultTenant: defaultTenant,
		logger:        logger.With("component", "webhook"),
	}
}

// ServeHTTP implements http.Handler for the /webhook route.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleInbound(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification answers the channel's subscription handshake.
func (h *Handler) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "" || token == "" {
		http.Error(w, "missing hub parameters", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || token != h.verifyToken {
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verified")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// Inbound payload shapes, trimmed to the fields the gateway reads.
type inboundPayload struct {
	Entry []struct {
		Changes []struct {
			Value inboundValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Messages []inboundMessage `json:"messages"`
}

type inboundMessage struct {
	From string `json:"from"`
	ID   string `json:"id"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// handleInbound walks the notification payload and runs the engine for
// every text message. The channel always gets a 200 once the payload
// parses; per-message failures become user-facing replies or log lines.
func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	if h.appSecret != "" && !h.validSignature(body, r.Header.Get("X-Hub-Signature-256")) {
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	var payload inboundPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			h.processValue(r.Context(), change.Value)
		}
	}

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (h *Handler) processValue(ctx context.Context, value inboundValue) {
	for _, msg := range value.Messages {
		if msg.Type != "text" {
			continue
		}

		t, err := h.resolveTenant(value.Metadata.PhoneNumberID)
		if err != nil {
			h.logger.Warn("no tenant for inbound message",
				"phone_number_id", value.Metadata.PhoneNumberID, "error", err)
			continue
		}

		replies, err := h.engine.Handle(ctx, t, msg.From, msg.ID, msg.Text.Body)
		if err != nil {
			h.logger.Error("engine failed", "tenant", t.ID, "user", msg.From, "error", err)
			continue
		}
		if len(replies) > 0 {
			h.sender.Deliver(ctx, t, msg.From, replies)
		}
	}
}

// resolveTenant maps the payload's phone number id onto a tenant,
// falling back to the configured default when no tenant claims it.
func (h *Handler) resolveTenant(phoneNumberID string) (*tenant.Tenant, error) {
	t, err := h.registry.ByPhoneNumberID(phoneNumberID)
	if err == nil {
		return t, nil
	}
	if h.defaultTenant != "" {
		return h.registry.Get(h.defaultTenant)
	}
	return nil, errors.New("no tenant claims this phone number id and no default is configured")
}

func (h *Handler) validSignature(body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.appSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header[len(prefix):]))
}
