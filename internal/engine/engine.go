// ABOUTME: Conversation engine: per-turn state machine over a checked-out session
// ABOUTME: Orders commands, backend gate, lead capture, retrieval, and generation

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/voxleaf/concierge-gateway/internal/crm"
	"github.com/voxleaf/concierge-gateway/internal/dedupe"
	"github.com/voxleaf/concierge-gateway/internal/events"
	"github.com/voxleaf/concierge-gateway/internal/generate"
	"github.com/voxleaf/concierge-gateway/internal/retrieval"
	"github.com/voxleaf/concierge-gateway/internal/session"
	"github.com/voxleaf/concierge-gateway/internal/store"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// Fallback reply texts.
const (
	replyGenerationFailed = "I apologize, but there was an issue processing your request. Please try again or rephrase your question."
	replyLeadInvalid      = "I apologize, but there was an issue creating your lead in our system. Please try again or contact support."
	replyLeadRetry        = "I'm sorry, we couldn't save your details right now. Please send your email again in a moment."
)

// Outbound is one reply item, in delivery order. ImageURL set means an
// image message; otherwise Text is sent as a plain message.
type Outbound struct {
	Text     string
	ImageURL string
	Caption  string
}

func textOut(text string) Outbound { return Outbound{Text: text} }

// ConnectorProvider yields the CRM connector for a tenant. The crm
// package's Router implements it.
type ConnectorProvider interface {
	ForTenant(t *tenant.Tenant) crm.Connector
}

// Engine drives one conversation turn at a time. All session mutation
// happens between Checkout and release, so turns for the same user are
// serialized.
type Engine struct {
	sessions    session.Store
	crm         ConnectorProvider
	backends    *generate.Registry
	retrieval   *retrieval.Manager
	transcripts store.TranscriptStore
	events      events.Publisher
	replays     *dedupe.Cache
	logger      *slog.Logger
}

// New assembles the engine.
func New(
	sessions session.Store,
	router ConnectorProvider,
	backends *generate.Registry,
	retrievalMgr *retrieval.Manager,
	transcripts store.TranscriptStore,
	publisher events.Publisher,
	replays *dedupe.Cache,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}

	return &Engine{
		sessions:    sessions,
		crm:         router,
		backends:    backends,
		retrieval:   retrievalMgr,
		transcripts: transcripts,
		events:      publisher,
		replays:     replays,
		logger:      logger.With("component", "engine"),
	}
}

// Handle processes one inbound text message and returns the ordered
// outbound replies. Duplicate deliveries return no replies and no error.
func (e *Engine) Handle(ctx context.Context, t *tenant.Tenant, userID, messageID, text string) ([]Outbound, error) {
	if messageID != "" && e.replays != nil && e.replays.CheckAndMark(dedupe.Key(t.ID, userID, messageID)) {
		e.logger.Debug("duplicate message absorbed", "tenant", t.ID, "user", userID, "message_id", messageID)
		return nil, nil
	}

	sess, release, err := e.sessions.Checkout(ctx, t.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("checking out session: %w", err)
	}
	defer release()

	if messageID != "" && sess.LastMessageID == messageID {
		e.logger.Debug("duplicate message absorbed by session guard", "tenant", t.ID, "user", userID, "message_id", messageID)
		return nil, nil
	}
	sess.LastMessageID = messageID

	e.recordTurn(ctx, t.ID, userID, store.DirectionInbound, "", text, messageID)

	replies := e.dispatch(ctx, t, sess, strings.TrimSpace(text))

	if err := e.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	for _, r := range replies {
		if r.Text != "" {
			e.recordTurn(ctx, t.ID, userID, store.DirectionOutbound, sess.Backend, r.Text, "")
		}
	}
	return replies, nil
}

// dispatch walks the transition table for one message.
func (e *Engine) dispatch(ctx context.Context, t *tenant.Tenant, sess *session.Session, text string) []Outbound {
	if replies, handled := e.handleCommand(ctx, t, sess, text); handled {
		return replies
	}

	if sess.Backend == "" {
		return e.backendPrompt(t, sess)
	}

	if sess.AwaitingURL {
		return e.handleIngestURL(ctx, sess, text)
	}

	switch sess.LeadState {
	case session.LeadAwaitingName:
		return e.handleLeadName(sess, text)
	case session.LeadAwaitingEmail:
		return e.handleLeadEmail(ctx, t, sess, text)
	}

	return e.generateReply(ctx, t, sess, text)
}

// backendPrompt nudges the user to pick a backend, prefixed with the
// tenant's welcome message on the first exchange.
func (e *Engine) backendPrompt(t *tenant.Tenant, sess *session.Session) []Outbound {
	prompt := "Please choose an LLM first by typing " + setLLMUsage(e.backends) + "."
	if !sess.Welcomed && t.Branding.WelcomeMessage != "" {
		sess.Welcomed = true
		prompt = t.Branding.WelcomeMessage + "\n\n" + prompt
	}
	return []Outbound{textOut(prompt)}
}

// handleIngestURL treats the message as the URL to ingest for retrieval.
func (e *Engine) handleIngestURL(ctx context.Context, sess *session.Session, text string) []Outbound {
	url := strings.TrimSpace(text)

	handle, err := e.retrieval.Ingest(ctx, url)
	if err != nil {
		e.logger.Warn("ingest failed", "tenant", sess.TenantID, "user", sess.UserID, "url", url, "error", err)
		return []Outbound{textOut(fmt.Sprintf("Failed to load knowledge base from %s. Please check the URL and reply with it again.", url))}
	}

	if sess.RetrievalHandle != "" {
		if err := e.retrieval.Release(ctx, sess.RetrievalHandle); err != nil {
			e.logger.Warn("releasing prior retrieval handle", "handle", sess.RetrievalHandle, "error", err)
		}
	}
	sess.RetrievalHandle = handle
	sess.AwaitingURL = false

	return []Outbound{textOut(fmt.Sprintf("Knowledge base from %s loaded successfully! You can now ask questions related to it.", url))}
}

// handleLeadName stores the provided full name and asks for the email.
func (e *Engine) handleLeadName(sess *session.Session, text string) []Outbound {
	fullName := strings.TrimSpace(text)
	sess.PendingLead = &session.PendingLead{FullName: fullName, Phone: sess.UserID}
	sess.LeadState = session.LeadAwaitingEmail
	return []Outbound{textOut(fmt.Sprintf("Thanks, %s! Now, please provide your email address.", fullName))}
}

// handleLeadEmail completes lead capture: normalize, create in the CRM,
// and confirm. CRM failure policy: invalid input abandons the capture,
// transient failure keeps the state for a retry.
func (e *Engine) handleLeadEmail(ctx context.Context, t *tenant.Tenant, sess *session.Session, text string) []Outbound {
	if sess.PendingLead == nil {
		sess.PendingLead = &session.PendingLead{Phone: sess.UserID}
	}
	sess.PendingLead.Email = strings.TrimSpace(text)

	lead := normalizeLead(sess.PendingLead)
	created, err := e.crm.ForTenant(t).Create(ctx, lead)
	if err != nil {
		var crmErr *crm.Error
		if errors.As(err, &crmErr) && crmErr.Retryable() {
			e.logger.Warn("lead create failed, will retry", "tenant", t.ID, "user", sess.UserID, "error", err)
			return []Outbound{textOut(replyLeadRetry)}
		}
		e.logger.Error("lead create rejected", "tenant", t.ID, "user", sess.UserID, "error", err)
		sess.LeadState = session.LeadNotStarted
		sess.PendingLead = nil
		return []Outbound{textOut(replyLeadInvalid)}
	}

	sess.LeadState = session.LeadComplete
	sess.LeadID = created.ID
	sess.LeadName = created.FullName()
	sess.PendingLead = nil

	e.publishLeadEvent(ctx, events.SchemaLeadCreated, t, sess.UserID, created)

	displayName := created.FullName()
	prompt := confirmationPrompt(displayName, created.Email, created.Phone)
	reply, ok := e.generateInline(ctx, sess, prompt)
	if !ok {
		reply = fmt.Sprintf("Thank you, %s! Your details have been saved. How can I help you today?", created.FirstName)
		return []Outbound{textOut(reply)}
	}
	return e.withBranding(t, sess, []Outbound{textOut(reply)})
}

// generateReply is the normal-chat path: retrieval context, backend
// generation, history append, markdown normalization, branding asset.
func (e *Engine) generateReply(ctx context.Context, t *tenant.Tenant, sess *session.Session, text string) []Outbound {
	var snippets []retrieval.Snippet
	if sess.RetrievalEnabled && sess.RetrievalHandle != "" {
		var err error
		snippets, err = e.retrieval.Query(ctx, sess.RetrievalHandle, text, 0)
		if err != nil {
			e.logger.Warn("retrieval query failed", "tenant", t.ID, "user", sess.UserID, "error", err)
		}
	}

	gen, err := e.backends.Lookup(sess.Backend)
	if err != nil {
		// A backend that disappeared between turns behaves like an unset one.
		e.logger.Error("selected backend not registered", "backend", sess.Backend)
		sess.Backend = ""
		return e.backendPrompt(t, sess)
	}

	result, err := gen.Generate(ctx, generate.Request{
		History:  sessionHistory(sess),
		UserText: buildPrompt(text, snippets),
	})
	if err != nil {
		e.logger.Error("generation failed", "tenant", t.ID, "user", sess.UserID, "backend", sess.Backend, "error", err)
		return []Outbound{textOut(replyGenerationFailed)}
	}

	sess.AppendHistory(session.RoleUser, text)
	sess.AppendHistory(session.RoleModel, result.Text)

	return e.withBranding(t, sess, []Outbound{textOut(normalizeMarkdown(result.Text))})
}

// withBranding appends the tenant's branding asset to a successful
// generation's replies, at most once per session. Canned fallbacks and
// failed turns never pass through here.
func (e *Engine) withBranding(t *tenant.Tenant, sess *session.Session, replies []Outbound) []Outbound {
	if sess.BrandingSent || t.Branding.LogoURL == "" {
		return replies
	}
	sess.BrandingSent = true
	return append(replies, Outbound{
		ImageURL: t.Branding.LogoURL,
		Caption:  t.Name + " Logo",
	})
}

// generateInline runs a one-off prompt on the selected backend, appending
// the exchange to history on success. Used for greetings and lead
// confirmations; callers fall back to canned text when it fails.
func (e *Engine) generateInline(ctx context.Context, sess *session.Session, prompt string) (string, bool) {
	gen, err := e.backends.Lookup(sess.Backend)
	if err != nil {
		return "", false
	}

	result, err := gen.Generate(ctx, generate.Request{
		History:  sessionHistory(sess),
		UserText: prompt,
	})
	if err != nil {
		e.logger.Warn("inline generation failed", "backend", sess.Backend, "error", err)
		return "", false
	}

	sess.AppendHistory(session.RoleUser, prompt)
	sess.AppendHistory(session.RoleModel, result.Text)
	return normalizeMarkdown(result.Text), true
}

// sessionHistory maps stored history onto the generation request shape.
func sessionHistory(sess *session.Session) []generate.Message {
	if len(sess.History) == 0 {
		return nil
	}
	out := make([]generate.Message, len(sess.History))
	for i, m := range sess.History {
		out[i] = generate.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func (e *Engine) publishLeadEvent(ctx context.Context, schema string, t *tenant.Tenant, userID string, lead *crm.Lead) {
	err := e.events.Publish(ctx, schema, events.LeadData{
		TenantID: t.ID,
		UserID:   userID,
		Lead: events.LeadBrief{
			Phone:     lead.Phone,
			FirstName: lead.FirstName,
			LastName:  lead.LastName,
			Email:     lead.Email,
		},
		CRMKind: string(t.CRM),
		CRMID:   lead.ID,
	})
	if err != nil {
		e.logger.Warn("event publish failed", "schema", schema, "tenant", t.ID, "error", err)
	}
}

func (e *Engine) recordTurn(ctx context.Context, tenantID, userID string, dir store.Direction, backend, body, messageID string) {
	if e.transcripts == nil {
		return
	}
	err := e.transcripts.AppendTurn(ctx, &store.Turn{
		TenantID:  tenantID,
		UserID:    userID,
		Direction: dir,
		Backend:   backend,
		Body:      body,
		MessageID: messageID,
	})
	if err != nil {
		e.logger.Warn("transcript append failed", "tenant", tenantID, "user", userID, "error", err)
	}
}
