// ABOUTME: Slash-command recognition and handling, ahead of all other state
// ABOUTME: Commands are exact, case-sensitive, whole-message prefixes

package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voxleaf/concierge-gateway/internal/crm"
	"github.com/voxleaf/concierge-gateway/internal/events"
	"github.com/voxleaf/concierge-gateway/internal/generate"
	"github.com/voxleaf/concierge-gateway/internal/session"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

const setLLMPrefix = "/set_llm "

// handleCommand recognizes and runs slash commands. Returns handled=false
// for anything that is not a command, leaving the message to the state
// machine proper.
func (e *Engine) handleCommand(ctx context.Context, t *tenant.Tenant, sess *session.Session, text string) ([]Outbound, bool) {
	switch {
	case text == "/reset":
		return e.handleReset(ctx, sess), true
	case strings.HasPrefix(text, setLLMPrefix):
		return e.handleSetLLM(ctx, t, sess, strings.TrimSpace(strings.TrimPrefix(text, setLLMPrefix))), true
	case text == "/enable_rag":
		return e.handleEnableRAG(sess), true
	case text == "/disable_rag":
		return e.handleDisableRAG(ctx, sess), true
	}
	return nil, false
}

func (e *Engine) handleReset(ctx context.Context, sess *session.Session) []Outbound {
	if sess.RetrievalHandle != "" {
		if err := e.retrieval.Release(ctx, sess.RetrievalHandle); err != nil {
			e.logger.Warn("releasing retrieval handle on reset", "handle", sess.RetrievalHandle, "error", err)
		}
	}
	sess.ClearState()
	return []Outbound{textOut("Chat reset. Please use /set_llm to choose an LLM (e.g., " + setLLMUsage(e.backends) + ").")}
}

func (e *Engine) handleSetLLM(ctx context.Context, t *tenant.Tenant, sess *session.Session, name string) []Outbound {
	if _, err := e.backends.Lookup(name); err != nil {
		return []Outbound{textOut("Invalid LLM choice. Please use " + setLLMUsage(e.backends) + ".")}
	}

	sess.Backend = name
	confirmation := fmt.Sprintf("You've selected %s.", strings.ToUpper(name))

	// Lead resolution runs on any selection while capture has not started,
	// so a lookup deferred by a transient CRM failure is retried here.
	if sess.LeadState == session.LeadNotStarted {
		return e.resolveLead(ctx, t, sess, confirmation)
	}
	return []Outbound{textOut(confirmation)}
}

// resolveLead looks the user up in the tenant's CRM right after backend
// selection. A hit completes lead capture with a personalized greeting; a
// miss starts the capture flow; a transient CRM failure defers to a later
// turn without blocking the reply.
func (e *Engine) resolveLead(ctx context.Context, t *tenant.Tenant, sess *session.Session, confirmation string) []Outbound {
	phone := nonDigits.ReplaceAllString(sess.UserID, "")
	lead, err := e.crm.ForTenant(t).FindByPhone(ctx, phone)

	switch {
	case err == nil:
		sess.LeadState = session.LeadComplete
		sess.LeadID = lead.ID
		sess.LeadName = lead.FullName()
		if sess.LeadName == "" {
			sess.LeadName = "valued customer"
		}
		e.publishLeadEvent(ctx, events.SchemaLeadIdentified, t, sess.UserID, lead)

		greeting, ok := e.generateInline(ctx, sess, greetingPrompt(sess.LeadName))
		if !ok {
			greeting = fmt.Sprintf("Welcome back, %s! How can I assist you today?", sess.LeadName)
			return []Outbound{textOut(confirmation + " " + greeting)}
		}
		return e.withBranding(t, sess, []Outbound{textOut(confirmation + " " + greeting)})

	case errors.Is(err, crm.ErrLeadNotFound):
		sess.LeadState = session.LeadAwaitingName
		return []Outbound{textOut(confirmation + " Hello! Before we proceed, could you please tell me your full name?")}

	default:
		// Transient CRM trouble: stay not_started so a later turn retries.
		e.logger.Warn("lead lookup failed", "tenant", t.ID, "user", sess.UserID, "error", err)
		return []Outbound{textOut(confirmation + " How can I help you today?")}
	}
}

func (e *Engine) handleEnableRAG(sess *session.Session) []Outbound {
	if sess.RetrievalEnabled && sess.RetrievalHandle != "" {
		return []Outbound{textOut("Web RAG is already enabled. Use /disable_rag to change it.")}
	}
	sess.RetrievalEnabled = true
	sess.AwaitingURL = true
	return []Outbound{textOut("Please reply to this message with the URL you want to use for Web RAG. For example: https://www.example.com")}
}

func (e *Engine) handleDisableRAG(ctx context.Context, sess *session.Session) []Outbound {
	if !sess.RetrievalEnabled {
		return []Outbound{textOut("Web RAG is not currently enabled.")}
	}

	if sess.RetrievalHandle != "" {
		if err := e.retrieval.Release(ctx, sess.RetrievalHandle); err != nil {
			e.logger.Warn("releasing retrieval handle", "handle", sess.RetrievalHandle, "error", err)
		}
	}
	sess.RetrievalEnabled = false
	sess.AwaitingURL = false
	sess.RetrievalHandle = ""
	return []Outbound{textOut("Web RAG has been disabled for this session.")}
}

// setLLMUsage renders the command usage over the registered backends,
// e.g. "/set_llm gemini or /set_llm ollama".
func setLLMUsage(backends *generate.Registry) string {
	names := backends.Names()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = "/set_llm " + n
	}
	return strings.Join(parts, " or ")
}
