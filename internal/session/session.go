// ABOUTME: Conversation session state for one (tenant, user) pair
// ABOUTME: Backend selection, lead-capture sub-state, retrieval flags, history

package session

import "time"

// LeadState is the lead-capture sub-state. It only advances forward, or
// resets to LeadNotStarted on explicit reset.
type LeadState string

const (
	LeadNotStarted    LeadState = "not_started"
	LeadAwaitingName  LeadState = "awaiting_name"
	LeadAwaitingEmail LeadState = "awaiting_email"
	LeadComplete      LeadState = "complete"
)

// History roles.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// PendingLead accumulates the answers gathered during lead capture before
// the CRM create call.
type PendingLead struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone"`
}

// Session is the per-(tenant, user) conversation state. It is created
// lazily on first message and mutated exclusively by the conversation
// engine while the store's per-key lock is held.
type Session struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`

	// Backend is the selected generation backend name; empty means the
	// user has not chosen yet and the engine prompts instead of generating.
	Backend string `json:"backend,omitempty"`

	LeadState   LeadState    `json:"lead_state"`
	PendingLead *PendingLead `json:"pending_lead,omitempty"`
	// LeadID and LeadName hold the resolved CRM identity once lead
	// capture completes, used for personalized greetings.
	LeadID   string `json:"lead_id,omitempty"`
	LeadName string `json:"lead_name,omitempty"`

	RetrievalEnabled bool   `json:"retrieval_enabled"`
	AwaitingURL      bool   `json:"awaiting_url"`
	RetrievalHandle  string `json:"retrieval_handle,omitempty"`

	// BrandingSent tracks the at-most-once branding asset delivery.
	BrandingSent bool `json:"branding_sent"`
	// Welcomed tracks whether the tenant's welcome message has prefixed
	// a reply yet.
	Welcomed bool `json:"welcomed"`

	// LastMessageID guards against webhook re-delivery of the same
	// inbound message.
	LastMessageID string `json:"last_message_id,omitempty"`

	History []Message `json:"history,omitempty"`

	// Version is the optimistic-write counter enforced by the redis
	// driver; the memory driver carries it along untouched semantics.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// newSession returns a fresh session for the pair.
func newSession(tenantID, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		TenantID:  tenantID,
		UserID:    userID,
		LeadState: LeadNotStarted,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the session's store key.
func (s *Session) Key() string {
	return Key(s.TenantID, s.UserID)
}

// Key builds the store key for a (tenant, user) pair.
func Key(tenantID, userID string) string {
	return tenantID + ":" + userID
}

// AppendHistory adds one turn to the conversation history.
func (s *Session) AppendHistory(role, content string) {
	s.History = append(s.History, Message{Role: role, Content: content})
}

// ClearState resets every conversational sub-state while keeping the
// session identity. Used by the /reset command.
func (s *Session) ClearState() {
	s.Backend = ""
	s.LeadState = LeadNotStarted
	s.PendingLead = nil
	s.LeadID = ""
	s.LeadName = ""
	s.RetrievalEnabled = false
	s.AwaitingURL = false
	s.RetrievalHandle = ""
	s.BrandingSent = false
	s.Welcomed = false
	s.History = nil
}

// clone returns a deep copy so a checked-out session never aliases the
// stored one.
func (s *Session) clone() *Session {
	out := *s
	if s.PendingLead != nil {
		lead := *s.PendingLead
		out.PendingLead = &lead
	}
	if s.History != nil {
		out.History = make([]Message, len(s.History))
		copy(out.History, s.History)
	}
	return &out
}
