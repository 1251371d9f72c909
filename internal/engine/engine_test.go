// ABOUTME: Tests for the conversation engine state machine
// ABOUTME: Stub CRM, stub backends, real memory session store and retrieval manager

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxleaf/concierge-gateway/internal/config"
	"github.com/voxleaf/concierge-gateway/internal/crm"
	"github.com/voxleaf/concierge-gateway/internal/dedupe"
	"github.com/voxleaf/concierge-gateway/internal/events"
	"github.com/voxleaf/concierge-gateway/internal/generate"
	"github.com/voxleaf/concierge-gateway/internal/retrieval"
	"github.com/voxleaf/concierge-gateway/internal/session"
	"github.com/voxleaf/concierge-gateway/internal/store"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// stubConnector scripts CRM behavior per test.
type stubConnector struct {
	findLead   *crm.Lead
	findErr    error
	created    []*crm.Lead
	createErr  error
	createID   string
	findCalled int
}

func (s *stubConnector) FindByPhone(ctx context.Context, phone string) (*crm.Lead, error) {
	s.findCalled++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findLead == nil {
		return nil, crm.ErrLeadNotFound
	}
	return s.findLead, nil
}

func (s *stubConnector) Create(ctx context.Context, lead *crm.Lead) (*crm.Lead, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	created := *lead
	created.ID = s.createID
	if created.ID == "" {
		created.ID = "lead-1"
	}
	s.created = append(s.created, &created)
	return &created, nil
}

type stubProvider struct{ connector crm.Connector }

func (s *stubProvider) ForTenant(t *tenant.Tenant) crm.Connector { return s.connector }

// echoGenerator replies with a fixed text, or errors.
type echoGenerator struct {
	name    string
	reply   string
	err     error
	lastReq generate.Request
	calls   int
}

func (g *echoGenerator) Name() string { return g.name }

func (g *echoGenerator) Generate(ctx context.Context, req generate.Request) (*generate.Result, error) {
	g.calls++
	g.lastReq = req
	if g.err != nil {
		return nil, g.err
	}
	return &generate.Result{Text: g.reply, Duration: time.Millisecond}, nil
}

// capturePublisher records published events.
type capturePublisher struct {
	schemas []string
	data    []events.LeadData
}

func (c *capturePublisher) Publish(ctx context.Context, schema string, data any) error {
	c.schemas = append(c.schemas, schema)
	if lead, ok := data.(events.LeadData); ok {
		c.data = append(c.data, lead)
	}
	return nil
}

func (c *capturePublisher) Close() error { return nil }

// captureTranscript records appended turns.
type captureTranscript struct {
	turns []*store.Turn
}

func (c *captureTranscript) AppendTurn(ctx context.Context, turn *store.Turn) error {
	c.turns = append(c.turns, turn)
	return nil
}

func (c *captureTranscript) ListTurns(ctx context.Context, tenantID, userID string, limit int) ([]*store.Turn, error) {
	return c.turns, nil
}

// fixedEmbedder returns the same vector for any text.
type fixedEmbedder struct{}

func (fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type engineFixture struct {
	engine     *Engine
	connector  *stubConnector
	gemini     *echoGenerator
	ollama     *echoGenerator
	publisher  *capturePublisher
	transcript *captureTranscript
	tenant     *tenant.Tenant
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	connector := &stubConnector{}
	gemini := &echoGenerator{name: "gemini", reply: "gemini says hi"}
	ollama := &echoGenerator{name: "ollama", reply: "ollama says hi"}
	publisher := &capturePublisher{}
	transcript := &captureTranscript{}

	sessions := session.NewMemoryStore(nil)
	t.Cleanup(func() { sessions.Close() })

	replays := dedupe.New(time.Minute, 100)
	t.Cleanup(replays.Close)

	retrievalMgr := retrieval.NewManager(
		config.RetrievalConfig{ChunkSize: 100, ChunkOverlap: 10, TopK: 2},
		fixedEmbedder{}, retrieval.NewMemoryIndex(), nil,
	)
	t.Cleanup(func() { retrievalMgr.Close() })

	eng := New(
		sessions,
		&stubProvider{connector: connector},
		generate.NewRegistry(gemini, ollama),
		retrievalMgr,
		transcript,
		publisher,
		replays,
		nil,
	)

	return &engineFixture{
		engine:     eng,
		connector:  connector,
		gemini:     gemini,
		ollama:     ollama,
		publisher:  publisher,
		transcript: transcript,
		tenant: &tenant.Tenant{
			ID:   "t1",
			Name: "Acme",
			CRM:  tenant.KindZoho,
			Branding: tenant.Branding{
				WelcomeMessage: "Welcome to Acme!",
				LogoURL:        "https://cdn.acme.example/logo.png",
			},
		},
	}
}

func (f *engineFixture) handle(t *testing.T, messageID, text string) []Outbound {
	t.Helper()
	replies, err := f.engine.Handle(context.Background(), f.tenant, "15551234567", messageID, text)
	require.NoError(t, err)
	return replies
}

func TestHandle_FirstMessagePromptsForBackend(t *testing.T) {
	f := newFixture(t)

	replies := f.handle(t, "m1", "hello")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Welcome to Acme!")
	assert.Contains(t, replies[0].Text, "/set_llm gemini or /set_llm ollama")

	// Welcome prefix only on the very first exchange.
	replies = f.handle(t, "m2", "still here")
	require.Len(t, replies, 1)
	assert.NotContains(t, replies[0].Text, "Welcome to Acme!")
}

func TestHandle_DuplicateMessageIDIsSilent(t *testing.T) {
	f := newFixture(t)

	first := f.handle(t, "m1", "hello")
	require.NotEmpty(t, first)

	replayed := f.handle(t, "m1", "hello")
	assert.Empty(t, replayed, "re-delivered message produces no replies")
}

func TestHandle_SetLLMUnknownBackend(t *testing.T) {
	f := newFixture(t)

	replies := f.handle(t, "m1", "/set_llm gpt4")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Invalid LLM choice")
	assert.Zero(t, f.connector.findCalled, "no CRM call on invalid selection")
}

func TestHandle_SetLLMLeadNotFoundStartsCapture(t *testing.T) {
	f := newFixture(t)

	replies := f.handle(t, "m1", "/set_llm gemini")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "You've selected GEMINI.")
	assert.Contains(t, replies[0].Text, "full name")
	assert.Equal(t, 1, f.connector.findCalled)
}

func TestHandle_SetLLMLeadFoundGreetsPersonally(t *testing.T) {
	f := newFixture(t)
	f.connector.findLead = &crm.Lead{ID: "z9", FirstName: "Jane", LastName: "Doe", Phone: "15551234567"}
	f.gemini.reply = "Hello Jane, lovely to see you again!"

	replies := f.handle(t, "m1", "/set_llm gemini")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "You've selected GEMINI.")
	assert.Contains(t, replies[0].Text, "Hello Jane")
	assert.Equal(t, "https://cdn.acme.example/logo.png", replies[1].ImageURL, "branding rides with the greeting")

	require.Contains(t, f.publisher.schemas, events.SchemaLeadIdentified)
	require.Len(t, f.publisher.data, 1)
	assert.Equal(t, "z9", f.publisher.data[0].CRMID)

	// Next message goes straight to generation, no capture questions and
	// no second branding image.
	replies = f.handle(t, "m2", "what are your hours")
	require.Len(t, replies, 1)
	assert.NotContains(t, replies[0].Text, "full name")
}

func TestHandle_SetLLMCRMUnavailableDefersCapture(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable, Op: "find_by_phone", TenantID: "t1"}

	replies := f.handle(t, "m1", "/set_llm ollama")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "You've selected OLLAMA.")
	assert.NotContains(t, replies[0].Text, "full name", "capture deferred, not started")
}

func TestHandle_SetLLMRetriesLeadLookupAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable, Op: "find_by_phone", TenantID: "t1"}

	f.handle(t, "m1", "/set_llm gemini")
	require.Equal(t, 1, f.connector.findCalled)

	// Once the CRM recovers, the next backend selection runs the lookup again.
	f.connector.findErr = nil
	replies := f.handle(t, "m2", "/set_llm ollama")
	require.Equal(t, 2, f.connector.findCalled)
	require.NotEmpty(t, replies)
	assert.Contains(t, replies[0].Text, "full name", "capture starts once the lookup goes through")

	// Re-selecting mid-capture does not restart the lookup.
	f.handle(t, "m3", "/set_llm gemini")
	assert.Equal(t, 2, f.connector.findCalled)
}

func TestHandle_LeadCaptureFullFlow(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "m1", "/set_llm gemini")

	replies := f.handle(t, "m2", "Jane Marie Doe")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Thanks, Jane Marie Doe!")
	assert.Contains(t, replies[0].Text, "email")

	f.gemini.reply = "Thanks Jane, you're all set!"
	replies = f.handle(t, "m3", " JANE@Example.COM ")
	require.Len(t, replies, 2)
	assert.Contains(t, replies[0].Text, "Thanks Jane")
	assert.Equal(t, "https://cdn.acme.example/logo.png", replies[1].ImageURL, "branding rides with the confirmation")
	assert.Equal(t, "Acme Logo", replies[1].Caption)

	require.Len(t, f.connector.created, 1)
	created := f.connector.created[0]
	assert.Equal(t, "Jane Marie", created.FirstName, "all but the last word")
	assert.Equal(t, "Doe", created.LastName)
	assert.Equal(t, "jane@example.com", created.Email, "lowercased and trimmed")
	assert.Equal(t, "15551234567", created.Phone, "digits only")

	assert.Contains(t, f.publisher.schemas, events.SchemaLeadCreated)
}

func TestHandle_LeadCreateInvalidAbandonsCapture(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "m1", "/set_llm gemini")
	f.handle(t, "m2", "Jane Doe")

	f.connector.createErr = &crm.Error{Kind: crm.KindInvalid, Op: "create", TenantID: "t1"}
	replies := f.handle(t, "m3", "not-an-email")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "issue creating your lead")

	// Capture abandoned: the next message is normal chat, not an email retry.
	f.connector.createErr = nil
	replies = f.handle(t, "m4", "hello there")
	require.NotEmpty(t, replies)
	assert.Equal(t, "gemini says hi", replies[0].Text)
	assert.Empty(t, f.connector.created)
}

func TestHandle_LeadCreateUnavailableKeepsState(t *testing.T) {
	f := newFixture(t)
	f.handle(t, "m1", "/set_llm gemini")
	f.handle(t, "m2", "Jane Doe")

	f.connector.createErr = &crm.Error{Kind: crm.KindRateLimited, Op: "create", TenantID: "t1"}
	replies := f.handle(t, "m3", "jane@example.com")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "send your email again")

	// The retry with the same email succeeds once the CRM recovers.
	f.connector.createErr = nil
	f.handle(t, "m4", "jane@example.com")
	require.Len(t, f.connector.created, 1)
	assert.Equal(t, "jane@example.com", f.connector.created[0].Email)
}

func TestHandle_NormalGenerationAppendsHistory(t *testing.T) {
	f := newFixture(t)
	f.connector.findLead = &crm.Lead{FirstName: "Jane", Phone: "15551234567"}
	f.handle(t, "m1", "/set_llm gemini")

	f.gemini.reply = "We open at nine."
	replies := f.handle(t, "m2", "what are your hours")
	require.NotEmpty(t, replies)
	assert.Equal(t, "We open at nine.", replies[0].Text)

	// History from the previous exchange rides along on the next turn.
	f.handle(t, "m3", "and weekends?")
	history := f.gemini.lastReq.History
	require.NotEmpty(t, history)
	assert.Equal(t, "what are your hours", history[len(history)-2].Content)
	assert.Equal(t, "We open at nine.", history[len(history)-1].Content)
}

func TestHandle_GenerationFailureNotInHistory(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")

	f.gemini.err = context.DeadlineExceeded
	replies := f.handle(t, "m2", "hello?")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "issue processing your request")
	assert.Empty(t, replies[0].ImageURL, "no branding on a failed turn")

	// The failed exchange never reaches the backend as history.
	f.gemini.err = nil
	f.handle(t, "m3", "hello again")
	assert.Empty(t, f.gemini.lastReq.History)
}

func TestHandle_BrandingSentOncePerSession(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")

	replies := f.handle(t, "m2", "first question")
	require.Len(t, replies, 2, "text reply plus branding image")
	assert.Equal(t, "https://cdn.acme.example/logo.png", replies[1].ImageURL)
	assert.Equal(t, "Acme Logo", replies[1].Caption)

	replies = f.handle(t, "m3", "second question")
	require.Len(t, replies, 1, "branding delivered at most once")
}

func TestHandle_ResetClearsEverything(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")
	f.handle(t, "m2", "some chat")

	replies := f.handle(t, "m3", "/reset")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Chat reset.")

	// Backend gone: the next message hits the selection gate again.
	replies = f.handle(t, "m4", "hello")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "choose an LLM")
}

func TestHandle_RAGFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><p>Acme opening hours are nine to five.</p></body></html>`))
	}))
	defer srv.Close()

	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")

	replies := f.handle(t, "m2", "/enable_rag")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "URL")

	replies = f.handle(t, "m3", srv.URL)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "loaded successfully")

	f.handle(t, "m4", "when do you open")
	assert.True(t, strings.HasPrefix(f.gemini.lastReq.UserText, "Context: "), "prompt carries retrieval context")
	assert.Contains(t, f.gemini.lastReq.UserText, "Question: when do you open")

	replies = f.handle(t, "m5", "/disable_rag")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "disabled")

	f.handle(t, "m6", "when do you open again")
	assert.NotContains(t, f.gemini.lastReq.UserText, "Context: ")
}

func TestHandle_RAGIngestFailureKeepsAwaitingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")
	f.handle(t, "m2", "/enable_rag")

	replies := f.handle(t, "m3", srv.URL)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Failed to load knowledge base")

	// Still awaiting a URL: the next message is treated as one too.
	replies = f.handle(t, "m4", "not a url at all")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "Failed to load knowledge base")
}

func TestHandle_DisableRAGWhenNotEnabled(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")

	replies := f.handle(t, "m2", "/disable_rag")
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].Text, "not currently enabled")
}

func TestHandle_CommandsAreCaseSensitive(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")

	// "/RESET" is not a command; it goes to generation.
	replies := f.handle(t, "m2", "/RESET")
	require.NotEmpty(t, replies)
	assert.Equal(t, "gemini says hi", replies[0].Text)
}

func TestHandle_TranscriptRecordsBothDirections(t *testing.T) {
	f := newFixture(t)

	f.handle(t, "m1", "hello")
	require.GreaterOrEqual(t, len(f.transcript.turns), 2)
	assert.Equal(t, store.DirectionInbound, f.transcript.turns[0].Direction)
	assert.Equal(t, "hello", f.transcript.turns[0].Body)
	assert.Equal(t, store.DirectionOutbound, f.transcript.turns[1].Direction)
}

func TestHandle_MarkdownNormalizedInReplies(t *testing.T) {
	f := newFixture(t)
	f.connector.findErr = &crm.Error{Kind: crm.KindUnavailable}
	f.handle(t, "m1", "/set_llm gemini")

	f.gemini.reply = "**Hours**\n\nWe are open:\n- Monday\n- Tuesday"
	replies := f.handle(t, "m2", "hours?")
	require.NotEmpty(t, replies)
	assert.NotContains(t, replies[0].Text, "**")
	assert.Contains(t, replies[0].Text, "Hours")
	assert.Contains(t, replies[0].Text, "- Monday")
}
