// ABOUTME: Operator API handlers for tenant inspection and session control
// ABOUTME: Also serves the one-time Zoho OAuth authorize/callback flow

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// TenantResponse is the JSON shape for GET /api/tenants. Credentials are
// redacted to presence flags; operators never need the raw secrets.
type TenantResponse struct {
	ID             string `json:"tenant_id"`
	Name           string `json:"name"`
	CRM            string `json:"crm"`
	PhoneNumberID  string `json:"phone_number_id,omitempty"`
	WelcomeMessage string `json:"welcome_message,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	HasCredentials bool   `json:"has_credentials"`
}

// ListTenantsResponse is the JSON response for GET /api/tenants.
type ListTenantsResponse struct {
	Tenants []TenantResponse `json:"tenants"`
}

// ResetSessionRequest is the JSON request body for POST /api/sessions/reset.
type ResetSessionRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
}

// TurnResponse is one transcript entry in GET /api/transcript.
type TurnResponse struct {
	ID        int64  `json:"id"`
	Direction string `json:"direction"`
	Backend   string `json:"backend,omitempty"`
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

// TranscriptResponse is the JSON response for GET /api/transcript.
type TranscriptResponse struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	Turns    []TurnResponse `json:"turns"`
}

// sendJSONError writes a JSON error response with the given status code.
func sendJSONError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// sendJSON writes a JSON response body.
func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// hasCredentials reports whether a tenant carries CRM credentials of any kind.
func hasCredentials(t *tenant.Tenant) bool {
	switch t.CRM {
	case tenant.KindZoho:
		return t.Zoho != nil
	case tenant.KindHubspot:
		return t.Hubspot != nil
	default:
		return false
	}
}

// handleListTenants handles GET /api/tenants.
func (g *Gateway) handleListTenants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	all := g.tenants.All()
	response := ListTenantsResponse{Tenants: make([]TenantResponse, 0, len(all))}
	for _, t := range all {
		response.Tenants = append(response.Tenants, TenantResponse{
			ID:             t.ID,
			Name:           t.Name,
			CRM:            string(t.CRM),
			PhoneNumberID:  t.Channel.PhoneNumberID,
			WelcomeMessage: t.Branding.WelcomeMessage,
			LogoURL:        t.Branding.LogoURL,
			HasCredentials: hasCredentials(t),
		})
	}

	sendJSON(w, response)
}

// handleReloadTenants handles POST /api/tenants/reload. A failed reload
// keeps the previous registry snapshot in place.
func (g *Gateway) handleReloadTenants(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := g.tenants.Reload(); err != nil {
		g.logger.Error("tenant reload failed", "error", err)
		sendJSONError(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	sendJSON(w, map[string]int{"tenants": len(g.tenants.All())})
}

// handleResetSession handles POST /api/sessions/reset.
func (g *Gateway) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ResetSessionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		sendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" || req.UserID == "" {
		sendJSONError(w, "tenant_id and user_id are required", http.StatusBadRequest)
		return
	}

	if _, err := g.tenants.Get(req.TenantID); err != nil {
		sendJSONError(w, "unknown tenant", http.StatusNotFound)
		return
	}

	if err := g.sessions.Reset(r.Context(), req.TenantID, req.UserID); err != nil {
		g.logger.Error("session reset failed", "tenant_id", req.TenantID, "user_id", req.UserID, "error", err)
		sendJSONError(w, "reset failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleTranscript handles GET /api/transcript?tenant_id=X&user_id=Y&limit=N.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	userID := r.URL.Query().Get("user_id")
	if tenantID == "" || userID == "" {
		sendJSONError(w, "tenant_id and user_id are required", http.StatusBadRequest)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	turns, err := g.store.ListTurns(r.Context(), tenantID, userID, limit)
	if err != nil {
		g.logger.Error("listing transcript failed", "tenant_id", tenantID, "user_id", userID, "error", err)
		sendJSONError(w, "listing transcript failed", http.StatusInternalServerError)
		return
	}

	response := TranscriptResponse{
		TenantID: tenantID,
		UserID:   userID,
		Turns:    make([]TurnResponse, 0, len(turns)),
	}
	for _, turn := range turns {
		response.Turns = append(response.Turns, TurnResponse{
			ID:        turn.ID,
			Direction: string(turn.Direction),
			Backend:   turn.Backend,
			Body:      turn.Body,
			MessageID: turn.MessageID,
			CreatedAt: turn.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	sendJSON(w, response)
}

// redirectURI builds the callback URL the CRM redirects back to. The
// advertised host defaults to the listen address; deployments behind a
// proxy set CONCIERGE_PUBLIC_URL instead.
func (g *Gateway) redirectURI(r *http.Request) string {
	base := g.config.Server.PublicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/oauth/zoho/callback"
}

// handleOAuthAuthorize handles GET /oauth/zoho/authorize?tenant_id=X. It
// returns the consent URL an operator opens in a browser.
func (g *Gateway) handleOAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		sendJSONError(w, "tenant_id is required", http.StatusBadRequest)
		return
	}

	t, err := g.tenants.Get(tenantID)
	if err != nil {
		sendJSONError(w, "unknown tenant", http.StatusNotFound)
		return
	}

	authorizeURL, err := g.creds.AuthorizeURL(t, g.redirectURI(r))
	if err != nil {
		sendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	sendJSON(w, map[string]string{"authorize_url": authorizeURL})
}

// handleOAuthCallback handles GET /oauth/zoho/callback?code=X&state=Y. The
// state parameter carries the tenant id set by AuthorizeURL. The response
// is plain text because it lands in an operator's browser.
func (g *Gateway) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	code := r.URL.Query().Get("code")
	tenantID := r.URL.Query().Get("state")
	if code == "" || tenantID == "" {
		sendJSONError(w, "code and state are required", http.StatusBadRequest)
		return
	}

	t, err := g.tenants.Get(tenantID)
	if err != nil {
		sendJSONError(w, "unknown tenant", http.StatusNotFound)
		return
	}

	if err := g.creds.ExchangeAuthorizationCode(r.Context(), t, code, g.redirectURI(r)); err != nil {
		g.logger.Error("authorization exchange failed", "tenant_id", tenantID, "error", err)
		sendJSONError(w, "authorization exchange failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Authorization complete. You can close this window.\n"))
}
