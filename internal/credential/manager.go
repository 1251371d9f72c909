// ABOUTME: Per-tenant OAuth token lifecycle for CRM backends that require it
// ABOUTME: Caches access tokens, refreshes on expiry with single-flight per tenant

package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/voxleaf/concierge-gateway/internal/store"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// tokenMargin is subtracted from the upstream lifetime so a token is never
// handed out moments before it expires.
const tokenMargin = 60 * time.Second

// defaultTokenLifetime is assumed when the token endpoint omits expires_in.
const defaultTokenLifetime = 3600 * time.Second

// ErrNoCredential is returned when a tenant's CRM kind carries no bearer
// credential at all.
var ErrNoCredential = errors.New("tenant has no CRM credential")

// RefreshError reports a failed refresh exchange for one tenant.
type RefreshError struct {
	TenantID string
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refreshing access token for tenant %s: %v", e.TenantID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// cachedToken is an access token paired with its expiry. The pair is only
// ever replaced whole, under the manager's lock.
type cachedToken struct {
	token  string
	expiry time.Time
}

// Manager owns the OAuth token lifecycle for every tenant. HubSpot keys are
// static bearers returned as-is; Zoho tokens are cached and refreshed via
// the tenant's refresh token, one refresh in flight per tenant.
type Manager struct {
	slots  store.CredentialStore
	client *http.Client
	logger *slog.Logger

	group singleflight.Group

	mu    sync.Mutex
	cache map[string]cachedToken

	// now is stubbed in tests.
	now func() time.Time
}

// NewManager creates a credential manager backed by the given durable slots.
func NewManager(slots store.CredentialStore, client *http.Client, logger *slog.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		slots:  slots,
		client: client,
		logger: logger.With("component", "credential-manager"),
		cache:  make(map[string]cachedToken),
		now:    time.Now,
	}
}

// AccessToken returns a token valid for immediate use against the tenant's
// CRM backend.
func (m *Manager) AccessToken(ctx context.Context, t *tenant.Tenant) (string, error) {
	switch t.CRM {
	case tenant.KindHubspot:
		// Static bearer value, no refresh cycle.
		return t.Hubspot.APIKey, nil
	case tenant.KindZoho:
		return m.zohoAccessToken(ctx, t)
	default:
		return "", fmt.Errorf("tenant %s: %w", t.ID, ErrNoCredential)
	}
}

// zohoAccessToken serves from the cache when possible, otherwise refreshes.
// Concurrent callers observing an expired token share one upstream refresh.
func (m *Manager) zohoAccessToken(ctx context.Context, t *tenant.Tenant) (string, error) {
	if token, ok := m.cached(t.ID); ok {
		return token, nil
	}

	v, err, _ := m.group.Do(t.ID, func() (any, error) {
		// Re-check under the flight: a concurrent caller may have
		// refreshed while this one was queued.
		if token, ok := m.cached(t.ID); ok {
			return token, nil
		}
		return m.refresh(ctx, t)
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// cached returns the tenant's access token if present and unexpired.
func (m *Manager) cached(tenantID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cache[tenantID]
	if !ok || m.now().After(c.expiry) {
		return "", false
	}
	return c.token, true
}

// tokenResponse is the Zoho token endpoint's JSON body, shared by the
// refresh and authorization-code exchanges.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ErrorCode    string `json:"error"`
}

// refresh performs the refresh-token exchange and atomically replaces the
// cached token pair.
func (m *Manager) refresh(ctx context.Context, t *tenant.Tenant) (string, error) {
	refreshToken, fromSlot, err := m.resolveRefreshToken(ctx, t)
	if err != nil {
		return "", &RefreshError{TenantID: t.ID, Err: err}
	}

	form := url.Values{
		"refresh_token": {refreshToken},
		"client_id":     {t.Zoho.ClientID},
		"client_secret": {t.Zoho.ClientSecret},
		"grant_type":    {"refresh_token"},
	}

	body, err := m.postTokenEndpoint(ctx, t.Zoho.AccountsURL, form)
	if err != nil {
		return "", &RefreshError{TenantID: t.ID, Err: err}
	}

	if body.ErrorCode != "" {
		// An invalid refresh token will never work again; clear the
		// durable slot so operators re-authorize.
		if fromSlot && (body.ErrorCode == "invalid_grant" || body.ErrorCode == "invalid_code") {
			if delErr := m.slots.DeleteRefreshToken(ctx, t.ID); delErr != nil {
				m.logger.Error("failed to clear invalid refresh token slot", "tenant_id", t.ID, "error", delErr)
			} else {
				m.logger.Warn("cleared invalid refresh token slot", "tenant_id", t.ID)
			}
		}
		return "", &RefreshError{TenantID: t.ID, Err: fmt.Errorf("token endpoint error: %s", body.ErrorCode)}
	}

	if body.AccessToken == "" {
		return "", &RefreshError{TenantID: t.ID, Err: errors.New("token endpoint returned no access token")}
	}

	m.storeToken(t.ID, body.AccessToken, body.ExpiresIn)
	m.logger.Info("access token refreshed", "tenant_id", t.ID)

	return body.AccessToken, nil
}

// resolveRefreshToken prefers the durable slot written by the one-time
// authorization exchange, falling back to the tenant-file seed.
func (m *Manager) resolveRefreshToken(ctx context.Context, t *tenant.Tenant) (token string, fromSlot bool, err error) {
	stored, err := m.slots.GetRefreshToken(ctx, t.ID)
	if err == nil && stored != "" {
		return stored, true, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", false, fmt.Errorf("reading refresh token slot: %w", err)
	}

	if t.Zoho.RefreshToken != "" {
		return t.Zoho.RefreshToken, false, nil
	}

	return "", false, errors.New("no refresh token available; authorize the tenant first")
}

// postTokenEndpoint POSTs a form to {accountsURL}/oauth/v2/token and decodes
// the response. Non-2xx statuses with a JSON error body are surfaced through
// the body's error field so the caller can distinguish invalid grants.
func (m *Manager) postTokenEndpoint(ctx context.Context, accountsURL string, form url.Values) (*tokenResponse, error) {
	endpoint := strings.TrimSuffix(accountsURL, "/") + "/oauth/v2/token"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling token endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	var body tokenResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("token endpoint returned status %d with unparseable body", resp.StatusCode)
	}

	if resp.StatusCode >= 300 && body.ErrorCode == "" {
		return nil, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	return &body, nil
}

// storeToken replaces the cached token pair for a tenant. The margin keeps
// a reader from receiving a token that expires mid-request.
func (m *Manager) storeToken(tenantID, token string, expiresIn int) {
	lifetime := defaultTokenLifetime
	if expiresIn > 0 {
		lifetime = time.Duration(expiresIn) * time.Second
	}

	m.mu.Lock()
	m.cache[tenantID] = cachedToken{
		token:  token,
		expiry: m.now().Add(lifetime - tokenMargin),
	}
	m.mu.Unlock()
}

// Invalidate drops a tenant's cached token so the next request refreshes.
func (m *Manager) Invalidate(tenantID string) {
	m.mu.Lock()
	delete(m.cache, tenantID)
	m.mu.Unlock()
}

// AuthorizeURL builds the Zoho consent URL an operator visits to start the
// one-time authorization flow. State carries the tenant id so the callback
// can route the code to the right slot.
func (m *Manager) AuthorizeURL(t *tenant.Tenant, redirectURI string) (string, error) {
	if t.CRM != tenant.KindZoho {
		return "", fmt.Errorf("tenant %s: authorization flow only applies to zoho, got %s", t.ID, t.CRM)
	}

	q := url.Values{
		"scope":         {"ZohoCRM.modules.ALL"},
		"client_id":     {t.Zoho.ClientID},
		"response_type": {"code"},
		"access_type":   {"offline"},
		"redirect_uri":  {redirectURI},
		"state":         {t.ID},
	}

	return strings.TrimSuffix(t.Zoho.AccountsURL, "/") + "/oauth/v2/auth?" + q.Encode(), nil
}

// ExchangeAuthorizationCode trades an authorization code for tokens and
// persists the refresh token to the tenant's durable slot. This is the only
// writer of the slot; steady-state refreshes never touch it.
func (m *Manager) ExchangeAuthorizationCode(ctx context.Context, t *tenant.Tenant, code, redirectURI string) error {
	if t.CRM != tenant.KindZoho {
		return fmt.Errorf("tenant %s: authorization flow only applies to zoho, got %s", t.ID, t.CRM)
	}

	form := url.Values{
		"code":          {code},
		"client_id":     {t.Zoho.ClientID},
		"client_secret": {t.Zoho.ClientSecret},
		"redirect_uri":  {redirectURI},
		"grant_type":    {"authorization_code"},
	}

	body, err := m.postTokenEndpoint(ctx, t.Zoho.AccountsURL, form)
	if err != nil {
		return fmt.Errorf("exchanging authorization code for tenant %s: %w", t.ID, err)
	}
	if body.ErrorCode != "" {
		return fmt.Errorf("exchanging authorization code for tenant %s: token endpoint error: %s", t.ID, body.ErrorCode)
	}
	if body.RefreshToken == "" {
		return fmt.Errorf("exchanging authorization code for tenant %s: no refresh token in response", t.ID)
	}

	if err := m.slots.PutRefreshToken(ctx, t.ID, body.RefreshToken); err != nil {
		return fmt.Errorf("persisting refresh token for tenant %s: %w", t.ID, err)
	}

	// Prime the cache when the exchange also returned an access token.
	if body.AccessToken != "" {
		m.storeToken(t.ID, body.AccessToken, body.ExpiresIn)
	}

	m.logger.Info("authorization code exchanged", "tenant_id", t.ID)
	return nil
}
