// ABOUTME: Zoho CRM connector: lead search and creation over the v2 REST API
// ABOUTME: Bearer tokens come from the credential manager's refresh cycle

package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxleaf/concierge-gateway/internal/credential"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// ZohoConnector talks to one tenant's Zoho CRM.
type ZohoConnector struct {
	tenant *tenant.Tenant
	creds  *credential.Manager
	client *http.Client
	logger *slog.Logger
}

// NewZohoConnector creates a connector for the tenant's configured Zoho org.
func NewZohoConnector(t *tenant.Tenant, creds *credential.Manager, client *http.Client, logger *slog.Logger) *ZohoConnector {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ZohoConnector{
		tenant: t,
		creds:  creds,
		client: client,
		logger: logger.With("component", "crm-zoho", "tenant_id", t.ID),
	}
}

// zohoLeadRecord is one element of the search response's data array.
type zohoLeadRecord struct {
	ID        string `json:"id"`
	FirstName string `json:"First_Name"`
	LastName  string `json:"Last_Name"`
	Email     string `json:"Email"`
	Phone     string `json:"Phone"`
}

// zohoSearchResponse is the body of GET /crm/v2/Leads/search.
type zohoSearchResponse struct {
	Data []zohoLeadRecord `json:"data"`
}

// zohoCreateResponse is the body of POST /crm/v2/Leads.
type zohoCreateResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details struct {
			ID string `json:"id"`
		} `json:"details"`
	} `json:"data"`
}

// FindByPhone searches Zoho leads by phone number.
func (z *ZohoConnector) FindByPhone(ctx context.Context, phone string) (*Lead, error) {
	token, err := z.creds.AccessToken(ctx, z.tenant)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "find_by_phone", TenantID: z.tenant.ID, Err: err}
	}

	searchURL := fmt.Sprintf("%s/crm/v2/Leads/search?phone=%s",
		strings.TrimSuffix(z.tenant.Zoho.APIURL, "/"), url.QueryEscape(phone))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "find_by_phone", TenantID: z.tenant.ID, Err: err}
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)

	resp, err := z.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "find_by_phone", TenantID: z.tenant.ID, Err: err}
	}
	defer resp.Body.Close()

	// Zoho answers an empty search with 204.
	if resp.StatusCode == http.StatusNoContent {
		return nil, fmt.Errorf("phone %s: %w", phone, ErrLeadNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, z.statusError(resp, "find_by_phone")
	}

	var body zohoSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "find_by_phone", TenantID: z.tenant.ID, Err: fmt.Errorf("decoding search response: %w", err)}
	}

	if len(body.Data) == 0 {
		return nil, fmt.Errorf("phone %s: %w", phone, ErrLeadNotFound)
	}

	rec := body.Data[0]
	z.logger.Info("lead found", "lead_id", rec.ID)

	return &Lead{
		ID:        rec.ID,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Email:     rec.Email,
		Phone:     rec.Phone,
	}, nil
}

// Create adds a lead to Zoho. Last_Name is mandatory there, so it falls back
// to the first name and then to "Unknown".
func (z *ZohoConnector) Create(ctx context.Context, lead *Lead) (*Lead, error) {
	token, err := z.creds.AccessToken(ctx, z.tenant)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "create", TenantID: z.tenant.ID, Err: err}
	}

	lastName := lead.LastName
	if lastName == "" {
		lastName = lead.FirstName
	}
	if lastName == "" {
		lastName = "Unknown"
	}

	payload := map[string]any{
		"data": []map[string]any{{
			"First_Name": lead.FirstName,
			"Last_Name":  lastName,
			"Email":      lead.Email,
			"Phone":      lead.Phone,
		}},
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Op: "create", TenantID: z.tenant.ID, Err: err}
	}

	createURL := strings.TrimSuffix(z.tenant.Zoho.APIURL, "/") + "/crm/v2/Leads"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, createURL, bytes.NewReader(raw))
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "create", TenantID: z.tenant.ID, Err: err}
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := z.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "create", TenantID: z.tenant.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, z.statusError(resp, "create")
	}

	var body zohoCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &Error{Kind: KindUnavailable, Op: "create", TenantID: z.tenant.ID, Err: fmt.Errorf("decoding create response: %w", err)}
	}

	if len(body.Data) == 0 || body.Data[0].Status != "success" {
		msg := "unknown error"
		if len(body.Data) > 0 {
			msg = body.Data[0].Message
		}
		return nil, &Error{Kind: KindInvalid, Op: "create", TenantID: z.tenant.ID, Err: fmt.Errorf("zoho rejected lead: %s", msg)}
	}

	created := *lead
	created.ID = body.Data[0].Details.ID
	created.LastName = lastName
	z.logger.Info("lead created", "lead_id", created.ID)

	return &created, nil
}

// statusError drains the response body for logging and maps the status to
// the error taxonomy.
func (z *ZohoConnector) statusError(resp *http.Response, op string) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	z.logger.Warn("zoho request failed", "op", op, "status", resp.StatusCode, "body", string(raw))

	return &Error{
		Kind:     kindForStatus(resp.StatusCode),
		Op:       op,
		TenantID: z.tenant.ID,
		Err:      fmt.Errorf("zoho returned status %d", resp.StatusCode),
	}
}
