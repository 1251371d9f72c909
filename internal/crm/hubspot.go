// ABOUTME: HubSpot CRM connector: contact search and creation over the v3 REST API
// ABOUTME: Authenticates with the tenant's static bearer key, no refresh cycle

package crm

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

	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// DefaultHubspotBaseURL is the production contacts endpoint.
const DefaultHubspotBaseURL = "https://api.hubapi.com/crm/v3/objects/contacts"

// HubspotConnector talks to one tenant's HubSpot portal.
type HubspotConnector struct {
	tenant  *tenant.Tenant
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHubspotConnector creates a connector for the tenant's HubSpot portal.
// baseURL overrides the production endpoint, mainly for tests.
func NewHubspotConnector(t *tenant.Tenant, baseURL string, client *http.Client, logger *slog.Logger) *HubspotConnector {
	if baseURL == "" {
		baseURL = DefaultHubspotBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HubspotConnector{
		tenant:  t,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With("component", "crm-hubspot", "tenant_id", t.ID),
	}
}

// hubspotContact is one element of the search response.
type hubspotContact struct {
	ID         string `json:"id"`
	Properties struct {
		FirstName string `json:"firstname"`
		LastName  string `json:"lastname"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
	} `json:"properties"`
}

// hubspotSearchResponse is the body of POST {base}/search.
type hubspotSearchResponse struct {
	Results []hubspotContact `json:"results"`
}

// FindByPhone searches HubSpot contacts by exact phone match.
func (h *HubspotConnector) FindByPhone(ctx context.Context, phone string) (*Lead, error) {
	payload := map[string]any{
		"filterGroups": []map[string]any{{
			"filters": []map[string]any{{
				"propertyName": "phone",
				"operator":     "EQ",
				"value":        phone,
			}},
		}},
		"properties": []string{"firstname", "lastname", "email", "phone"},
		"limit":      1,
	}

	var body hubspotSearchResponse
	if err := h.post(ctx, h.baseURL+"/search", "find_by_phone", payload, &body); err != nil {
		return nil, err
	}

	if len(body.Results) == 0 {
		return nil, fmt.Errorf("phone %s: %w", phone, ErrLeadNotFound)
	}

	c := body.Results[0]
	h.logger.Info("contact found", "contact_id", c.ID)

	return &Lead{
		ID:        c.ID,
		FirstName: c.Properties.FirstName,
		LastName:  c.Properties.LastName,
		Email:     c.Properties.Email,
		Phone:     c.Properties.Phone,
	}, nil
}

// Create adds a contact to HubSpot. Empty property values are omitted since
// HubSpot rejects some blank fields.
func (h *HubspotConnector) Create(ctx context.Context, lead *Lead) (*Lead, error) {
	properties := map[string]string{}
	for key, value := range map[string]string{
		"firstname": lead.FirstName,
		"lastname":  lead.LastName,
		"email":     lead.Email,
		"phone":     lead.Phone,
	} {
		if value != "" {
			properties[key] = value
		}
	}

	var body hubspotContact
	if err := h.post(ctx, h.baseURL, "create", map[string]any{"properties": properties}, &body); err != nil {
		return nil, err
	}

	if body.ID == "" {
		return nil, &Error{Kind: KindInvalid, Op: "create", TenantID: h.tenant.ID, Err: fmt.Errorf("hubspot returned no contact id")}
	}

	created := *lead
	created.ID = body.ID
	h.logger.Info("contact created", "contact_id", created.ID)

	return &created, nil
}

// post sends a JSON body with the tenant's bearer key and decodes the reply.
func (h *HubspotConnector) post(ctx context.Context, url, op string, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: KindInvalid, Op: op, TenantID: h.tenant.ID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return &Error{Kind: KindUnavailable, Op: op, TenantID: h.tenant.ID, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+h.tenant.Hubspot.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return &Error{Kind: KindUnavailable, Op: op, TenantID: h.tenant.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		h.logger.Warn("hubspot request failed", "op", op, "status", resp.StatusCode, "body", string(detail))
		return &Error{
			Kind:     kindForStatus(resp.StatusCode),
			Op:       op,
			TenantID: h.tenant.ID,
			Err:      fmt.Errorf("hubspot returned status %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindUnavailable, Op: op, TenantID: h.tenant.ID, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}
