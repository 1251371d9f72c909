// ABOUTME: CRM capability router dispatching on the tenant's configured kind
// ABOUTME: Every variant presents the same Connector surface to the engine

package crm

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/voxleaf/concierge-gateway/internal/credential"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// Router builds the right connector for each tenant's configured CRM kind.
type Router struct {
	creds          *credential.Manager
	client         *http.Client
	hubspotBaseURL string
	logger         *slog.Logger
}

// NewRouter creates a CRM router. hubspotBaseURL overrides the production
// HubSpot endpoint, mainly for tests; empty keeps the default.
func NewRouter(creds *credential.Manager, timeout time.Duration, hubspotBaseURL string, logger *slog.Logger) *Router {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		creds:          creds,
		client:         &http.Client{Timeout: timeout},
		hubspotBaseURL: hubspotBaseURL,
		logger:         logger,
	}
}

// ForTenant returns the connector matching the tenant's crm kind.
// Unrecognized kinds fall back to the no-op variant; the registry validates
// kinds at load so this is a belt-and-braces path.
func (r *Router) ForTenant(t *tenant.Tenant) Connector {
	switch t.CRM {
	case tenant.KindZoho:
		return NewZohoConnector(t, r.creds, r.client, r.logger)
	case tenant.KindHubspot:
		return NewHubspotConnector(t, r.hubspotBaseURL, r.client, r.logger)
	default:
		return NewNoneConnector()
	}
}
