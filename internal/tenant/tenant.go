// ABOUTME: Tenant configuration records: CRM kind, credentials, branding, channel identity
// ABOUTME: Mirrors the JSON shape persisted by the admin tool

package tenant

import "fmt"

// Kind identifies which CRM backend a tenant has configured.
type Kind string

const (
	KindZoho    Kind = "zoho"
	KindHubspot Kind = "hubspot"
	KindNone    Kind = "none"
)

// Default Zoho endpoints used when a tenant record omits them.
const (
	DefaultZohoAccountsURL = "https://accounts.zoho.in"
	DefaultZohoAPIURL      = "https://www.zohoapis.in"
)

// Tenant is one business unit's configuration. Records are immutable once
// loaded; a reload replaces the whole registry snapshot.
type Tenant struct {
	ID       string             `json:"tenant_id"`
	Name     string             `json:"name"`
	CRM      Kind               `json:"crm"`
	Branding Branding           `json:"branding"`
	Zoho     *ZohoCredential    `json:"zoho,omitempty"`
	Hubspot  *HubspotCredential `json:"hubspot,omitempty"`
	Channel  Channel            `json:"channel"`
}

// Branding holds the per-tenant presentation bits sent to end users.
type Branding struct {
	WelcomeMessage string `json:"welcome_message"`
	LogoURL        string `json:"logo_url"`
}

// ZohoCredential holds a tenant's Zoho OAuth client and endpoints.
// RefreshToken is the seed from the tenant file; a token persisted by the
// one-time authorization exchange takes precedence over it.
type ZohoCredential struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	AccountsURL  string `json:"accounts_url"`
	APIURL       string `json:"api_url"`
}

// HubspotCredential holds a tenant's static HubSpot bearer key.
type HubspotCredential struct {
	APIKey string `json:"api_key"`
}

// Channel ties a tenant to its messaging channel identity: the phone number
// id that appears in webhook metadata and the token used to send replies.
type Channel struct {
	PhoneNumberID string `json:"phone_number_id"`
	AccessToken   string `json:"access_token"`
}

// validate checks a single tenant record and fills endpoint defaults.
func (t *Tenant) validate() error {
	if t.ID == "" {
		return fmt.Errorf("tenant_id is required")
	}

	if t.CRM == "" {
		t.CRM = KindNone
	}

	switch t.CRM {
	case KindZoho:
		if t.Zoho == nil {
			return fmt.Errorf("tenant %s: crm is zoho but zoho credentials are missing", t.ID)
		}
		if t.Zoho.ClientID == "" || t.Zoho.ClientSecret == "" {
			return fmt.Errorf("tenant %s: zoho client_id and client_secret are required", t.ID)
		}
		if t.Zoho.AccountsURL == "" {
			t.Zoho.AccountsURL = DefaultZohoAccountsURL
		}
		if t.Zoho.APIURL == "" {
			t.Zoho.APIURL = DefaultZohoAPIURL
		}
	case KindHubspot:
		if t.Hubspot == nil || t.Hubspot.APIKey == "" {
			return fmt.Errorf("tenant %s: crm is hubspot but hubspot api_key is missing", t.ID)
		}
	case KindNone:
	default:
		return fmt.Errorf("tenant %s: unknown crm kind %q", t.ID, t.CRM)
	}

	return nil
}
