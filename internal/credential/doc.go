// Package credential manages per-tenant OAuth access tokens for CRM
// backends. Zoho tokens are refreshed on expiry with a 60 second safety
// margin and a single refresh in flight per tenant; HubSpot keys are static
// bearer values passed through unchanged. The one-time authorization-code
// exchange persists each tenant's refresh token to its own durable slot.
package credential
