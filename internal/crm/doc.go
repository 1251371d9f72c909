// Package crm routes lead lookup and creation to the CRM backend each
// tenant has configured. Zoho, HubSpot, and a no-op variant all implement
// the same Connector interface, so the conversation engine behaves
// identically regardless of the backend. Failures are normalized into a
// three-kind taxonomy (unavailable, rate-limited, invalid) that drives the
// engine's retry-or-skip decisions.
package crm
