// ABOUTME: Tests for the HubSpot connector against an httptest fake
// ABOUTME: Covers search filters, create payload shaping, and status mapping

package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

func hubspotTenant() *tenant.Tenant {
	return &tenant.Tenant{
		ID:      "t2",
		CRM:     tenant.KindHubspot,
		Hubspot: &tenant.HubspotCredential{APIKey: "hs-key"},
	}
}

func TestHubspotFindByPhone_Hit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer hs-key", r.Header.Get("Authorization"))

		var payload struct {
			FilterGroups []struct {
				Filters []struct {
					PropertyName string `json:"propertyName"`
					Operator     string `json:"operator"`
					Value        string `json:"value"`
				} `json:"filters"`
			} `json:"filterGroups"`
			Limit int `json:"limit"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.FilterGroups, 1)
		assert.Equal(t, "phone", payload.FilterGroups[0].Filters[0].PropertyName)
		assert.Equal(t, "EQ", payload.FilterGroups[0].Filters[0].Operator)
		assert.Equal(t, "15550009999", payload.FilterGroups[0].Filters[0].Value)
		assert.Equal(t, 1, payload.Limit)

		fmt.Fprint(w, `{"results":[{"id":"42","properties":{"firstname":"Max","lastname":"Roe","email":"max@x.com","phone":"15550009999"}}]}`)
	}))
	defer srv.Close()

	conn := NewHubspotConnector(hubspotTenant(), srv.URL, srv.Client(), nil)
	lead, err := conn.FindByPhone(context.Background(), "15550009999")
	require.NoError(t, err)
	assert.Equal(t, "42", lead.ID)
	assert.Equal(t, "Max", lead.FirstName)
	assert.Equal(t, "Roe", lead.LastName)
}

func TestHubspotFindByPhone_EmptyResultsMeansNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer srv.Close()

	conn := NewHubspotConnector(hubspotTenant(), srv.URL, srv.Client(), nil)
	_, err := conn.FindByPhone(context.Background(), "555")
	assert.ErrorIs(t, err, ErrLeadNotFound)
}

func TestHubspotCreate_OmitsEmptyProperties(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)

		var payload struct {
			Properties map[string]string `json:"properties"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, map[string]string{
			"firstname": "Jane",
			"phone":     "555",
		}, payload.Properties, "empty email and lastname are omitted")

		fmt.Fprint(w, `{"id":"77","properties":{"firstname":"Jane","phone":"555"}}`)
	}))
	defer srv.Close()

	conn := NewHubspotConnector(hubspotTenant(), srv.URL, srv.Client(), nil)
	created, err := conn.Create(context.Background(), &Lead{FirstName: "Jane", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "77", created.ID)
}

func TestHubspotStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, KindRateLimited},
		{"server error", http.StatusBadGateway, KindUnavailable},
		{"forbidden", http.StatusForbidden, KindUnavailable},
		{"unprocessable", http.StatusUnprocessableEntity, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			conn := NewHubspotConnector(hubspotTenant(), srv.URL, srv.Client(), nil)
			_, err := conn.Create(context.Background(), &Lead{FirstName: "X", Phone: "555"})
			var crmErr *Error
			require.ErrorAs(t, err, &crmErr)
			assert.Equal(t, tt.want, crmErr.Kind)
		})
	}
}
