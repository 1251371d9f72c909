// ABOUTME: Tests for the Zoho connector against an httptest fake
// ABOUTME: Covers search hits/misses, create, status mapping, and token failures

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

	"github.com/voxleaf/concierge-gateway/internal/credential"
	"github.com/voxleaf/concierge-gateway/internal/store"
	"github.com/voxleaf/concierge-gateway/internal/tenant"
)

// stubSlots satisfies store.CredentialStore with a fixed token.
type stubSlots struct{ token string }

func (s *stubSlots) GetRefreshToken(context.Context, string) (string, error) {
	if s.token == "" {
		return "", store.ErrNotFound
	}
	return s.token, nil
}
func (s *stubSlots) PutRefreshToken(context.Context, string, string) error { return nil }
func (s *stubSlots) DeleteRefreshToken(context.Context, string) error      { return nil }

// newZohoFixture wires a fake that serves both the token endpoint and the
// CRM API from one server, the way a tenant's accounts_url/api_url pair
// behaves in tests.
func newZohoFixture(t *testing.T, crmHandler http.HandlerFunc) (*ZohoConnector, *httptest.Server) {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token":"test-token","expires_in":3600}`)
	})
	mux.HandleFunc("/", crmHandler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tn := &tenant.Tenant{
		ID:  "t1",
		CRM: tenant.KindZoho,
		Zoho: &tenant.ZohoCredential{
			ClientID:     "cid",
			ClientSecret: "sec",
			RefreshToken: "seed",
			AccountsURL:  srv.URL,
			APIURL:       srv.URL,
		},
	}

	creds := credential.NewManager(&stubSlots{}, srv.Client(), nil)
	return NewZohoConnector(tn, creds, srv.Client(), nil), srv
}

func TestZohoFindByPhone_Hit(t *testing.T) {
	conn, _ := newZohoFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v2/Leads/search", r.URL.Path)
		assert.Equal(t, "15550001234", r.URL.Query().Get("phone"))
		assert.Equal(t, "Zoho-oauthtoken test-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":[{"id":"4876","First_Name":"Jane","Last_Name":"Doe","Email":"jane@x.com","Phone":"15550001234"}]}`)
	})

	lead, err := conn.FindByPhone(context.Background(), "15550001234")
	require.NoError(t, err)
	assert.Equal(t, "4876", lead.ID)
	assert.Equal(t, "Jane Doe", lead.FullName())
}

func TestZohoFindByPhone_NoContentMeansNotFound(t *testing.T) {
	conn, _ := newZohoFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := conn.FindByPhone(context.Background(), "555")
	assert.ErrorIs(t, err, ErrLeadNotFound)
}

func TestZohoFindByPhone_EmptyDataMeansNotFound(t *testing.T) {
	conn, _ := newZohoFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})

	_, err := conn.FindByPhone(context.Background(), "555")
	assert.ErrorIs(t, err, ErrLeadNotFound)
}

func TestZohoCreate_Success(t *testing.T) {
	conn, _ := newZohoFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v2/Leads", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var payload struct {
			Data []map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Len(t, payload.Data, 1)
		assert.Equal(t, "Jane", payload.Data[0]["First_Name"])
		assert.Equal(t, "Doe", payload.Data[0]["Last_Name"])

		fmt.Fprint(w, `{"data":[{"status":"success","details":{"id":"9001"}}]}`)
	})

	created, err := conn.Create(context.Background(), &Lead{
		FirstName: "Jane", LastName: "Doe", Email: "jane@x.com", Phone: "15550001234",
	})
	require.NoError(t, err)
	assert.Equal(t, "9001", created.ID)
}

func TestZohoCreate_LastNameFallbackChain(t *testing.T) {
	var gotLastName string
	conn, _ := newZohoFixture(t, func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Data []map[string]string `json:"data"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		gotLastName = payload.Data[0]["Last_Name"]
		fmt.Fprint(w, `{"data":[{"status":"success","details":{"id":"1"}}]}`)
	})

	_, err := conn.Create(context.Background(), &Lead{FirstName: "Cher", Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "Cher", gotLastName, "missing last name falls back to first name")

	_, err = conn.Create(context.Background(), &Lead{Phone: "555"})
	require.NoError(t, err)
	assert.Equal(t, "Unknown", gotLastName, "missing both names falls back to Unknown")
}

func TestZohoCreate_RejectedPayloadIsInvalid(t *testing.T) {
	conn, _ := newZohoFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[{"status":"error","message":"INVALID_DATA"}]}`)
	})

	_, err := conn.Create(context.Background(), &Lead{FirstName: "Bad", Phone: "555"})
	var crmErr *Error
	require.ErrorAs(t, err, &crmErr)
	assert.Equal(t, KindInvalid, crmErr.Kind)
	assert.False(t, crmErr.Retryable())
}

func TestZohoStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, KindRateLimited},
		{"server error", http.StatusInternalServerError, KindUnavailable},
		{"auth failure", http.StatusUnauthorized, KindUnavailable},
		{"bad request", http.StatusBadRequest, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _ := newZohoFixture(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := conn.FindByPhone(context.Background(), "555")
			var crmErr *Error
			require.ErrorAs(t, err, &crmErr)
			assert.Equal(t, tt.want, crmErr.Kind)
		})
	}
}

func TestZohoFindByPhone_TokenRefreshFailureIsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v2/token", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tn := &tenant.Tenant{
		ID:  "t1",
		CRM: tenant.KindZoho,
		Zoho: &tenant.ZohoCredential{
			ClientID: "cid", ClientSecret: "sec", RefreshToken: "revoked",
			AccountsURL: srv.URL, APIURL: srv.URL,
		},
	}
	creds := credential.NewManager(&stubSlots{}, srv.Client(), nil)
	conn := NewZohoConnector(tn, creds, srv.Client(), nil)

	_, err := conn.FindByPhone(context.Background(), "555")
	var crmErr *Error
	require.ErrorAs(t, err, &crmErr)
	assert.Equal(t, KindUnavailable, crmErr.Kind)

	var refreshErr *credential.RefreshError
	assert.ErrorAs(t, err, &refreshErr, "the upstream cause stays reachable through Unwrap")
}
