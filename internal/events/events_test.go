// ABOUTME: Tests for event envelopes and the no-op publisher
// ABOUTME: Broker-backed publishing is exercised against a live RabbitMQ only

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	before := time.Now().UTC()
	env := NewEnvelope(SchemaLeadCreated, "corr-1", LeadData{
		TenantID: "t1",
		UserID:   "15551234567",
		Lead:     LeadBrief{Phone: "15551234567", FirstName: "Jane", LastName: "Doe", Email: "jane@example.com"},
		CRMKind:  "zoho",
		CRMID:    "42",
	})

	assert.NotEmpty(t, env.Meta.ID)
	assert.Equal(t, SchemaLeadCreated, env.Meta.Schema)
	assert.Equal(t, "corr-1", env.Meta.CorrelationID)
	assert.False(t, env.Meta.OccurredAt.Before(before))
}

func TestEnvelope_WireShape(t *testing.T) {
	env := NewEnvelope(SchemaLeadIdentified, "", LeadData{TenantID: "t1", CRMKind: "hubspot"})
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Contains(t, decoded, "meta")
	assert.Contains(t, decoded, "data")

	var meta map[string]any
	require.NoError(t, json.Unmarshal(decoded["meta"], &meta))
	assert.Equal(t, SchemaLeadIdentified, meta["schema"])
	assert.NotContains(t, meta, "correlation_id", "empty correlation id is omitted")
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), SchemaLeadCreated, LeadData{}))
	assert.NoError(t, p.Close())
}
