// ABOUTME: Lead event types and the Publisher interface with a no-op default
// ABOUTME: Events travel in a meta+data envelope; routing key is the schema name

package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event schemas. The schema name doubles as the routing key.
const (
	SchemaLeadCreated    = "lead.created.v1"
	SchemaLeadIdentified = "lead.identified.v1"
)

// Meta identifies one published event.
type Meta struct {
	ID            string    `json:"id"`
	OccurredAt    time.Time `json:"occurred_at"`
	Schema        string    `json:"schema"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope wraps event data with its meta block.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// LeadData is the payload of lead.created.v1 and lead.identified.v1.
type LeadData struct {
	TenantID string    `json:"tenant_id"`
	UserID   string    `json:"user_id"`
	Lead     LeadBrief `json:"lead"`
	CRMKind  string    `json:"crm_kind"`
	CRMID    string    `json:"crm_id,omitempty"`
}

// LeadBrief is the lead identity carried on lead events.
type LeadBrief struct {
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email,omitempty"`
}

// Publisher emits domain events. Publish failures must never surface to
// the end user; callers log and move on.
type Publisher interface {
	Publish(ctx context.Context, schema string, data any) error
	Close() error
}

// NewEnvelope stamps the data with a fresh meta block.
func NewEnvelope(schema, correlationID string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			OccurredAt:    time.Now().UTC(),
			Schema:        schema,
			CorrelationID: correlationID,
		},
		Data: data,
	}
}

// NoopPublisher drops every event. Used when events are disabled.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(ctx context.Context, schema string, data any) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }
