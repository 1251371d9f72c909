// ABOUTME: No-op CRM connector for tenants with no CRM configured
// ABOUTME: Find never matches and Create succeeds without an external call

package crm

import (
	"context"
	"fmt"
)

// NoneConnector is the variant dispatched for tenants whose crm kind is
// "none". Lookups never match, so lead capture still runs its full cycle,
// and creation succeeds by echoing the input so the engine's flow is
// identical to the real backends.
type NoneConnector struct{}

// NewNoneConnector creates the no-op connector.
func NewNoneConnector() *NoneConnector {
	return &NoneConnector{}
}

// FindByPhone always reports not-found.
func (n *NoneConnector) FindByPhone(_ context.Context, phone string) (*Lead, error) {
	return nil, fmt.Errorf("phone %s: %w", phone, ErrLeadNotFound)
}

// Create succeeds without side effects, echoing the input.
func (n *NoneConnector) Create(_ context.Context, lead *Lead) (*Lead, error) {
	created := *lead
	return &created, nil
}
