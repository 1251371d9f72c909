// ABOUTME: Tests for lead input normalization
// ABOUTME: Name splitting, email case folding, phone digit extraction

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxleaf/concierge-gateway/internal/session"
)

func TestParseFullName(t *testing.T) {
	tests := []struct {
		in          string
		first, last string
	}{
		{"Jane", "Jane", ""},
		{"Jane Doe", "Jane", "Doe"},
		{"Jane Marie Doe", "Jane Marie", "Doe"},
		{"  Jane   Doe  ", "Jane", "Doe"},
		{"", "", ""},
		{"   ", "", ""},
	}
	for _, tt := range tests {
		first, last := parseFullName(tt.in)
		assert.Equal(t, tt.first, first, "input %q", tt.in)
		assert.Equal(t, tt.last, last, "input %q", tt.in)
	}
}

func TestNormalizeLead(t *testing.T) {
	lead := normalizeLead(&session.PendingLead{
		FullName: "Jane Marie Doe",
		Email:    "  JANE@Example.COM ",
		Phone:    "+1 (555) 123-4567",
	})

	assert.Equal(t, "Jane Marie", lead.FirstName)
	assert.Equal(t, "Doe", lead.LastName)
	assert.Equal(t, "jane@example.com", lead.Email)
	assert.Equal(t, "15551234567", lead.Phone)
}
