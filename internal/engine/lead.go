// ABOUTME: Lead input normalization: full-name splitting, email and phone cleanup
// ABOUTME: Feeds the CRM create call during the lead-capture sub-flow

package engine

import (
	"regexp"
	"strings"

	"github.com/voxleaf/concierge-gateway/internal/crm"
	"github.com/voxleaf/concierge-gateway/internal/session"
)

var nonDigits = regexp.MustCompile(`\D`)

// parseFullName splits a free-form full name. A single word is all first
// name; with multiple words the last word becomes the last name and the
// rest the first name.
func parseFullName(fullName string) (first, last string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}

// normalizeLead turns the gathered answers into the record handed to the
// CRM: name split, email lowercased and trimmed, phone reduced to digits.
func normalizeLead(pending *session.PendingLead) *crm.Lead {
	first, last := parseFullName(pending.FullName)
	return &crm.Lead{
		FirstName: first,
		LastName:  last,
		Email:     strings.ToLower(strings.TrimSpace(pending.Email)),
		Phone:     nonDigits.ReplaceAllString(pending.Phone, ""),
	}
}
