// ABOUTME: CRM capability interface and the Lead record it trades in
// ABOUTME: Normalizes backend failures into one typed error taxonomy

package crm

import (
	"context"
	"errors"
	"fmt"
)

// ErrLeadNotFound is returned by FindByPhone when no record matches.
var ErrLeadNotFound = errors.New("lead not found")

// Lead is the normalized CRM contact record, keyed by phone number.
type Lead struct {
	// ID is assigned by the CRM; empty until the record exists there.
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName returns the lead's display name, falling back through the
// name parts.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName != "" && l.LastName != "":
		return l.FirstName + " " + l.LastName
	case l.FirstName != "":
		return l.FirstName
	case l.LastName != "":
		return l.LastName
	default:
		return ""
	}
}

// ErrorKind classifies a CRM failure for the engine's recovery policy.
type ErrorKind string

const (
	// KindUnavailable covers network errors, auth failures, and 5xx
	// responses. Retryable on a later turn.
	KindUnavailable ErrorKind = "unavailable"
	// KindRateLimited covers 429 responses. Retryable later.
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalid covers rejected payloads. Permanent for this operation.
	KindInvalid ErrorKind = "invalid"
)

// Error is the normalized failure every connector returns.
type Error struct {
	Kind     ErrorKind
	Op       string
	TenantID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("crm %s for tenant %s: %s: %v", e.Op, e.TenantID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the engine may retry the operation on a later
// turn without user-visible state regression.
func (e *Error) Retryable() bool {
	return e.Kind == KindUnavailable || e.Kind == KindRateLimited
}

// Connector is the uniform capability set every CRM variant implements.
// Lookups are idempotent; Create returns the record including the
// CRM-assigned id.
type Connector interface {
	// FindByPhone looks up a lead by phone number. Returns ErrLeadNotFound
	// (possibly wrapped) when no record matches.
	FindByPhone(ctx context.Context, phone string) (*Lead, error)

	// Create adds a new lead and returns it with the CRM-assigned id.
	Create(ctx context.Context, lead *Lead) (*Lead, error)
}

// kindForStatus maps an HTTP status to the error taxonomy.
func kindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status >= 400 && status < 500:
		// 401/403 mean a broken credential rather than a broken payload.
		if status == 401 || status == 403 {
			return KindUnavailable
		}
		return KindInvalid
	default:
		return KindUnavailable
	}
}
