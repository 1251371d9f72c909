// ABOUTME: Package doc for the conversation engine
// ABOUTME: One inbound message in, ordered outbound replies out

// Package engine turns inbound channel messages into replies.
//
// Each turn checks out the (tenant, user) session, walks the transition
// table — replay guard, slash commands, backend-selection gate, lead
// capture, retrieval URL intake, then normal generation — and saves the
// session before the replies go out. Lead lookups and creations go
// through the tenant's CRM connector; completed captures emit lead
// events; every handled turn lands in the transcript store.
package engine
