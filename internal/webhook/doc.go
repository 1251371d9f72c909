// ABOUTME: Package doc for the channel webhook front-end
// ABOUTME: Inbound notification parsing plus the outbound message sender

// Package webhook is the gateway's edge toward the messaging channel:
// the verification handshake, inbound notification intake, and the
// sender that delivers replies with each tenant's channel credentials.
package webhook
