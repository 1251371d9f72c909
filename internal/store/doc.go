// Package store provides durable persistence for the gateway: one
// refresh-credential slot per tenant and an append-only conversation
// transcript, backed by SQLite.
package store
