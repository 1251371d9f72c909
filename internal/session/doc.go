// Package session holds per-(tenant, user) conversation state behind a
// Store interface with per-key mutual exclusion: at most one state
// transition runs per session at a time. The memory driver is the default;
// the redis driver adds best-effort persistence with TTL and
// version-checked writes.
package session
