// ABOUTME: Package doc for the retrieval context manager
// ABOUTME: URL ingest pipeline plus per-turn vector search

// Package retrieval gives conversations grounding context from a web
// page the user supplies.
//
// Ingest fetches a URL, extracts its visible text, splits it into
// overlapping chunks, embeds each chunk, and stores the vectors in an
// index under a fresh handle. Query embeds the question and returns the
// most similar chunks for that handle. Release drops a handle's vectors
// when the session disables retrieval or resets.
package retrieval
