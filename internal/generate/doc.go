// ABOUTME: Package doc for the text-generation backends
// ABOUTME: Gemini and Ollama implementations behind the Generator interface

// Package generate produces LLM completions for conversation turns.
//
// Each backend implements Generator and registers under the name users
// select with /set_llm. The Gemini backend talks to the Gemini API via
// the official client; the Ollama backend talks to any Ollama-compatible
// HTTP server. Both return usage metadata alongside the generated text.
package generate
