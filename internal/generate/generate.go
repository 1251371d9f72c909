// ABOUTME: Pluggable text-generation capability behind one Generator interface
// ABOUTME: A registry maps user-facing backend names to implementations

package generate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownBackend is returned by Lookup for a name no backend claims.
var ErrUnknownBackend = errors.New("unknown generation backend")

// History roles on the Request. "model" maps to whatever the concrete
// backend calls its assistant role.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one prior conversation turn.
type Message struct {
	Role    string
	Content string
}

// Request carries everything a backend needs for one completion.
type Request struct {
	// History holds prior turns, oldest first, excluding UserText.
	History []Message
	// UserText is the current turn, already augmented with retrieval
	// context when the engine has any.
	UserText string
}

// Result is a completed generation with usage metadata.
type Result struct {
	Text         string
	Duration     time.Duration
	InputTokens  int
	OutputTokens int
}

// Generator produces one completion per call.
type Generator interface {
	// Name is the user-facing backend name used with /set_llm.
	Name() string

	Generate(ctx context.Context, req Request) (*Result, error)
}

// Registry maps backend names to generators.
type Registry struct {
	backends map[string]Generator
}

// NewRegistry creates a registry over the given backends.
func NewRegistry(backends ...Generator) *Registry {
	r := &Registry{backends: make(map[string]Generator, len(backends))}
	for _, g := range backends {
		r.backends[g.Name()] = g
	}
	return r
}

// Lookup resolves a backend by name.
func (r *Registry) Lookup(name string) (Generator, error) {
	g, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownBackend)
	}
	return g, nil
}

// Names returns the registered backend names, sorted for stable prompts.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
