// ABOUTME: Tests for markdown normalization of generated replies
// ABOUTME: Formatting marks are stripped; prose and bullets survive

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "just a sentence", "just a sentence"},
		{"bold stripped", "this is **important** news", "this is important news"},
		{"emphasis stripped", "so *very* nice", "so very nice"},
		{"heading flattened", "# Hours\n\nNine to five.", "Hours\n\nNine to five."},
		{"code span content kept", "run `go env` first", "run go env first"},
		{"list bullets kept", "- alpha\n- beta", "- alpha\n- beta"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeMarkdown(tt.in))
		})
	}
}

func TestNormalizeMarkdown_FencedCode(t *testing.T) {
	out := normalizeMarkdown("before\n\n```\nfmt.Println(1)\n```\n\nafter")
	assert.Contains(t, out, "fmt.Println(1)")
	assert.NotContains(t, out, "```")
}
