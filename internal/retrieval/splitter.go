// ABOUTME: Text chunking for ingest: fixed-size windows with overlap
// ABOUTME: Chunk boundaries back off to whitespace so words stay whole

package retrieval

import (
	"strings"
	"unicode"
)

// splitChunks cuts text into windows of at most size runes with the
// given overlap between consecutive windows. Where possible a window
// ends on whitespace instead of mid-word.
func splitChunks(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			// Back off to the last whitespace in the window, but never
			// further than half the window or chunks could degenerate.
			cut := end
			for cut > start+size/2 && !unicode.IsSpace(runes[cut-1]) {
				cut--
			}
			if cut > start+size/2 {
				end = cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
	}

	return chunks
}
