// ABOUTME: Prompt assembly: retrieval context prefix and canned LLM prompts
// ABOUTME: The context format is what the generation backends were tuned against

package engine

import (
	"fmt"
	"strings"

	"github.com/voxleaf/concierge-gateway/internal/retrieval"
)

// buildPrompt prefixes the user's question with retrieval context when
// any snippets were found.
func buildPrompt(userText string, snippets []retrieval.Snippet) string {
	if len(snippets) == 0 {
		return userText
	}

	parts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		parts = append(parts, s.Content)
	}
	return fmt.Sprintf("Context: %s\n\nQuestion: %s", strings.Join(parts, "\n"), userText)
}

// greetingPrompt asks the backend for a personalized welcome for a lead
// the CRM already knows.
func greetingPrompt(leadName string) string {
	return fmt.Sprintf("The user's name is %s. Greet them warmly and ask how you can help them today. Keep it concise.", leadName)
}

// confirmationPrompt asks the backend to confirm a freshly created lead.
func confirmationPrompt(displayName, email, phone string) string {
	return fmt.Sprintf(
		"A new lead has been created for %s with email %s and phone %s in our CRM. "+
			"Respond with a polite confirmation message to the user, thanking them and asking how you can help them now. "+
			"Keep it concise and friendly.",
		displayName, email, phone,
	)
}
