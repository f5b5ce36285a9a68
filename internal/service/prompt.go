package service

import "strings"

// contextSeparator joins retrieved chunks inside the prompt.
const contextSeparator = "\n\n"

// BuildPrompt renders the grounded question sent to the answerer.
func BuildPrompt(contexts []string, query string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(contexts, contextSeparator))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String()
}
