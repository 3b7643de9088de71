package rag

import (
	"fmt"
	"strings"

	"augustine-rag/internal/models"
)

// ContextBlock joins passage texts with a blank line, or returns the
// not-found marker when there are none. Passages are never trimmed.
func ContextBlock(passages []models.Passage) string {
	if len(passages) == 0 {
		return models.NotFoundMarker
	}
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return strings.Join(parts, models.PassageSeparator)
}

// AssemblePrompt wraps the context block with the grounding directive and
// appends the question verbatim.
func AssemblePrompt(passages []models.Passage, question string) string {
	return fmt.Sprintf(models.RAGPromptTemplate, ContextBlock(passages), question)
}
