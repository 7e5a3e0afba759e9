package chat

import (
	"fmt"
	"strings"

	"github.com/avercamp/lectern/internal/gateway"
)

const maxHistoryTurns = 5

const systemPromptTemplate = `You are a helpful AI Tutor. Your purpose is to answer a user's questions based strictly and exclusively on the content of the provided Document Narrative. Be concise and helpful. If the answer is not in the document, you MUST state that the information is not available in the provided text. Do not use outside knowledge. Format your response using simple Markdown.

[Document Narrative — your ONLY source of truth]
%s

[Recent Conversation]
%s`

// buildPrompt assembles the gateway messages for a grounded answer.
func buildPrompt(narrative string, history []Turn, query string) []gateway.Message {
	if narrative == "" {
		narrative = "No document has been provided for this conversation."
	}

	system := fmt.Sprintf(systemPromptTemplate, narrative, distillHistory(history))

	return []gateway.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}
}

// distillHistory renders the last few turns as a compact transcript.
func distillHistory(history []Turn) string {
	if len(history) == 0 {
		return "No previous conversation history."
	}

	recent := history
	if len(recent) > maxHistoryTurns {
		recent = recent[len(recent)-maxHistoryTurns:]
	}

	lines := make([]string, 0, len(recent))
	for _, t := range recent {
		switch t.Role {
		case "user":
			lines = append(lines, "User: "+t.Content)
		case "agent":
			lines = append(lines, "Assistant: "+t.Content)
		}
	}
	if len(lines) == 0 {
		return "No recent messages to display."
	}
	return strings.Join(lines, "\n")
}
