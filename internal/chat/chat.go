// Package chat implements the grounded question-answering workflow: a single
// model call over the document narrative and the recent conversation turns.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/avercamp/lectern/internal/gateway"
)

const (
	answerTimeout     = 45 * time.Second
	answerTemperature = 0.7
)

// Turn is one prior conversation turn supplied for context.
type Turn struct {
	Role    string // "user" or "agent"
	Content string
}

// Workflow answers a user query grounded in a document narrative.
type Workflow struct {
	chatter gateway.Chatter
	timeout time.Duration
}

// New creates a chat workflow. If timeout <= 0 the default is used.
func New(chatter gateway.Chatter, timeout time.Duration) *Workflow {
	if timeout <= 0 {
		timeout = answerTimeout
	}
	return &Workflow{chatter: chatter, timeout: timeout}
}

// Answer runs the single answering step. The narrative may be empty, in
// which case the model is told no document is available. Errors are returned
// as-is for the supervisor to classify; the supervisor owns the user-facing
// fallback message.
func (w *Workflow) Answer(ctx context.Context, narrative string, history []Turn, query string) (string, error) {
	if query == "" {
		return "", fmt.Errorf("empty query")
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	messages := buildPrompt(narrative, history, query)
	text, err := w.chatter.Chat(ctx, messages, answerTemperature, nil)
	if err != nil {
		return "", fmt.Errorf("answering query: %w", err)
	}
	return text, nil
}
