package supervisor

import (
	"regexp"
	"strings"
)

// Intent routing uses a small fixed set of trigger phrases. Anything that
// matches none of them falls through to the chat workflow: routing errs
// toward the least disruptive path, and ambiguity is never an error.

var quizStartPhrases = []string{"start quiz", "quiz me on", "begin quiz"}

var cancelPhrases = map[string]struct{}{
	"cancel quiz": {},
	"stop quiz":   {},
	"exit quiz":   {},
	"end quiz":    {},
	"cancel":      {},
}

var documentRefPattern = regexp.MustCompile(`(?i)\bdoc(?:ument)?(?:_id)?[:\s=]\s*([a-zA-Z0-9_-]+)`)

// isQuizStart checks for quiz start phrases, including the /start_quiz
// command sent by clients.
func isQuizStart(query string) bool {
	cleaned := strings.ToLower(strings.TrimSpace(query))
	cleaned = strings.ReplaceAll(cleaned, "'", "")
	cleaned = strings.ReplaceAll(cleaned, `"`, "")

	if cleaned == "/start_quiz" {
		return true
	}
	for _, phrase := range quizStartPhrases {
		if strings.Contains(cleaned, phrase) {
			return true
		}
	}
	return false
}

// isCancel checks whether the query is an explicit cancellation command.
func isCancel(query string) bool {
	_, ok := cancelPhrases[strings.ToLower(strings.TrimSpace(query))]
	return ok
}

// extractDocumentRef pulls a document reference out of the query
// (e.g. "quiz me on doc:123-abc"). Returns "" when none is present.
func extractDocumentRef(query string) string {
	match := documentRefPattern.FindStringSubmatch(query)
	if match == nil {
		return ""
	}
	return match[1]
}
