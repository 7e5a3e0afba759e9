package quiz

import (
	"fmt"
	"strings"

	"github.com/avercamp/lectern/internal/gateway"
)

const generateSystemPrompt = `You are an expert Quiz Master AI. You generate multiple-choice questions about the provided document content.

Rules:
- Every question must be answerable from the document content alone.
- Provide between 3 and 5 answer options.
- Exactly one option is correct; correct_index is its 0-based position.
- Do not repeat a question that already appears in the quiz history.

Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.`

const stricterInstruction = `Your previous response was not a valid question object. Respond again with ONLY a single JSON object with fields question_text (string), options (array of 3 to 5 strings), correct_index (0-based integer), explanation (string, optional). No surrounding text.`

const evaluateSystemPrompt = `You are an expert Quiz Master AI evaluating a student's answer to a multiple-choice question.

Rules:
- Decide whether the student's answer matches the correct option. Accept the option text, its number, or a clear paraphrase of it.
- Give concise, encouraging feedback that names the correct answer when the student was wrong.

Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.`

// questionSchema is the structured-output schema for question generation.
func questionSchema() *gateway.Schema {
	return &gateway.Schema{
		Type: "object",
		Properties: map[string]gateway.SchemaProperty{
			"question_text": {Type: "string", Description: "The text of the quiz question"},
			"options":       {Type: "array", Description: "3 to 5 multiple-choice options"},
			"correct_index": {Type: "integer", Description: "0-based index of the correct option"},
			"explanation":   {Type: "string", Description: "Brief explanation of the correct answer"},
		},
		Required: []string{"question_text", "options", "correct_index"},
	}
}

// verdictSchema is the structured-output schema for answer evaluation.
func verdictSchema() *gateway.Schema {
	return &gateway.Schema{
		Type: "object",
		Properties: map[string]gateway.SchemaProperty{
			"is_correct": {Type: "boolean", Description: "Whether the student's answer is correct"},
			"feedback":   {Type: "string", Description: "Concise feedback on the answer"},
		},
		Required: []string{"is_correct", "feedback"},
	}
}

// buildGeneratePrompt assembles the messages for generating question number
// questionNum (1-based). When stricter is true the retry instruction is
// appended after a malformed first attempt.
func buildGeneratePrompt(s *Session, questionNum int, stricter bool) []gateway.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document Content Snippet:\n---\n%s\n---\n\n", s.Snippet)
	fmt.Fprintf(&sb, "The quiz has a maximum of %d questions.\n\n", s.MaxQuestions)
	fmt.Fprintf(&sb, "Quiz History:\n%s\n\n", formatHistory(s.History, s.CurrentIndex))
	fmt.Fprintf(&sb, "Generate question number %d now.", questionNum)

	messages := []gateway.Message{
		{Role: "system", Content: generateSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
	if stricter {
		messages = append(messages, gateway.Message{Role: "system", Content: stricterInstruction})
	}
	return messages
}

// buildEvaluatePrompt assembles the messages for evaluating the pending
// answer against the question at rec.
func buildEvaluatePrompt(s *Session, rec QuestionRecord, answer string) []gateway.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question %d of %d: %s\n\n", s.CurrentIndex+1, s.MaxQuestions, rec.QuestionText)
	for i, opt := range rec.Options {
		fmt.Fprintf(&sb, "Option %d: %s\n", i+1, opt)
	}
	fmt.Fprintf(&sb, "\nCorrect Answer: %q (option %d)\n", rec.Options[rec.CorrectIndex], rec.CorrectIndex+1)
	if rec.Explanation != "" {
		fmt.Fprintf(&sb, "Explanation: %s\n", rec.Explanation)
	}
	fmt.Fprintf(&sb, "\nStudent's Answer: %q\n", answer)
	fmt.Fprintf(&sb, "\nScore before this answer: %d / %d answered.\n", s.Score, s.CurrentIndex)

	return []gateway.Message{
		{Role: "system", Content: evaluateSystemPrompt},
		{Role: "user", Content: sb.String()},
	}
}

// formatHistory renders answered questions for prompt context.
func formatHistory(history []QuestionRecord, answered int) string {
	if answered <= 0 || len(history) == 0 {
		return "No questions have been answered yet."
	}
	if answered > len(history) {
		answered = len(history)
	}

	var lines []string
	for i, rec := range history[:answered] {
		verdict := "n/a"
		if rec.ModelVerdict != nil {
			verdict = fmt.Sprintf("%t", *rec.ModelVerdict)
		}
		lines = append(lines, fmt.Sprintf("  Q%d: %s\n    User Answer: %s\n    Correct: %s",
			i+1, rec.QuestionText, rec.UserAnswer, verdict))
	}
	return strings.Join(lines, "\n")
}
