package fidelity

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/avercamp/lectern/internal/gateway"
)

const validationSystemPrompt = `You are a strict fidelity auditor. You compare a refined answer against the original spoken transcript it was produced from.

A refined answer is faithful when every fact, name, date, term, and detail it contains is traceable to the original transcript. Rewording, reordering, and grammar fixes are fine; new information is a violation. A corrected misconception is also a violation: if the transcript used an incorrect term and the refined answer replaced it with the correct one, report it.

Respond in exactly this format:

Fidelity Score: <number between 0.0 and 1.0>
Violations: <"None", or a numbered list with one violation per line>`

func buildValidationPrompt(original, refined string) []gateway.Message {
	user := fmt.Sprintf("Original Transcript: %s\n\nRefined Answer: %s\n\nTask: identify any information in the Refined Answer that was NOT present in the Original Transcript.",
		original, refined)
	return []gateway.Message{
		{Role: "system", Content: validationSystemPrompt},
		{Role: "user", Content: user},
	}
}

var (
	scorePattern      = regexp.MustCompile(`(?i)Fidelity Score:\s*([0-9]*\.?[0-9]+)`)
	violationsPattern = regexp.MustCompile(`(?is)Violations:\s*(.+?)(?:\n\n|$)`)
	// Go's regexp has no lookahead; anchoring per line matches the
	// one-violation-per-line format the system prompt mandates.
	numberedPattern = regexp.MustCompile(`(?m)^\d+\.\s*(.+)$`)
	bulletPattern   = regexp.MustCompile(`(?m)^[-•]\s*(.+)$`)
	nonePattern     = regexp.MustCompile(`(?i)^none\.?$`)
)

// extractScore parses the fidelity score from the auditor's response,
// clamped to [0, 1]. A missing or unparseable score is treated as perfect
// fidelity: the check is advisory and must not produce false alarms from
// formatting noise.
func extractScore(response string) float64 {
	match := scorePattern.FindStringSubmatch(response)
	if match == nil {
		return 1.0
	}
	score, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 1.0
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// extractViolations parses the violation list from the auditor's response.
func extractViolations(response string) []string {
	match := violationsPattern.FindStringSubmatch(response)
	if match == nil {
		return nil
	}

	text := strings.TrimSpace(match[1])
	if nonePattern.MatchString(text) {
		return nil
	}

	if items := numberedPattern.FindAllStringSubmatch(text, -1); items != nil {
		return collectMatches(items)
	}
	if items := bulletPattern.FindAllStringSubmatch(text, -1); items != nil {
		return collectMatches(items)
	}
	if text != "" {
		return []string{text}
	}
	return nil
}

func collectMatches(items [][]string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if v := strings.TrimSpace(item[1]); v != "" {
			out = append(out, v)
		}
	}
	return out
}
