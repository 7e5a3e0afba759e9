package supervisor

import "testing"

func TestIsQuizStart(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"start quiz", true},
		{"Start Quiz", true},
		{"  please start quiz now  ", true},
		{"quiz me on doc:bio-101", true},
		{"begin quiz", true},
		{"/start_quiz", true},
		{`"start quiz"`, true},
		{"'start quiz'", true},
		{"what is photosynthesis", false},
		{"I took a quiz yesterday", false},
		{"start", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isQuizStart(tt.query); got != tt.want {
			t.Errorf("isQuizStart(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

// TestIsCancel checks exact-match semantics: a sentence that merely contains
// a cancel phrase is not a cancellation.
func TestIsCancel(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"cancel quiz", true},
		{"CANCEL QUIZ", true},
		{"  stop quiz  ", true},
		{"exit quiz", true},
		{"end quiz", true},
		{"cancel", true},
		{"please cancel the quiz", false},
		{"I want to cancel my subscription", false},
		{"quiz", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isCancel(tt.query); got != tt.want {
			t.Errorf("isCancel(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestExtractDocumentRef(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"quiz me on doc:bio-101", "bio-101"},
		{"doc: abc123", "abc123"},
		{"document: notes_v2", "notes_v2"},
		{"use document_id=9f8e7d", "9f8e7d"},
		{"Doc:UPPER-case", "UPPER-case"},
		{"quiz me on doc bio-101", "bio-101"},
		{"what is photosynthesis", ""},
		{"the documents are ready", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractDocumentRef(tt.query); got != tt.want {
			t.Errorf("extractDocumentRef(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
}
