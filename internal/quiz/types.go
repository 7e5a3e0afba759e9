package quiz

import "fmt"

// Namespace is the checkpoint namespace owned by the quiz workflow.
const Namespace = "quiz"

// SchemaVer identifies the Session payload layout. Checkpoints written by an
// older schema are rejected on load and the session restarts fresh.
const SchemaVer = 1

// Question-count bounds enforced at session start.
const (
	MinQuestions = 1
	MaxQuestions = 20
)

// Status is the quiz state machine position.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusGenerating   Status = "generating_question"
	StatusAwaiting     Status = "awaiting_answer"
	StatusEvaluating   Status = "evaluating_answer"
	StatusCompleted    Status = "quiz_completed"
	StatusCancelled    Status = "cancelled"
	StatusError        Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusError
}

// QuestionRecord is one generated question with its evaluation outcome. The
// model's verdict is authoritative for scoring; the plain string match
// against the recorded correct option is kept alongside for audit.
type QuestionRecord struct {
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation,omitempty"`
	UserAnswer   string   `json:"user_answer,omitempty"`
	ModelVerdict *bool    `json:"model_verdict,omitempty"`
	MatchVerdict *bool    `json:"match_verdict,omitempty"`
	Feedback     string   `json:"feedback,omitempty"`
}

// Session is the durable quiz state checkpointed between turns.
type Session struct {
	DocumentRef   string           `json:"document_ref"`
	OwnerID       string           `json:"owner_id"`
	Snippet       string           `json:"snippet"`
	MaxQuestions  int              `json:"max_questions"`
	CurrentIndex  int              `json:"current_index"`
	Score         int              `json:"score"`
	History       []QuestionRecord `json:"history"`
	PendingAnswer string           `json:"pending_answer,omitempty"`
	Status        Status           `json:"status"`
	ErrorReason   string           `json:"error_reason,omitempty"`
}

// QuestionView is the display form of the question awaiting an answer.
type QuestionView struct {
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

// Result is what one invocation of the workflow hands back to the caller.
type Result struct {
	Status       Status           `json:"status"`
	Text         string           `json:"text"`
	Question     *QuestionView    `json:"question,omitempty"`
	Score        int              `json:"score"`
	CurrentIndex int              `json:"current_index"`
	MaxQuestions int              `json:"max_questions"`
	Breakdown    []QuestionRecord `json:"breakdown,omitempty"`
}

// ValidationError reports bad session inputs; its message is safe to show
// the user verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
