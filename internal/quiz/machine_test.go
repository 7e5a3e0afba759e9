package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/avercamp/lectern/internal/checkpoint"
	"github.com/avercamp/lectern/internal/gateway"
)

// scriptedChatter returns queued responses in order and records every call.
type scriptedChatter struct {
	responses []string
	errs      []error
	calls     int
	prompts   [][]gateway.Message
}

func (c *scriptedChatter) Chat(ctx context.Context, messages []gateway.Message, temperature float64, jsonSchema *gateway.Schema) (string, error) {
	i := c.calls
	c.calls++
	c.prompts = append(c.prompts, messages)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", fmt.Errorf("unexpected chat call %d", i)
}

func questionJSON(n int) string {
	return fmt.Sprintf(`{"question_text":"Question %d?","options":["alpha","beta","gamma"],"correct_index":1,"explanation":"beta is right"}`, n)
}

func verdictJSON(correct bool) string {
	return fmt.Sprintf(`{"is_correct":%t,"feedback":"noted"}`, correct)
}

func newTestMachine(chatter gateway.Chatter) (*Machine, checkpoint.Store) {
	cs := checkpoint.NewMemoryStore()
	return NewMachine(cs, chatter, 0), cs
}

func TestStartGeneratesFirstQuestion(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{questionJSON(1)}}
	m, _ := newTestMachine(chatter)

	res, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet text", 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != StatusAwaiting {
		t.Errorf("Status = %s, want %s", res.Status, StatusAwaiting)
	}
	if res.Question == nil || res.Question.Text != "Question 1?" {
		t.Errorf("Question = %+v, want Question 1?", res.Question)
	}
	if len(res.Question.Options) != 3 {
		t.Errorf("Options = %v, want 3 options", res.Question.Options)
	}

	s, err := m.Peek("key-1")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if s.Status != StatusAwaiting || len(s.History) != 1 {
		t.Errorf("persisted session = %+v", s)
	}
}

func TestStartValidation(t *testing.T) {
	tests := []struct {
		name         string
		documentRef  string
		snippet      string
		maxQuestions int
	}{
		{"missing document", "", "snippet", 3},
		{"empty snippet", "doc-1", "  ", 3},
		{"too few questions", "doc-1", "snippet", 0},
		{"too many questions", "doc-1", "snippet", MaxQuestions + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chatter := &scriptedChatter{}
			m, _ := newTestMachine(chatter)

			_, err := m.Start(context.Background(), "key-1", "alice", tt.documentRef, tt.snippet, tt.maxQuestions)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Start = %v, want ValidationError", err)
			}
			if chatter.calls != 0 {
				t.Errorf("model called %d times on invalid input, want 0", chatter.calls)
			}

			// The failed session is persisted with the reason.
			s, perr := m.Peek("key-1")
			if perr != nil {
				t.Fatalf("Peek: %v", perr)
			}
			if s.Status != StatusError || s.ErrorReason == "" {
				t.Errorf("persisted session = %+v, want error state with reason", s)
			}
		})
	}
}

// TestStartMalformedRetriesOnceStricter verifies one retry with the stricter
// instruction after a malformed response, and success on the second attempt.
func TestStartMalformedRetriesOnceStricter(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{"not json", questionJSON(1)}}
	m, _ := newTestMachine(chatter)

	res, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != StatusAwaiting {
		t.Errorf("Status = %s, want awaiting", res.Status)
	}
	if chatter.calls != 2 {
		t.Fatalf("model called %d times, want 2", chatter.calls)
	}

	retry := chatter.prompts[1]
	last := retry[len(retry)-1]
	if !strings.Contains(last.Content, "previous response was not a valid question") {
		t.Errorf("retry prompt missing stricter instruction: %q", last.Content)
	}
}

// TestStartMalformedTwiceFails verifies the second malformed response parks
// the session in the error state instead of retrying forever.
func TestStartMalformedTwiceFails(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{"not json", "still not json"}}
	m, _ := newTestMachine(chatter)

	_, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 3)
	var malformed *gateway.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("Start = %v, want MalformedResponseError", err)
	}
	if chatter.calls != 2 {
		t.Errorf("model called %d times, want 2", chatter.calls)
	}

	s, perr := m.Peek("key-1")
	if perr != nil {
		t.Fatalf("Peek: %v", perr)
	}
	if s.Status != StatusError {
		t.Errorf("Status = %s, want error", s.Status)
	}
}

func TestAnswerAdvancesToNextQuestion(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		questionJSON(1),
		verdictJSON(true),
		questionJSON(2),
	}}
	m, _ := newTestMachine(chatter)

	if _, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 3); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := m.Answer(context.Background(), "key-1", "beta")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Status != StatusAwaiting {
		t.Errorf("Status = %s, want awaiting", res.Status)
	}
	if res.Score != 1 {
		t.Errorf("Score = %d, want 1", res.Score)
	}
	if res.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", res.CurrentIndex)
	}
	if res.Question == nil || res.Question.Text != "Question 2?" {
		t.Errorf("Question = %+v, want Question 2?", res.Question)
	}
	if !strings.Contains(res.Text, "noted") {
		t.Errorf("Text = %q, want feedback included", res.Text)
	}
}

// TestQuizCompletesAtMaxQuestions runs a full three-question quiz and checks
// the terminal result: completed status, breakdown, and a score that can
// never exceed the question count.
func TestQuizCompletesAtMaxQuestions(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		questionJSON(1),
		verdictJSON(true), questionJSON(2),
		verdictJSON(true), questionJSON(3),
		verdictJSON(true),
	}}
	m, _ := newTestMachine(chatter)

	if _, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 3); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var res *Result
	var err error
	for i := 0; i < 3; i++ {
		res, err = m.Answer(context.Background(), "key-1", "beta")
		if err != nil {
			t.Fatalf("Answer %d: %v", i+1, err)
		}
	}

	if res.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", res.Status)
	}
	if res.Score != 3 || res.Score > res.MaxQuestions {
		t.Errorf("Score = %d/%d", res.Score, res.MaxQuestions)
	}
	if len(res.Breakdown) != 3 {
		t.Errorf("Breakdown has %d entries, want 3", len(res.Breakdown))
	}
	if !strings.Contains(res.Text, "3/3") {
		t.Errorf("Text = %q, want final score", res.Text)
	}
	// Exactly max_questions model generations happened: no fourth question.
	if chatter.calls != 6 {
		t.Errorf("model called %d times, want 6", chatter.calls)
	}
}

// TestVerdictDisagreementRecordsBoth verifies the model verdict is
// authoritative for scoring while the string match is kept for audit.
func TestVerdictDisagreementRecordsBoth(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		questionJSON(1),
		verdictJSON(true), // model accepts a paraphrase the string match rejects
	}}
	m, _ := newTestMachine(chatter)

	if _, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 1); err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := m.Answer(context.Background(), "key-1", "the second one")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Score != 1 {
		t.Errorf("Score = %d, want 1 (model verdict wins)", res.Score)
	}

	rec := res.Breakdown[0]
	if rec.ModelVerdict == nil || !*rec.ModelVerdict {
		t.Error("ModelVerdict should be true")
	}
	if rec.MatchVerdict == nil || *rec.MatchVerdict {
		t.Error("MatchVerdict should be false")
	}
}

func TestAnswerOnFinishedQuizIsNoOp(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		questionJSON(1),
		verdictJSON(false),
	}}
	m, _ := newTestMachine(chatter)

	if _, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Answer(context.Background(), "key-1", "alpha"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	before := chatter.calls
	res, err := m.Answer(context.Background(), "key-1", "beta")
	if err != nil {
		t.Fatalf("Answer on completed quiz: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", res.Status)
	}
	if chatter.calls != before {
		t.Error("model should not be called for a finished quiz")
	}
}

// TestEvaluationFailureParksSessionInError verifies a gateway failure during
// evaluation lands the session in the error state with the cause recorded.
func TestEvaluationFailureParksSessionInError(t *testing.T) {
	chatter := &scriptedChatter{
		responses: []string{questionJSON(1), ""},
		errs:      []error{nil, errors.New("connection refused"), errors.New("connection refused")},
	}
	m, _ := newTestMachine(chatter)

	if _, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Answer(context.Background(), "key-1", "beta"); err == nil {
		t.Fatal("expected error from failed evaluation")
	}

	s, err := m.Peek("key-1")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if s.Status != StatusError || s.ErrorReason == "" {
		t.Errorf("session = %+v, want error state with reason", s)
	}
	// The pending answer survived the pre-evaluation checkpoint.
	if s.PendingAnswer != "beta" {
		t.Errorf("PendingAnswer = %q, want beta", s.PendingAnswer)
	}
}

func seedSession(t *testing.T, cs checkpoint.Store, key string, s *Session) {
	t.Helper()
	payload, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("encoding session: %v", err)
	}
	if _, err := cs.Save(Namespace, key, SchemaVer, payload, 0); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
}

// TestInterruptedEvaluationResumes covers a crash between the pre-evaluation
// checkpoint and the verdict: the next turn re-drives the evaluation with the
// recorded answer instead of rejecting the session.
func TestInterruptedEvaluationResumes(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		verdictJSON(true),
		questionJSON(2),
	}}
	m, cs := newTestMachine(chatter)

	seedSession(t, cs, "key-1", &Session{
		DocumentRef:  "doc-1",
		OwnerID:      "alice",
		Snippet:      "snippet",
		MaxQuestions: 2,
		History: []QuestionRecord{{
			QuestionText: "Question 1?",
			Options:      []string{"alpha", "beta", "gamma"},
			CorrectIndex: 1,
		}},
		PendingAnswer: "beta",
		Status:        StatusEvaluating,
	})

	// The new input arrived after the interruption; the recorded answer is
	// the one that gets evaluated.
	res, err := m.Answer(context.Background(), "key-1", "gamma")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Status != StatusAwaiting {
		t.Errorf("Status = %s, want awaiting", res.Status)
	}
	if res.Score != 1 {
		t.Errorf("Score = %d, want 1", res.Score)
	}
	if res.Question == nil || res.Question.Text != "Question 2?" {
		t.Errorf("Question = %+v, want Question 2?", res.Question)
	}

	s, err := m.Peek("key-1")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if s.History[0].UserAnswer != "beta" {
		t.Errorf("UserAnswer = %q, want the recorded answer beta", s.History[0].UserAnswer)
	}
	if s.PendingAnswer != "" {
		t.Errorf("PendingAnswer = %q, want cleared", s.PendingAnswer)
	}
}

// TestInterruptedGenerationResumes covers a crash between the generating
// checkpoint and the question save: the next turn re-drives the generation
// and presents the question.
func TestInterruptedGenerationResumes(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{questionJSON(2)}}
	m, cs := newTestMachine(chatter)

	answered := QuestionRecord{
		QuestionText: "Question 1?",
		Options:      []string{"alpha", "beta", "gamma"},
		CorrectIndex: 1,
		UserAnswer:   "beta",
	}
	seedSession(t, cs, "key-1", &Session{
		DocumentRef:  "doc-1",
		OwnerID:      "alice",
		Snippet:      "snippet",
		MaxQuestions: 3,
		CurrentIndex: 1,
		Score:        1,
		History:      []QuestionRecord{answered},
		Status:       StatusGenerating,
	})

	res, err := m.Answer(context.Background(), "key-1", "anything")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Status != StatusAwaiting {
		t.Errorf("Status = %s, want awaiting", res.Status)
	}
	if res.Question == nil || res.Question.Text != "Question 2?" {
		t.Errorf("Question = %+v, want Question 2?", res.Question)
	}
	if res.Score != 1 || res.CurrentIndex != 1 {
		t.Errorf("Score/CurrentIndex = %d/%d, want 1/1", res.Score, res.CurrentIndex)
	}

	// The resumed session carries on normally.
	chatter.responses = append(chatter.responses, verdictJSON(true), questionJSON(3))
	res, err = m.Answer(context.Background(), "key-1", "beta")
	if err != nil {
		t.Fatalf("Answer after resume: %v", err)
	}
	if res.Score != 2 || res.CurrentIndex != 2 {
		t.Errorf("Score/CurrentIndex = %d/%d, want 2/2", res.Score, res.CurrentIndex)
	}
}

func TestCancelIdempotent(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{questionJSON(1)}}
	m, _ := newTestMachine(chatter)

	// Cancelling a session that never existed succeeds.
	res, err := m.Cancel("ghost")
	if err != nil {
		t.Fatalf("Cancel missing: %v", err)
	}
	if res.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", res.Status)
	}

	if _, err := m.Start(context.Background(), "key-1", "alice", "doc-1", "snippet", 3); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := m.Cancel("key-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	s, err := m.Peek("key-1")
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if s.Status != StatusCancelled {
		t.Errorf("Status = %s, want cancelled", s.Status)
	}

	// Cancelling again is still a success.
	if _, err := m.Cancel("key-1"); err != nil {
		t.Errorf("second Cancel: %v", err)
	}
}

func TestAnswerMatches(t *testing.T) {
	options := []string{"alpha", "beta", "gamma"}
	tests := []struct {
		answer string
		want   bool
	}{
		{"beta", true},
		{"  BETA  ", true},
		{`"beta"`, true},
		{"2", true},
		{"alpha", false},
		{"1", false},
		{"", false},
		{"something else", false},
	}
	for _, tt := range tests {
		if got := answerMatches(tt.answer, options, 1); got != tt.want {
			t.Errorf("answerMatches(%q) = %t, want %t", tt.answer, got, tt.want)
		}
	}
}

func TestParseQuestionValidation(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty text", `{"question_text":"  ","options":["a","b","c"],"correct_index":0}`},
		{"too few options", `{"question_text":"q","options":["a","b"],"correct_index":0}`},
		{"too many options", `{"question_text":"q","options":["a","b","c","d","e","f"],"correct_index":0}`},
		{"index out of range", `{"question_text":"q","options":["a","b","c"],"correct_index":3}`},
		{"negative index", `{"question_text":"q","options":["a","b","c"],"correct_index":-1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseQuestion(tt.raw)
			var malformed *gateway.MalformedResponseError
			if !errors.As(err, &malformed) {
				t.Errorf("parseQuestion = %v, want MalformedResponseError", err)
			}
		})
	}
}
