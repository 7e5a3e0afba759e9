// Package quiz implements the multi-question quiz workflow as an explicit
// state machine with a durable checkpoint per transition. One session maps
// to one checkpoint key (the supervisor's sub-thread id).
package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/avercamp/lectern/internal/checkpoint"
	"github.com/avercamp/lectern/internal/gateway"
)

const (
	defaultCallTimeout      = 60 * time.Second
	generateTemperature     = 0.7
	evaluateTemperature     = 0.3
	completedAlreadyMessage = "This quiz has already finished. Say \"start quiz\" to begin a new one."
)

// Machine runs quiz sessions against a checkpoint store and the model
// gateway. It holds no per-session state; everything durable lives in the
// checkpoint.
type Machine struct {
	checkpoints checkpoint.Store
	chatter     gateway.Chatter
	timeout     time.Duration
	logger      *slog.Logger
}

// NewMachine creates a quiz machine. If callTimeout <= 0 the default is used.
func NewMachine(checkpoints checkpoint.Store, chatter gateway.Chatter, callTimeout time.Duration) *Machine {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Machine{
		checkpoints: checkpoints,
		chatter:     chatter,
		timeout:     callTimeout,
		logger:      slog.Default(),
	}
}

// Start validates inputs, creates the session checkpoint, and generates the
// first question. The returned Result carries the question to display.
func (m *Machine) Start(ctx context.Context, key, ownerID, documentRef, snippet string, maxQuestions int) (*Result, error) {
	s := &Session{
		DocumentRef:  documentRef,
		OwnerID:      ownerID,
		Snippet:      snippet,
		MaxQuestions: maxQuestions,
		Status:       StatusInitializing,
	}

	if verr := validateStart(documentRef, snippet, maxQuestions); verr != nil {
		s.Status = StatusError
		s.ErrorReason = verr.Msg
		// Persist the failed session so a later load explains what happened;
		// a save failure here is secondary to the validation error itself.
		if _, err := m.save(key, s, 0); err != nil {
			m.logger.Warn("saving failed quiz session", "key", key, "error", err)
		}
		return nil, verr
	}

	s.Status = StatusGenerating
	version, err := m.save(key, s, 0)
	if err != nil {
		return nil, err
	}

	q, err := m.generateQuestion(ctx, s, 1)
	if err != nil {
		return nil, m.fail(key, s, version, fmt.Errorf("generating first question: %w", err))
	}

	s.History = append(s.History, q)
	s.Status = StatusAwaiting
	if _, err := m.save(key, s, version); err != nil {
		return nil, err
	}

	return m.result(s, fmt.Sprintf("Question 1 of %d", s.MaxQuestions)), nil
}

// Answer advances a session with the user's answer: evaluates it, updates
// score and history, and either generates the next question or completes the
// quiz. A session a crash left mid-transition resumes from its persisted
// state: an interrupted evaluation is re-driven with the recorded answer, an
// interrupted generation is re-driven and its question re-presented.
func (m *Machine) Answer(ctx context.Context, key, answer string) (*Result, error) {
	s, version, err := m.load(key)
	if err != nil {
		return nil, err
	}

	if s.Status.Terminal() {
		return m.result(s, completedAlreadyMessage), nil
	}

	switch s.Status {
	case StatusAwaiting:
		// The pre-evaluation state is meaningful to resume from: the answer
		// is recorded before the blocking model call.
		s.Status = StatusEvaluating
		s.PendingAnswer = answer
		version, err = m.save(key, s, version)
		if err != nil {
			return nil, err
		}
	case StatusEvaluating:
		// The recorded answer is the one being evaluated; the new input
		// arrived after the interruption and is discarded.
		if s.PendingAnswer != "" {
			answer = s.PendingAnswer
		} else {
			s.PendingAnswer = answer
		}
	case StatusGenerating:
		return m.resumeGeneration(ctx, key, s, version)
	default:
		return nil, fmt.Errorf("quiz session %s is %s, cannot accept an answer", key, s.Status)
	}

	rec := &s.History[s.CurrentIndex]
	verdict, err := m.evaluateAnswer(ctx, s, *rec, answer)
	if err != nil {
		return nil, m.fail(key, s, version, fmt.Errorf("evaluating answer: %w", err))
	}

	matched := answerMatches(answer, rec.Options, rec.CorrectIndex)
	rec.UserAnswer = answer
	rec.ModelVerdict = &verdict.IsCorrect
	rec.MatchVerdict = &matched
	rec.Feedback = verdict.Feedback
	if verdict.IsCorrect != matched {
		m.logger.Info("quiz verdict disagreement",
			"key", key,
			"question", s.CurrentIndex+1,
			"model_verdict", verdict.IsCorrect,
			"match_verdict", matched,
		)
	}

	if verdict.IsCorrect {
		s.Score++
	}
	s.CurrentIndex++
	s.PendingAnswer = ""

	if s.CurrentIndex == s.MaxQuestions {
		s.Status = StatusCompleted
		if _, err := m.save(key, s, version); err != nil {
			return nil, err
		}
		summary := fmt.Sprintf("%s\n\nQuiz complete! Your final score is %d/%d.",
			verdict.Feedback, s.Score, s.MaxQuestions)
		res := m.result(s, summary)
		res.Breakdown = s.History
		return res, nil
	}

	s.Status = StatusGenerating
	version, err = m.save(key, s, version)
	if err != nil {
		return nil, err
	}

	q, err := m.generateQuestion(ctx, s, s.CurrentIndex+1)
	if err != nil {
		return nil, m.fail(key, s, version, fmt.Errorf("generating question %d: %w", s.CurrentIndex+1, err))
	}

	s.History = append(s.History, q)
	s.Status = StatusAwaiting
	if _, err := m.save(key, s, version); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("%s\n\nQuestion %d of %d", verdict.Feedback, s.CurrentIndex+1, s.MaxQuestions)
	return m.result(s, text), nil
}

// resumeGeneration re-drives a generation that was interrupted after its
// checkpoint but before the question was saved. In the generating state
// len(History) equals CurrentIndex, so the next question number and the
// append below line up with the uninterrupted path.
func (m *Machine) resumeGeneration(ctx context.Context, key string, s *Session, version int64) (*Result, error) {
	q, err := m.generateQuestion(ctx, s, s.CurrentIndex+1)
	if err != nil {
		return nil, m.fail(key, s, version, fmt.Errorf("generating question %d: %w", s.CurrentIndex+1, err))
	}

	s.History = append(s.History, q)
	s.Status = StatusAwaiting
	if _, err := m.save(key, s, version); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Question %d of %d", s.CurrentIndex+1, s.MaxQuestions)
	return m.result(s, text), nil
}

// Cancel transitions the session to cancelled. It is idempotent: cancelling
// a missing, completed, or already-cancelled session is a successful no-op.
func (m *Machine) Cancel(key string) (*Result, error) {
	s, version, err := m.load(key)
	if errors.Is(err, checkpoint.ErrNotFound) || errors.Is(err, checkpoint.ErrStaleSchema) {
		return &Result{Status: StatusCancelled, Text: "Quiz cancelled."}, nil
	}
	if err != nil {
		return nil, err
	}

	if s.Status.Terminal() {
		return m.result(s, "Quiz already finished."), nil
	}

	s.Status = StatusCancelled
	s.PendingAnswer = ""
	if _, err := m.save(key, s, version); err != nil {
		return nil, err
	}
	return m.result(s, "Quiz cancelled."), nil
}

// Peek loads the session without mutating it.
func (m *Machine) Peek(key string) (*Session, error) {
	s, _, err := m.load(key)
	return s, err
}

// --- persistence helpers ---

func (m *Machine) load(key string) (*Session, int64, error) {
	rec, err := m.checkpoints.Load(Namespace, key, SchemaVer)
	if err != nil {
		return nil, 0, fmt.Errorf("loading quiz session %s: %w", key, err)
	}
	var s Session
	if err := json.Unmarshal(rec.Payload, &s); err != nil {
		return nil, 0, fmt.Errorf("decoding quiz session %s: %w", key, err)
	}
	return &s, rec.Version, nil
}

func (m *Machine) save(key string, s *Session, expectedVersion int64) (int64, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("encoding quiz session %s: %w", key, err)
	}
	version, err := m.checkpoints.Save(Namespace, key, SchemaVer, payload, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("saving quiz session %s: %w", key, err)
	}
	return version, nil
}

// fail transitions the session to the error state, preserving the cause, and
// returns the original error for the caller to classify.
func (m *Machine) fail(key string, s *Session, version int64, cause error) error {
	s.Status = StatusError
	s.ErrorReason = cause.Error()
	if _, err := m.save(key, s, version); err != nil {
		m.logger.Error("saving quiz error state", "key", key, "error", err)
	}
	return cause
}

func (m *Machine) result(s *Session, text string) *Result {
	res := &Result{
		Status:       s.Status,
		Text:         text,
		Score:        s.Score,
		CurrentIndex: s.CurrentIndex,
		MaxQuestions: s.MaxQuestions,
	}
	if s.Status == StatusAwaiting && s.CurrentIndex < len(s.History) {
		rec := s.History[s.CurrentIndex]
		res.Question = &QuestionView{Text: rec.QuestionText, Options: rec.Options}
	}
	return res
}

// --- model calls ---

type llmQuestion struct {
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
	Explanation  string   `json:"explanation"`
}

type llmVerdict struct {
	IsCorrect bool   `json:"is_correct"`
	Feedback  string `json:"feedback"`
}

// generateQuestion asks the model for question questionNum. A malformed
// response gets exactly one retry with a stricter instruction; a second
// malformed response is returned to the caller as the original parse error.
func (m *Machine) generateQuestion(ctx context.Context, s *Session, questionNum int) (QuestionRecord, error) {
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		raw, err := m.chatter.Chat(callCtx, buildGeneratePrompt(s, questionNum, attempt > 0), generateTemperature, questionSchema())
		cancel()
		if err != nil {
			var malformed *gateway.MalformedResponseError
			if errors.As(err, &malformed) && attempt == 0 {
				m.logger.Warn("malformed question response, retrying stricter", "question", questionNum, "error", err)
				continue
			}
			return QuestionRecord{}, err
		}

		q, perr := parseQuestion(raw)
		if perr != nil {
			if attempt == 0 {
				m.logger.Warn("unparseable question response, retrying stricter", "question", questionNum, "error", perr)
				continue
			}
			return QuestionRecord{}, perr
		}
		return q, nil
	}
	// Unreachable; the loop always returns on the second attempt.
	return QuestionRecord{}, &gateway.MalformedResponseError{Detail: "question generation exhausted retries"}
}

func parseQuestion(raw string) (QuestionRecord, error) {
	var q llmQuestion
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return QuestionRecord{}, &gateway.MalformedResponseError{Detail: fmt.Sprintf("question JSON: %v", err)}
	}
	if strings.TrimSpace(q.QuestionText) == "" {
		return QuestionRecord{}, &gateway.MalformedResponseError{Detail: "question_text is empty"}
	}
	if len(q.Options) < 3 || len(q.Options) > 5 {
		return QuestionRecord{}, &gateway.MalformedResponseError{Detail: fmt.Sprintf("expected 3-5 options, got %d", len(q.Options))}
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return QuestionRecord{}, &gateway.MalformedResponseError{Detail: fmt.Sprintf("correct_index %d out of range", q.CorrectIndex)}
	}
	return QuestionRecord{
		QuestionText: q.QuestionText,
		Options:      q.Options,
		CorrectIndex: q.CorrectIndex,
		Explanation:  q.Explanation,
	}, nil
}

// evaluateAnswer asks the model for a verdict on the pending answer, with
// the same one-retry policy as generation.
func (m *Machine) evaluateAnswer(ctx context.Context, s *Session, rec QuestionRecord, answer string) (llmVerdict, error) {
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		raw, err := m.chatter.Chat(callCtx, buildEvaluatePrompt(s, rec, answer), evaluateTemperature, verdictSchema())
		cancel()
		if err != nil {
			var malformed *gateway.MalformedResponseError
			if errors.As(err, &malformed) && attempt == 0 {
				continue
			}
			return llmVerdict{}, err
		}

		var v llmVerdict
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			if attempt == 0 {
				m.logger.Warn("unparseable verdict response, retrying", "error", err)
				continue
			}
			return llmVerdict{}, &gateway.MalformedResponseError{Detail: fmt.Sprintf("verdict JSON: %v", err)}
		}
		return v, nil
	}
	return llmVerdict{}, &gateway.MalformedResponseError{Detail: "answer evaluation exhausted retries"}
}

// --- validation and matching ---

func validateStart(documentRef, snippet string, maxQuestions int) *ValidationError {
	if strings.TrimSpace(documentRef) == "" {
		return validationErrorf("a document is required to start a quiz")
	}
	if strings.TrimSpace(snippet) == "" {
		return validationErrorf("document %s has no content to quiz on", documentRef)
	}
	if maxQuestions < MinQuestions || maxQuestions > MaxQuestions {
		return validationErrorf("question count must be between %d and %d, got %d", MinQuestions, MaxQuestions, maxQuestions)
	}
	return nil
}

// answerMatches is the audit-trail string comparison: the answer matches if
// it equals the correct option text (case-insensitive) or its 1-based
// position as a number.
func answerMatches(answer string, options []string, correctIndex int) bool {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.Trim(normalized, `."'`)
	if normalized == "" {
		return false
	}
	if normalized == strings.ToLower(strings.TrimSpace(options[correctIndex])) {
		return true
	}
	if n, err := strconv.Atoi(normalized); err == nil {
		return n == correctIndex+1
	}
	return false
}
