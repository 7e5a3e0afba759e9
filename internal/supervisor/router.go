// Package supervisor routes conversation turns to the right workflow: it
// recognizes quiz triggers and cancellations, forwards turns to an active
// quiz, and falls back to grounded chat for everything else. Thread state is
// checkpointed once per turn, after the delegated workflow has persisted its
// own state.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avercamp/lectern/internal/chat"
	"github.com/avercamp/lectern/internal/checkpoint"
	"github.com/avercamp/lectern/internal/document"
	"github.com/avercamp/lectern/internal/quiz"
)

const defaultQuizLength = 5

const (
	fallbackMessage        = "I ran into a problem answering that. Please try again."
	nothingToCancelMessage = "There's no quiz running right now."
	cancelledMessage       = "Quiz cancelled. What would you like to do next?"
	staleQuizMessage       = "Your previous quiz can't be resumed. Say \"start quiz\" to begin a new one."
	missingDocumentMessage = "I need a document to quiz you on. Try \"quiz me on doc:<id>\"."
	documentGoneMessage    = "I couldn't find that document. Check the reference and try again."
	emptyTurnMessage       = "I didn't catch that. Could you say it again?"
)

// QuizRunner is the quiz workflow surface the router drives.
type QuizRunner interface {
	Start(ctx context.Context, key, ownerID, documentRef, snippet string, maxQuestions int) (*quiz.Result, error)
	Answer(ctx context.Context, key, answer string) (*quiz.Result, error)
	Cancel(key string) (*quiz.Result, error)
}

// ChatAnswerer is the grounded-chat surface the router falls back to.
type ChatAnswerer interface {
	Answer(ctx context.Context, narrative string, history []chat.Turn, query string) (string, error)
}

// SnippetSource fetches owner-scoped document snippets.
type SnippetSource interface {
	Snippet(documentRef, ownerID string) (string, error)
}

// Router dispatches turns for all threads. It holds no per-thread state;
// everything durable lives in the checkpoint store.
type Router struct {
	checkpoints  checkpoint.Store
	quizzes      QuizRunner
	chats        ChatAnswerer
	docs         SnippetSource
	quizLength   int
	newSubThread func() string
	now          func() time.Time
	logger       *slog.Logger
}

// NewRouter creates a Router. If quizLength <= 0 the default is used.
func NewRouter(checkpoints checkpoint.Store, quizzes QuizRunner, chats ChatAnswerer, docs SnippetSource, quizLength int) *Router {
	if quizLength <= 0 {
		quizLength = defaultQuizLength
	}
	return &Router{
		checkpoints:  checkpoints,
		quizzes:      quizzes,
		chats:        chats,
		docs:         docs,
		quizLength:   quizLength,
		newSubThread: uuid.NewString,
		now:          time.Now,
		logger:       slog.Default(),
	}
}

// HandleTurn processes one user turn end to end: classify, delegate, persist.
// A lost checkpoint race returns ErrThreadBusy; the caller should retry.
func (r *Router) HandleTurn(ctx context.Context, threadID, ownerID, input string) (*Response, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return &Response{ThreadID: threadID, TextResponse: emptyTurnMessage, WorkflowStatus: "idle"}, nil
	}

	t, version, err := r.loadThread(threadID, ownerID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	t.LastActiveAt = now
	if ref := extractDocumentRef(input); ref != "" {
		t.DocumentRef = ref
	}

	// Cancellation is handled before anything else so "cancel quiz" never
	// gets evaluated as a quiz answer.
	if isCancel(input) {
		return r.handleCancel(t, version, input, now)
	}

	if t.ActiveWorkflow == WorkflowQuiz {
		return r.forwardToQuiz(ctx, t, version, input, now)
	}

	if isQuizStart(input) {
		return r.startQuiz(ctx, t, version, input, now)
	}

	return r.answerWithChat(ctx, t, version, input, now)
}

func (r *Router) handleCancel(t *Thread, version int64, input string, now time.Time) (*Response, error) {
	if t.ActiveWorkflow != WorkflowQuiz {
		// Nothing to cancel; leave the thread checkpoint untouched.
		return &Response{ThreadID: t.ThreadID, TextResponse: nothingToCancelMessage, WorkflowStatus: "idle"}, nil
	}

	if _, err := r.quizzes.Cancel(t.ActiveSubThreadID); err != nil {
		// Cancel is idempotent on the quiz side; a failure here still
		// detaches the thread so the user is never stuck in a dead quiz.
		r.logger.Warn("cancelling quiz", "thread", t.ThreadID, "sub_thread", t.ActiveSubThreadID, "error", err)
	}
	t.ActiveWorkflow = WorkflowNone
	t.ActiveSubThreadID = ""

	resp := &Response{ThreadID: t.ThreadID, TextResponse: cancelledMessage, WorkflowStatus: string(quiz.StatusCancelled)}
	return r.finishTurn(t, version, input, resp, now)
}

func (r *Router) forwardToQuiz(ctx context.Context, t *Thread, version int64, input string, now time.Time) (*Response, error) {
	res, err := r.quizzes.Answer(ctx, t.ActiveSubThreadID, input)
	if err != nil {
		switch {
		case errors.Is(err, checkpoint.ErrConflict):
			return nil, ErrThreadBusy
		case errors.Is(err, checkpoint.ErrStaleSchema), errors.Is(err, checkpoint.ErrNotFound):
			t.ActiveWorkflow = WorkflowNone
			t.ActiveSubThreadID = ""
			resp := &Response{ThreadID: t.ThreadID, TextResponse: staleQuizMessage, WorkflowStatus: "reset"}
			return r.finishTurn(t, version, input, resp, now)
		default:
			// The quiz machine has parked itself in its error state.
			r.logger.Error("quiz turn failed", "thread", t.ThreadID, "sub_thread", t.ActiveSubThreadID, "error", err)
			t.ActiveWorkflow = WorkflowNone
			t.ActiveSubThreadID = ""
			resp := &Response{ThreadID: t.ThreadID, TextResponse: fallbackMessage, WorkflowStatus: string(quiz.StatusError)}
			return r.finishTurn(t, version, input, resp, now)
		}
	}

	if res.Status.Terminal() {
		t.ActiveWorkflow = WorkflowNone
		t.ActiveSubThreadID = ""
	}
	return r.finishTurn(t, version, input, r.quizResponse(t.ThreadID, res), now)
}

func (r *Router) startQuiz(ctx context.Context, t *Thread, version int64, input string, now time.Time) (*Response, error) {
	if t.DocumentRef == "" {
		resp := &Response{ThreadID: t.ThreadID, TextResponse: missingDocumentMessage, WorkflowStatus: "idle"}
		return r.finishTurn(t, version, input, resp, now)
	}

	snippet, err := r.docs.Snippet(t.DocumentRef, t.OwnerID)
	if err != nil {
		text := fallbackMessage
		if errors.Is(err, document.ErrNotFound) {
			text = documentGoneMessage
		} else {
			r.logger.Error("fetching quiz snippet", "thread", t.ThreadID, "document", t.DocumentRef, "error", err)
		}
		resp := &Response{ThreadID: t.ThreadID, TextResponse: text, WorkflowStatus: "idle"}
		return r.finishTurn(t, version, input, resp, now)
	}

	subID := r.newSubThread()
	res, err := r.quizzes.Start(ctx, subID, t.OwnerID, t.DocumentRef, snippet, r.quizLength)
	if err != nil {
		var verr *quiz.ValidationError
		switch {
		case errors.As(err, &verr):
			resp := &Response{ThreadID: t.ThreadID, TextResponse: verr.Msg, WorkflowStatus: "idle"}
			return r.finishTurn(t, version, input, resp, now)
		case errors.Is(err, checkpoint.ErrConflict):
			return nil, ErrThreadBusy
		default:
			r.logger.Error("starting quiz", "thread", t.ThreadID, "document", t.DocumentRef, "error", err)
			resp := &Response{ThreadID: t.ThreadID, TextResponse: fallbackMessage, WorkflowStatus: string(quiz.StatusError)}
			return r.finishTurn(t, version, input, resp, now)
		}
	}

	t.ActiveWorkflow = WorkflowQuiz
	t.ActiveSubThreadID = subID
	return r.finishTurn(t, version, input, r.quizResponse(t.ThreadID, res), now)
}

func (r *Router) answerWithChat(ctx context.Context, t *Thread, version int64, input string, now time.Time) (*Response, error) {
	narrative := ""
	if t.DocumentRef != "" {
		snippet, err := r.docs.Snippet(t.DocumentRef, t.OwnerID)
		if err != nil {
			// Chat still works ungrounded; the prompt says so explicitly.
			r.logger.Warn("fetching chat narrative", "thread", t.ThreadID, "document", t.DocumentRef, "error", err)
		} else {
			narrative = snippet
		}
	}

	answer, err := r.chats.Answer(ctx, narrative, chatHistory(t.Turns), input)
	status := "done"
	if err != nil {
		r.logger.Error("chat turn failed", "thread", t.ThreadID, "error", err)
		answer = fallbackMessage
		status = "error"
	}

	resp := &Response{ThreadID: t.ThreadID, TextResponse: answer, WorkflowStatus: status}
	return r.finishTurn(t, version, input, resp, now)
}

// loadThread returns the thread state and the checkpoint version to save
// against. Missing or stale checkpoints start a fresh thread at version 0.
func (r *Router) loadThread(threadID, ownerID string) (*Thread, int64, error) {
	rec, err := r.checkpoints.Load(Namespace, threadID, SchemaVer)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		return newThread(threadID, ownerID, r.now()), 0, nil
	case errors.Is(err, checkpoint.ErrStaleSchema):
		// Drop the old row so the fresh thread can be created anew.
		r.logger.Info("reinitializing stale thread", "thread", threadID)
		if delErr := r.checkpoints.Delete(Namespace, threadID); delErr != nil {
			return nil, 0, fmt.Errorf("resetting stale thread %s: %w", threadID, delErr)
		}
		return newThread(threadID, ownerID, r.now()), 0, nil
	case err != nil:
		return nil, 0, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	var t Thread
	if err := json.Unmarshal(rec.Payload, &t); err != nil {
		return nil, 0, fmt.Errorf("decoding thread %s: %w", threadID, err)
	}
	if t.OwnerID != ownerID {
		return nil, 0, fmt.Errorf("thread %s: %w", threadID, checkpoint.ErrNotFound)
	}
	return &t, rec.Version, nil
}

// finishTurn records both halves of the exchange and persists the thread.
// The delegated workflow has already checkpointed its own state by the time
// this runs, so a crash between the two leaves a resumable sub-workflow and
// a thread that will re-attach on the next load.
func (r *Router) finishTurn(t *Thread, version int64, input string, resp *Response, now time.Time) (*Response, error) {
	t.appendTurn("user", input, now)
	t.appendTurn("agent", resp.TextResponse, now)

	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding thread %s: %w", t.ThreadID, err)
	}
	if _, err := r.checkpoints.Save(Namespace, t.ThreadID, SchemaVer, payload, version); err != nil {
		if errors.Is(err, checkpoint.ErrConflict) {
			return nil, ErrThreadBusy
		}
		return nil, fmt.Errorf("saving thread %s: %w", t.ThreadID, err)
	}
	return resp, nil
}

func (r *Router) quizResponse(threadID string, res *quiz.Result) *Response {
	resp := &Response{
		ThreadID:       threadID,
		TextResponse:   res.Text,
		WorkflowStatus: string(res.Status),
		QuizProgress:   fmt.Sprintf("%d/%d", res.CurrentIndex, res.MaxQuestions),
	}
	if res.Question != nil {
		resp.QuizQuestion = res.Question.Text
		resp.QuizOptions = res.Question.Options
	}
	if res.Status.Terminal() || res.CurrentIndex > 0 {
		score := res.Score
		resp.QuizScore = &score
	}
	return resp
}

func chatHistory(turns []Turn) []chat.Turn {
	history := make([]chat.Turn, 0, len(turns))
	for _, t := range turns {
		history = append(history, chat.Turn{Role: t.Role, Content: t.Content})
	}
	return history
}
