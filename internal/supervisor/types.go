package supervisor

import (
	"errors"
	"time"
)

const (
	// Namespace is the checkpoint namespace for thread state.
	Namespace = "thread"

	// SchemaVer is the current thread state schema version. Threads
	// checkpointed under an older version are reinitialized fresh.
	SchemaVer = 1
)

// maxStoredTurns bounds the conversation history carried in the thread
// checkpoint. Older turns are dropped, not summarized.
const maxStoredTurns = 50

// ErrThreadBusy is returned when two turns race on the same thread and
// this one lost the checkpoint write. The caller should retry.
var ErrThreadBusy = errors.New("another turn is in flight for this thread")

// WorkflowKind identifies the sub-workflow a thread has delegated to.
type WorkflowKind string

const (
	WorkflowNone WorkflowKind = "none"
	WorkflowQuiz WorkflowKind = "quiz"
)

// Turn is one utterance in the thread transcript.
type Turn struct {
	Role      string    `json:"role"` // "user" or "agent"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Thread is the durable per-conversation state owned by the supervisor.
type Thread struct {
	ThreadID          string       `json:"thread_id"`
	OwnerID           string       `json:"owner_id"`
	ActiveWorkflow    WorkflowKind `json:"active_workflow"`
	ActiveSubThreadID string       `json:"active_sub_thread_id,omitempty"`
	DocumentRef       string       `json:"document_ref,omitempty"`
	Turns             []Turn       `json:"turns,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	LastActiveAt      time.Time    `json:"last_active_at"`
}

func newThread(threadID, ownerID string, now time.Time) *Thread {
	return &Thread{
		ThreadID:       threadID,
		OwnerID:        ownerID,
		ActiveWorkflow: WorkflowNone,
		CreatedAt:      now,
		LastActiveAt:   now,
	}
}

func (t *Thread) appendTurn(role, content string, now time.Time) {
	t.Turns = append(t.Turns, Turn{Role: role, Content: content, Timestamp: now})
	if len(t.Turns) > maxStoredTurns {
		t.Turns = t.Turns[len(t.Turns)-maxStoredTurns:]
	}
}

// Response is the envelope returned for every turn, regardless of which
// workflow produced it.
type Response struct {
	ThreadID       string   `json:"thread_id"`
	TextResponse   string   `json:"text_response"`
	WorkflowStatus string   `json:"workflow_status"`
	QuizQuestion   string   `json:"quiz_question,omitempty"`
	QuizOptions    []string `json:"quiz_options,omitempty"`
	QuizScore      *int     `json:"quiz_score,omitempty"`
	QuizProgress   string   `json:"quiz_progress,omitempty"`
}
