// Package fidelity performs offline fidelity validation of refined answers
// against their original transcripts. Sampling is asynchronous: a sampled
// refinement becomes a durable job, and a polling worker consumes the queue.
// Nothing in this package ever blocks or fails the user-facing refinement
// path.
package fidelity

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/avercamp/lectern/internal/storage"
)

// JobType is the queue type claimed by the Worker.
const JobType = "fidelity_check"

// checkPayload is the job payload: everything the worker needs, so a check
// survives even if the session checkpoint moves on.
type checkPayload struct {
	SessionID          string `json:"session_id"`
	OriginalTranscript string `json:"original_transcript"`
	RefinedText        string `json:"refined_text"`
}

// JobEnqueuer is the storage surface the sampler needs.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// JobSampler enqueues a fidelity_check job for a configurable fraction of
// refinement completions. It satisfies formulate.Sampler.
type JobSampler struct {
	store  JobEnqueuer
	rate   float64
	randFn func() float64
	logger *slog.Logger
}

// NewJobSampler creates a sampler with the given sampling rate in [0, 1].
func NewJobSampler(store JobEnqueuer, rate float64) *JobSampler {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	return &JobSampler{
		store:  store,
		rate:   rate,
		randFn: rand.Float64,
		logger: slog.Default(),
	}
}

// MaybeSample enqueues a check for this refinement with probability rate.
// Enqueue failures are logged and swallowed; sampling is observability, not
// a gate.
func (s *JobSampler) MaybeSample(sessionID, original, refined string) {
	if s.randFn() >= s.rate {
		return
	}
	if original == "" || refined == "" {
		return
	}

	payload, err := json.Marshal(checkPayload{
		SessionID:          sessionID,
		OriginalTranscript: original,
		RefinedText:        refined,
	})
	if err != nil {
		s.logger.Warn("marshalling fidelity payload", "session_id", sessionID, "error", err)
		return
	}

	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}
	if err := s.store.EnqueueJob(job); err != nil {
		s.logger.Warn("enqueueing fidelity check", "session_id", sessionID, "error", err)
	}
}
