package fidelity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avercamp/lectern/internal/checkpoint"
	"github.com/avercamp/lectern/internal/formulate"
	"github.com/avercamp/lectern/internal/gateway"
	"github.com/avercamp/lectern/internal/storage"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultThreshold    = 0.8
	checkTimeout        = 45 * time.Second
	checkTemperature    = 0.1
)

// JobStore abstracts the job queue and sample log operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	SaveFidelitySample(sample storage.FidelitySample) error
}

// Worker processes fidelity_check jobs from the queue: it asks the gateway
// to audit a refinement, logs the sample, and best-effort records it on the
// session checkpoint.
type Worker struct {
	store       JobStore
	chatter     gateway.Chatter
	checkpoints checkpoint.Store
	threshold   float64
	poll        time.Duration
	logger      *slog.Logger
}

// NewWorker creates a Worker. If pollInterval <= 0, it defaults to 500ms;
// threshold <= 0 defaults to 0.8.
func NewWorker(store JobStore, chatter gateway.Chatter, checkpoints checkpoint.Store, threshold float64, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Worker{
		store:       store,
		chatter:     chatter,
		checkpoints: checkpoints,
		threshold:   threshold,
		poll:        pollInterval,
		logger:      slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("fidelity worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single fidelity_check job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("fidelity job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload checkPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	raw, err := w.chatter.Chat(callCtx, buildValidationPrompt(payload.OriginalTranscript, payload.RefinedText), checkTemperature, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("validating refinement: %w", err)
	}

	score := extractScore(raw)
	violations := extractViolations(raw)

	violationsJSON := "[]"
	if len(violations) > 0 {
		b, err := json.Marshal(violations)
		if err != nil {
			return fmt.Errorf("marshalling violations: %w", err)
		}
		violationsJSON = string(b)
	}

	sample := storage.FidelitySample{
		ID:             uuid.New().String(),
		SessionID:      payload.SessionID,
		Score:          score,
		ViolationsJSON: violationsJSON,
		CreatedAt:      time.Now().UTC(),
	}
	if err := w.store.SaveFidelitySample(sample); err != nil {
		return fmt.Errorf("saving fidelity sample: %w", err)
	}

	// Low scores are logged for offline review, never surfaced to the user.
	if score < w.threshold {
		w.logger.Error("low fidelity score",
			"session_id", payload.SessionID,
			"score", score,
			"violations", violations,
		)
	} else {
		w.logger.Info("fidelity check passed", "session_id", payload.SessionID, "score", score)
	}

	w.recordOnSession(payload.SessionID, score, violations)
	return nil
}

// recordOnSession patches the session checkpoint with the sample. This is
// best-effort: a version race with an in-flight edit just means the sample
// stays in the fidelity_samples table only.
func (w *Worker) recordOnSession(sessionID string, score float64, violations []string) {
	for range 2 {
		rec, err := w.checkpoints.Load(formulate.Namespace, sessionID, formulate.SchemaVer)
		if err != nil {
			if !errors.Is(err, checkpoint.ErrNotFound) {
				w.logger.Warn("loading session for fidelity record", "session_id", sessionID, "error", err)
			}
			return
		}

		var s formulate.Session
		if err := json.Unmarshal(rec.Payload, &s); err != nil {
			w.logger.Warn("decoding session for fidelity record", "session_id", sessionID, "error", err)
			return
		}

		s.Fidelity = &formulate.FidelitySample{Score: score, Violations: violations}
		payload, err := json.Marshal(&s)
		if err != nil {
			w.logger.Warn("encoding session for fidelity record", "session_id", sessionID, "error", err)
			return
		}

		_, err = w.checkpoints.Save(formulate.Namespace, sessionID, formulate.SchemaVer, payload, rec.Version)
		if err == nil {
			return
		}
		if !errors.Is(err, checkpoint.ErrConflict) {
			w.logger.Warn("saving fidelity record on session", "session_id", sessionID, "error", err)
			return
		}
		// Conflict: reload once and retry against the newer version.
	}
}
