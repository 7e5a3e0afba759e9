package formulate

import (
	"errors"
	"time"
)

// Namespace is the checkpoint namespace owned by the answer-formulation
// workflow. Keys are session ids.
const Namespace = "formulation"

// SchemaVer identifies the Session payload layout.
const SchemaVer = 1

// Transcript word-count bounds enforced at session start.
const (
	MinTranscriptWords = 5
	MaxTranscriptWords = 2000
)

// Status is the formulation state machine position.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRefining     Status = "refining"
	StatusRefined      Status = "refined"
	StatusEditing      Status = "editing"
	StatusFinalized    Status = "finalized"
	StatusError        Status = "error"
)

// Distinct validation failures; both are safe to report verbatim.
var (
	ErrTranscriptTooShort = errors.New("transcript too short (minimum 5 words)")
	ErrTranscriptTooLong  = errors.New("transcript too long (maximum 2000 words)")
)

// ErrFinalized is returned when an edit targets a finalized session.
var ErrFinalized = errors.New("session is finalized; start a new session for further changes")

// EditNotApplicableError is the non-fatal result of an edit command that
// cannot be resolved against the current refined text. The session stays in
// the refined state and the command can be retried.
type EditNotApplicableError struct {
	Reason string
}

func (e *EditNotApplicableError) Error() string {
	return "edit not applicable: " + e.Reason
}

// EditRecord is one applied edit command.
type EditRecord struct {
	Command   string    `json:"command"`
	Before    string    `json:"before"`
	After     string    `json:"after"`
	Timestamp time.Time `json:"timestamp"`
}

// FidelitySample is the recorded outcome of an offline fidelity check.
type FidelitySample struct {
	Score      float64  `json:"score"`
	Violations []string `json:"violations"`
}

// Session is the durable formulation state. OriginalTranscript is set
// exactly once at session start and never mutated afterwards; every fidelity
// check reads it as ground truth.
type Session struct {
	SessionID          string          `json:"session_id"`
	OwnerID            string          `json:"owner_id"`
	PromptText         string          `json:"prompt_text,omitempty"`
	OriginalTranscript string          `json:"original_transcript"`
	RefinedText        string          `json:"refined_text,omitempty"`
	EditLog            []EditRecord    `json:"edit_log,omitempty"`
	IterationCount     int             `json:"iteration_count"`
	Fidelity           *FidelitySample `json:"fidelity_sample,omitempty"`
	Status             Status          `json:"status"`
	ErrorReason        string          `json:"error_reason,omitempty"`
}

// Sampler schedules an out-of-band fidelity check for a refinement or edit
// completion. Implementations must never block or fail the caller.
type Sampler interface {
	MaybeSample(sessionID, original, refined string)
}

// NopSampler is a Sampler that never samples.
type NopSampler struct{}

func (NopSampler) MaybeSample(sessionID, original, refined string) {}
