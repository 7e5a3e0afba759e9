// Package formulate implements the dictation-to-answer refinement workflow:
// an original transcript is refined into clear written text, then iterated
// through natural-language edit commands until finalized. The fidelity
// contract (no content beyond the original transcript) is enforced through
// the prompts and observed by an out-of-band sampler that never touches the
// request path.
package formulate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avercamp/lectern/internal/checkpoint"
	"github.com/avercamp/lectern/internal/gateway"
)

const (
	defaultCallTimeout = 60 * time.Second
	refineTemperature  = 0.3
	editTemperature    = 0.2

	notApplicablePrefix = "EDIT_NOT_APPLICABLE:"
)

// Machine runs formulation sessions. It owns the whole session lifecycle;
// the supervisor is not involved.
type Machine struct {
	checkpoints checkpoint.Store
	chatter     gateway.Chatter
	sampler     Sampler
	timeout     time.Duration
	logger      *slog.Logger
}

// NewMachine creates a formulation machine. A nil sampler disables fidelity
// sampling; callTimeout <= 0 uses the default.
func NewMachine(checkpoints checkpoint.Store, chatter gateway.Chatter, sampler Sampler, callTimeout time.Duration) *Machine {
	if sampler == nil {
		sampler = NopSampler{}
	}
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Machine{
		checkpoints: checkpoints,
		chatter:     chatter,
		sampler:     sampler,
		timeout:     callTimeout,
		logger:      slog.Default(),
	}
}

// StartSession validates the transcript, refines it, and returns the new
// session with its first refined text.
func (m *Machine) StartSession(ctx context.Context, ownerID, promptText, transcript string) (*Session, error) {
	transcript = strings.TrimSpace(transcript)
	if err := validateTranscript(transcript); err != nil {
		return nil, err
	}

	s := &Session{
		SessionID:          uuid.New().String(),
		OwnerID:            ownerID,
		PromptText:         promptText,
		OriginalTranscript: transcript,
		Status:             StatusRefining,
	}

	version, err := m.save(s, 0)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	refined, err := m.chatter.Chat(callCtx, buildRefinePrompt(promptText, transcript), refineTemperature, nil)
	cancel()
	if err != nil {
		return nil, m.fail(s, version, fmt.Errorf("refining transcript: %w", err))
	}

	s.RefinedText = strings.TrimSpace(refined)
	s.IterationCount = 1
	s.Status = StatusRefined
	if _, err := m.save(s, version); err != nil {
		return nil, err
	}

	m.sample(s)
	return s, nil
}

// SubmitEdit applies one edit command against the current refined text. An
// unresolvable command returns *EditNotApplicableError and leaves the
// session refined and retryable.
func (m *Machine) SubmitEdit(ctx context.Context, sessionID, command string) (*Session, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, &EditNotApplicableError{Reason: "empty edit command"}
	}

	s, version, err := m.load(sessionID)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case StatusFinalized:
		return nil, ErrFinalized
	case StatusRefined:
		// proceed
	default:
		return nil, fmt.Errorf("session %s is %s, cannot accept edits", sessionID, s.Status)
	}

	s.Status = StatusEditing
	version, err = m.save(s, version)
	if err != nil {
		return nil, err
	}

	before := s.RefinedText
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	raw, err := m.chatter.Chat(callCtx, buildEditPrompt(before, command), editTemperature, nil)
	cancel()

	if err != nil {
		// The edit is retryable: restore the refined state before reporting.
		s.Status = StatusRefined
		if _, saveErr := m.save(s, version); saveErr != nil {
			m.logger.Error("restoring session after failed edit", "session_id", sessionID, "error", saveErr)
		}
		return nil, fmt.Errorf("applying edit: %w", err)
	}

	updated := strings.TrimSpace(raw)
	if reason, notApplicable := strings.CutPrefix(updated, notApplicablePrefix); notApplicable {
		s.Status = StatusRefined
		if _, saveErr := m.save(s, version); saveErr != nil {
			return nil, saveErr
		}
		return nil, &EditNotApplicableError{Reason: strings.TrimSpace(reason)}
	}

	s.EditLog = append(s.EditLog, EditRecord{
		Command:   command,
		Before:    before,
		After:     updated,
		Timestamp: time.Now().UTC(),
	})
	s.RefinedText = updated
	s.IterationCount++
	s.Status = StatusRefined
	if _, err := m.save(s, version); err != nil {
		return nil, err
	}

	m.sample(s)
	return s, nil
}

// Finalize marks the session terminal. Finalizing an already-finalized
// session is a no-op.
func (m *Machine) Finalize(sessionID string) (*Session, error) {
	s, version, err := m.load(sessionID)
	if err != nil {
		return nil, err
	}

	if s.Status == StatusFinalized {
		return s, nil
	}
	if s.Status != StatusRefined {
		return nil, fmt.Errorf("session %s is %s, cannot finalize", sessionID, s.Status)
	}

	s.Status = StatusFinalized
	if _, err := m.save(s, version); err != nil {
		return nil, err
	}
	return s, nil
}

// Get loads a session without mutating it.
func (m *Machine) Get(sessionID string) (*Session, error) {
	s, _, err := m.load(sessionID)
	return s, err
}

// sample hands the refinement outcome to the sampler. Sampler failures must
// never reach the caller, so any panic is swallowed and logged.
func (m *Machine) sample(s *Session) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("fidelity sampler panicked", "session_id", s.SessionID, "panic", r)
		}
	}()
	m.sampler.MaybeSample(s.SessionID, s.OriginalTranscript, s.RefinedText)
}

func (m *Machine) load(sessionID string) (*Session, int64, error) {
	rec, err := m.checkpoints.Load(Namespace, sessionID, SchemaVer)
	if err != nil {
		return nil, 0, fmt.Errorf("loading formulation session %s: %w", sessionID, err)
	}
	var s Session
	if err := json.Unmarshal(rec.Payload, &s); err != nil {
		return nil, 0, fmt.Errorf("decoding formulation session %s: %w", sessionID, err)
	}
	if s.Status == StatusEditing {
		// A crash interrupted an edit after the pre-call checkpoint. The edit
		// never completed and refined_text is unchanged, so the session
		// resumes from where the edit began.
		s.Status = StatusRefined
	}
	return &s, rec.Version, nil
}

func (m *Machine) save(s *Session, expectedVersion int64) (int64, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("encoding formulation session %s: %w", s.SessionID, err)
	}
	version, err := m.checkpoints.Save(Namespace, s.SessionID, SchemaVer, payload, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("saving formulation session %s: %w", s.SessionID, err)
	}
	return version, nil
}

func (m *Machine) fail(s *Session, version int64, cause error) error {
	s.Status = StatusError
	s.ErrorReason = cause.Error()
	if _, err := m.save(s, version); err != nil {
		m.logger.Error("saving formulation error state", "session_id", s.SessionID, "error", err)
	}
	return cause
}

func validateTranscript(transcript string) error {
	words := len(strings.Fields(transcript))
	if words < MinTranscriptWords {
		return ErrTranscriptTooShort
	}
	if words > MaxTranscriptWords {
		return ErrTranscriptTooLong
	}
	return nil
}
