// Package api exposes the orchestration engine over HTTP and MCP. The HTTP
// surface is a small JSON API: conversation turns, formulation sessions, and
// document management, all bearer-authenticated.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avercamp/lectern/internal/checkpoint"
	"github.com/avercamp/lectern/internal/formulate"
	"github.com/avercamp/lectern/internal/storage"
	"github.com/avercamp/lectern/internal/supervisor"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnHandler is the supervisor surface the API dispatches turns to.
type TurnHandler interface {
	HandleTurn(ctx context.Context, threadID, ownerID, input string) (*supervisor.Response, error)
}

// FormulationService is the answer-formulation workflow surface.
type FormulationService interface {
	StartSession(ctx context.Context, ownerID, promptText, transcript string) (*formulate.Session, error)
	SubmitEdit(ctx context.Context, sessionID, command string) (*formulate.Session, error)
	Finalize(sessionID string) (*formulate.Session, error)
	Get(sessionID string) (*formulate.Session, error)
}

// DocumentStore is the storage surface for document and sample endpoints.
type DocumentStore interface {
	SaveDocument(doc storage.Document) error
	GetDocument(id, ownerID string) (storage.Document, error)
	ListDocuments(ownerID string, limit int) ([]storage.Document, error)
	ListFidelitySamples(sessionID string, limit int) ([]storage.FidelitySample, error)
}

type AppDeps struct {
	Turns       TurnHandler
	Formulation FormulationService
	Store       DocumentStore
	Token       string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/threads/{threadID}/turns", handleTurn(deps))

		r.Post("/v1/formulation/sessions", handleStartFormulation(deps))
		r.Get("/v1/formulation/sessions/{id}", handleGetFormulation(deps))
		r.Post("/v1/formulation/sessions/{id}/edits", handleFormulationEdit(deps))
		r.Post("/v1/formulation/sessions/{id}/finalize", handleFinalizeFormulation(deps))
		r.Get("/v1/formulation/sessions/{id}/samples", handleListSamples(deps))

		r.Post("/v1/documents", handleCreateDocument(deps))
		r.Get("/v1/documents", handleListDocuments(deps))
		r.Get("/v1/documents/{id}", handleGetDocument(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type turnRequest struct {
	OwnerID string `json:"owner_id"`
	Message string `json:"message"`
}

func handleTurn(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		threadID := chi.URLParam(r, "threadID")

		var req turnRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		resp, err := deps.Turns.HandleTurn(r.Context(), threadID, req.OwnerID, req.Message)
		if errors.Is(err, supervisor.ErrThreadBusy) {
			httpError(w, http.StatusConflict, "conflict_error", "another turn is in flight for this thread; retry shortly")
			return
		}
		if errors.Is(err, checkpoint.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "thread not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to handle turn: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

type startFormulationRequest struct {
	OwnerID    string `json:"owner_id"`
	PromptText string `json:"prompt_text"`
	Transcript string `json:"transcript"`
}

func handleStartFormulation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req startFormulationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		s, err := deps.Formulation.StartSession(r.Context(), req.OwnerID, req.PromptText, req.Transcript)
		if errors.Is(err, formulate.ErrTranscriptTooShort) || errors.Is(err, formulate.ErrTranscriptTooLong) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "refinement failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(s)
	}
}

func handleGetFormulation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Formulation.Get(chi.URLParam(r, "id"))
		if errors.Is(err, checkpoint.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)
	}
}

type editRequest struct {
	Command string `json:"command"`
}

// editResponse wraps the session so the caller can tell an applied edit from
// one the model declined without inspecting the edit log.
type editResponse struct {
	Applied bool               `json:"applied"`
	Reason  string             `json:"reason,omitempty"`
	Session *formulate.Session `json:"session"`
}

func handleFormulationEdit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		sessionID := chi.URLParam(r, "id")

		var req editRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		s, err := deps.Formulation.SubmitEdit(r.Context(), sessionID, req.Command)
		var notApplicable *formulate.EditNotApplicableError
		switch {
		case errors.As(err, &notApplicable):
			current, getErr := deps.Formulation.Get(sessionID)
			if getErr != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load session: %v", getErr)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(editResponse{Applied: false, Reason: notApplicable.Reason, Session: current})
			return
		case errors.Is(err, formulate.ErrFinalized):
			httpError(w, http.StatusConflict, "conflict_error", "%v", err)
			return
		case errors.Is(err, checkpoint.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		case err != nil:
			httpError(w, http.StatusBadGateway, "api_error", "edit failed: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(editResponse{Applied: true, Session: s})
	}
}

func handleFinalizeFormulation(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Formulation.Finalize(chi.URLParam(r, "id"))
		if errors.Is(err, checkpoint.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to finalize session: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)
	}
}

func handleListSamples(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		samples, err := deps.Store.ListFidelitySamples(chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list samples: %v", err)
			return
		}
		if samples == nil {
			samples = []storage.FidelitySample{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(samples)
	}
}

type createDocumentRequest struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

func handleCreateDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req createDocumentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		doc := storage.Document{
			ID:        uuid.New().String(),
			OwnerID:   req.OwnerID,
			Title:     req.Title,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": doc.ID})
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		docs, err := deps.Store.ListDocuments(ownerID, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(docs)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.URL.Query().Get("owner_id")
		if ownerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}

		doc, err := deps.Store.GetDocument(chi.URLParam(r, "id"), ownerID)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(doc)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
