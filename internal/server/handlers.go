package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"augustine-rag/internal/config"
	"augustine-rag/internal/models"
	"augustine-rag/internal/rag"
	"augustine-rag/internal/session"
)

type createSessionRequest struct {
	Model string `json:"model"`
}

type selectModelRequest struct {
	Model string `json:"model" validate:"required"`
}

type messageRequest struct {
	Content string `json:"content" validate:"required,max=8000"`
	Stream  bool   `json:"stream"`
}

type sessionView struct {
	ID        string                    `json:"id"`
	Persona   string                    `json:"persona"`
	Model     config.ModelOption        `json:"model"`
	CreatedAt time.Time                 `json:"created_at"`
	History   []models.ConversationTurn `json:"history"`
}

type turnView struct {
	Answer   string           `json:"answer"`
	Model    string           `json:"model"`
	State    rag.State        `json:"state"`
	Passages []models.Passage `json:"passages"`
	Errors   []string         `json:"errors,omitempty"`
}

type namedStore interface {
	Name() string
}

func newSessionView(s *session.Session) sessionView {
	return sessionView{
		ID:        s.ID,
		Persona:   s.Persona,
		Model:     s.Model(),
		CreatedAt: s.CreatedAt,
		History:   s.Visible(),
	}
}

func newTurnView(res rag.TurnResult) turnView {
	v := turnView{
		Answer:   res.Answer,
		Model:    res.Model,
		State:    res.State,
		Passages: res.Passages,
	}
	if v.Passages == nil {
		v.Passages = []models.Passage{}
	}
	for _, e := range res.Errors {
		v.Errors = append(v.Errors, string(e.Kind))
	}
	return v
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

// handleReady runs the store's read-only check.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{"status": "ready"}
	if ns, ok := s.store.(namedStore); ok {
		data["store"] = ns.Name()
	}
	if err := s.store.Ping(r.Context()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Vector store check failed")
		writeError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
		return
	}
	writeOK(w, data)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.models)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeAndValidate(w, r, &req, true) {
		return
	}
	if len(s.models) == 0 {
		writeError(w, http.StatusInternalServerError, "no_models", "no models configured")
		return
	}

	model := s.models[0]
	if req.Model != "" {
		m, ok := findModel(s.models, req.Model)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown_model", fmt.Sprintf("unknown model %q", req.Model))
			return
		}
		model = m
	}

	sess, err := s.sessions.Create(s.persona, model)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	hlog.FromRequest(r).Info().Str("session", sess.ID).Str("model", model.ID).Msg("Session created")
	writeJSON(w, http.StatusCreated, SuccessResponse{Data: newSessionView(sess)})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeOK(w, newSessionView(sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelectModel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req selectModelRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}
	if _, err := sess.SelectModel(s.models, req.Model); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_model", err.Error())
		return
	}
	writeOK(w, newSessionView(sess))
}

// handleMessage runs one turn. With stream set the response is a
// text/event-stream of fragments followed by a "done" event carrying the
// finished turn.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !decodeAndValidate(w, r, &req, false) {
		return
	}

	if !req.Stream {
		res, err := s.pipeline.Turn(r.Context(), sess, req.Content)
		if errors.Is(err, rag.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, "empty_question", err.Error())
			return
		}
		writeOK(w, newTurnView(res))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported")
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	res, err := s.pipeline.TurnStream(r.Context(), sess, req.Content, func(fragment string) error {
		start()
		if err := writeEvent(w, "", map[string]string{"content": fragment}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if errors.Is(err, rag.ErrEmptyQuestion) {
		writeError(w, http.StatusBadRequest, "empty_question", err.Error())
		return
	}

	start()
	if err := writeEvent(w, "done", newTurnView(res)); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to write final event")
		return
	}
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return nil, false
	}
	return sess, true
}

func findModel(options []config.ModelOption, nameOrID string) (config.ModelOption, bool) {
	for _, m := range options {
		if m.Name == nameOrID || m.ID == nameOrID {
			return m, true
		}
	}
	return config.ModelOption{}, false
}
