package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/prophet/internal/app"
	"github.com/MrWong99/prophet/internal/archive"
	"github.com/MrWong99/prophet/internal/arena"
	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/apierr"
	"github.com/MrWong99/prophet/pkg/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// defaultArchiveLimit is used when GET /v1/archive carries no limit.
const defaultArchiveLimit = 20

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type personaRequest struct {
	Name        string            `json:"name"`
	Instruction string            `json:"instruction"`
	VoiceID     string            `json:"voice_id"`
	Icon        string            `json:"icon,omitempty"`
	Speed       float64           `json:"speed,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type arenaStartRequest struct {
	PersonaA string `json:"persona_a"`
	PersonaB string `json:"persona_b"`
	Topic    string `json:"topic"`
}

type chatRequest struct {
	Persona string `json:"persona"`
	Text    string `json:"text"`
}

type chatResponse struct {
	Reply   types.Utterance `json:"reply"`
	Session app.SessionInfo `json:"session"`
}

type chatInfoResponse struct {
	Active     bool              `json:"active"`
	Playing    bool              `json:"playing"`
	Session    app.SessionInfo   `json:"session"`
	Transcript []types.Utterance `json:"transcript"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ─────────────────────────────────────────────
// Personas
// ─────────────────────────────────────────────

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Personas().List(r.Context())
	if err != nil {
		internalError(w, r, err)
		return
	}
	if list == nil {
		list = []persona.Persona{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := s.lookupPersona(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := req.persona()
	if p.Icon == "" {
		p.Icon = persona.IconFor(p.Name)
	}
	if err := s.svc.Personas().Create(r.Context(), &p); err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleUpdatePersona(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupPersona(w, r)
	if !ok {
		return
	}
	var req personaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p := req.persona()
	p.ID = existing.ID
	if err := s.svc.Personas().Update(r.Context(), &p); err != nil {
		storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePersona(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Personas().Delete(r.Context(), r.PathValue("id")); err != nil {
		internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// lookupPersona loads the persona named by the {id} path value, writing a 404
// when it does not exist.
func (s *Server) lookupPersona(w http.ResponseWriter, r *http.Request) (*persona.Persona, bool) {
	id := r.PathValue("id")
	p, err := s.svc.Personas().Get(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return nil, false
	}
	if p == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("persona %q not found", id))
		return nil, false
	}
	return p, true
}

func (req personaRequest) persona() persona.Persona {
	return persona.Persona{
		Name:        strings.TrimSpace(req.Name),
		Instruction: req.Instruction,
		VoiceID:     strings.TrimSpace(req.VoiceID),
		Icon:        req.Icon,
		Speed:       req.Speed,
		Metadata:    req.Metadata,
	}
}

// ─────────────────────────────────────────────
// Voices
// ─────────────────────────────────────────────

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.svc.Voices(r.Context())
	if err != nil {
		providerError(w, r, err)
		return
	}
	if voices == nil {
		voices = []types.VoiceProfile{}
	}
	writeJSON(w, http.StatusOK, voices)
}

// ─────────────────────────────────────────────
// Arena
// ─────────────────────────────────────────────

func (s *Server) handleArena(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Arena().Snapshot())
}

func (s *Server) handleArenaStart(w http.ResponseWriter, r *http.Request) {
	var req arenaStartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.svc.StartArena(r.Context(), req.PersonaA, req.PersonaB, req.Topic); err != nil {
		conversationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.svc.Arena().Snapshot())
}

func (s *Server) handleArenaStop(w http.ResponseWriter, _ *http.Request) {
	s.svc.Arena().Stop()
	writeJSON(w, http.StatusOK, s.svc.Arena().Snapshot())
}

func (s *Server) handleArenaReset(w http.ResponseWriter, _ *http.Request) {
	s.svc.Arena().Reset()
	writeJSON(w, http.StatusOK, s.svc.Arena().Snapshot())
}

func (s *Server) handleArenaRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RestartArena(r.Context()); err != nil {
		conversationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.svc.Arena().Snapshot())
}

func (s *Server) handleArenaClearError(w http.ResponseWriter, _ *http.Request) {
	s.svc.Arena().ClearError()
	w.WriteHeader(http.StatusNoContent)
}

// ─────────────────────────────────────────────
// Chat
// ─────────────────────────────────────────────

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reply, err := s.svc.Chat(r.Context(), req.Persona, req.Text)
	if err != nil {
		conversationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply, Session: s.svc.Chats().Info()})
}

func (s *Server) handleChatInfo(w http.ResponseWriter, _ *http.Request) {
	chats := s.svc.Chats()
	resp := chatInfoResponse{
		Active:     chats.IsActive(),
		Playing:    s.svc.Playing(),
		Session:    chats.Info(),
		Transcript: chats.Transcript(),
	}
	if resp.Transcript == nil {
		resp.Transcript = []types.Utterance{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Chats().Stop(r.Context()); err != nil {
		conversationError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Chats().Interrupt(); err != nil {
		conversationError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─────────────────────────────────────────────
// Archive
// ─────────────────────────────────────────────

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	convs, err := s.svc.Archive().List(r.Context(), limit)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if convs == nil {
		convs = []archive.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// ─────────────────────────────────────────────
// HTTP Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := sonic.Unmarshal(data, v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// storeError maps persona store failures to status codes.
func storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, persona.ErrInvalid), errors.Is(err, persona.ErrDuplicate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, persona.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		internalError(w, r, err)
	}
}

// providerError reports a failed provider call with its user-facing message.
func providerError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	switch {
	case apierr.IsCancellation(err):
		status = 499
	case errors.Is(err, apierr.ErrMissingCredential):
		status = http.StatusServiceUnavailable
	}
	observe.Logger(r.Context()).Warn("provider call failed", "path", r.URL.Path, "err", err)
	writeError(w, status, apierr.UserMessage(err))
}

// conversationError maps arena, chat and lookup errors to status codes.
func conversationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrPersonaNotFound), errors.Is(err, app.ErrNoChat):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, arena.ErrEmptyTopic),
		errors.Is(err, arena.ErrPersonasNotSet),
		errors.Is(err, arena.ErrSamePersona),
		errors.Is(err, arena.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, arena.ErrNoTopic), errors.Is(err, arena.ErrActive):
		writeError(w, http.StatusConflict, err.Error())
	default:
		providerError(w, r, err)
	}
}
