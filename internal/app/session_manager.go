package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/prophet/internal/archive"
	"github.com/MrWong99/prophet/internal/arena"
	"github.com/MrWong99/prophet/internal/observe"
	"github.com/MrWong99/prophet/internal/persona"
	"github.com/MrWong99/prophet/pkg/types"
)

// ErrNoChat is returned by [SessionManager.Stop] when no chat is running.
var ErrNoChat = errors.New("app: no active chat session")

// SessionInfo holds metadata about the active chat session.
type SessionInfo struct {
	// SessionID is the unique identifier of this session. It doubles as the
	// archive ID of the transcript.
	SessionID string `json:"session_id"`

	PersonaID   string    `json:"persona_id"`
	PersonaName string    `json:"persona_name"`
	StartedAt   time.Time `json:"started_at"`
}

// SessionManager owns the single-persona chat. Only one chat runs at a time:
// talking to a different persona ends the current session and starts a new
// one. All exported methods are safe for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo
	chat   *arena.Chat

	llm     arena.Conversationalist
	voice   arena.Voice
	archive archive.Store
	metrics *observe.Metrics
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	LLM   arena.Conversationalist
	Voice arena.Voice

	// Archive, if set, receives the transcript when a session ends.
	Archive archive.Store

	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		llm:     cfg.LLM,
		voice:   cfg.Voice,
		archive: cfg.Archive,
		metrics: cfg.Metrics,
	}
}

// Start begins a chat with p, ending any active session first.
func (sm *SessionManager) Start(ctx context.Context, p persona.Persona) SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.stopLocked(ctx)
	return sm.startLocked(p)
}

func (sm *SessionManager) startLocked(p persona.Persona) SessionInfo {
	now := time.Now().UTC()
	sm.active = true
	sm.chat = arena.NewChat(sm.llm, sm.voice, p, sm.metrics)
	sm.info = SessionInfo{
		SessionID: fmt.Sprintf("chat-%s-%s-%s",
			sanitizeName(p.Name),
			now.Format("20060102T1504Z"),
			uuid.NewString()[:8],
		),
		PersonaID:   p.ID,
		PersonaName: p.Name,
		StartedAt:   now,
	}
	slog.Info("chat started", "session_id", sm.info.SessionID, "persona", p.Name)
	return sm.info
}

// Send delivers text to p, starting a session with p when none is active or
// the active one talks to somebody else.
func (sm *SessionManager) Send(ctx context.Context, p persona.Persona, text string) (types.Utterance, error) {
	sm.mu.Lock()
	if !sm.active || sm.info.PersonaID != p.ID {
		sm.stopLocked(ctx)
		sm.startLocked(p)
	}
	chat := sm.chat
	sm.mu.Unlock()

	return chat.Send(ctx, text)
}

// Stop ends the active session and archives its transcript.
//
// Returns [ErrNoChat] if no session is active.
func (sm *SessionManager) Stop(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.active {
		return ErrNoChat
	}
	sm.stopLocked(ctx)
	return nil
}

// Interrupt silences the reply being spoken without ending the session.
//
// Returns [ErrNoChat] if no session is active.
func (sm *SessionManager) Interrupt() error {
	sm.mu.Lock()
	chat := sm.chat
	sm.mu.Unlock()
	if chat == nil {
		return ErrNoChat
	}
	chat.Stop()
	return nil
}

func (sm *SessionManager) stopLocked(ctx context.Context) {
	if !sm.active {
		return
	}
	sm.chat.Stop()
	info := sm.info
	lines := sm.chat.Transcript()

	if sm.archive != nil && len(lines) >= 2 {
		conv := archive.Conversation{
			ID:             info.SessionID,
			Subject:        "Chat with " + info.PersonaName,
			ParticipantIDs: []string{info.PersonaID},
			Transcript:     lines,
			CreatedAt:      info.StartedAt,
		}
		if err := sm.archive.Save(context.WithoutCancel(ctx), conv); err != nil {
			slog.Warn("chat: archive transcript failed", "session_id", info.SessionID, "err", err)
		}
	}

	sm.active = false
	sm.chat = nil
	sm.info = SessionInfo{}
	slog.Info("chat stopped", "session_id", info.SessionID, "lines", len(lines))
}

// IsActive reports whether a chat session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns metadata about the active session.
// Returns zero value if no session is active.
func (sm *SessionManager) Info() SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info
}

// Transcript returns the lines of the active session, or nil.
func (sm *SessionManager) Transcript() []types.Utterance {
	sm.mu.Lock()
	chat := sm.chat
	sm.mu.Unlock()
	if chat == nil {
		return nil
	}
	return chat.Transcript()
}

// Wait blocks until the latest reply of the active session has been spoken.
func (sm *SessionManager) Wait(ctx context.Context) error {
	sm.mu.Lock()
	chat := sm.chat
	sm.mu.Unlock()
	if chat == nil {
		return nil
	}
	return chat.Wait(ctx)
}

// sanitizeName replaces spaces with hyphens and lowercases a name
// for use in session IDs.
func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "-")
	if name == "" {
		return "persona"
	}
	return name
}
