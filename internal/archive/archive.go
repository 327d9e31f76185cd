// Package archive persists finished conversations: the subject, the
// participating personas and the full transcript.
package archive

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/prophet/pkg/types"
)

// Conversation is one archived arena or chat session.
type Conversation struct {
	ID             string            `json:"id"`
	Subject        string            `json:"subject"`
	ParticipantIDs []string          `json:"participant_ids"`
	Transcript     []types.Utterance `json:"transcript"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Store saves and lists archived conversations.
type Store interface {
	Save(ctx context.Context, c Conversation) error

	// List returns the most recent conversations first, at most limit of
	// them. A non-positive limit returns all.
	List(ctx context.Context, limit int) ([]Conversation, error)
}

// MemStore keeps conversations in memory. The zero value is ready to use.
type MemStore struct {
	mu    sync.Mutex
	convs []Conversation
}

var _ Store = (*MemStore)(nil)

// Save implements [Store]. Saving an ID twice replaces the earlier entry.
func (s *MemStore) Save(_ context.Context, c Conversation) error {
	c.Transcript = slices.Clone(c.Transcript)
	c.ParticipantIDs = slices.Clone(c.ParticipantIDs)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.convs {
		if s.convs[i].ID == c.ID {
			s.convs[i] = c
			return nil
		}
	}
	s.convs = append(s.convs, c)
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, limit int) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.convs))
	for i := len(s.convs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, s.convs[i])
	}
	return out, nil
}
