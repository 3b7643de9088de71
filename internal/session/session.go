package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"augustine-rag/internal/config"
	"augustine-rag/internal/helper"
	"augustine-rag/internal/models"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrUnknownModel = errors.New("unknown model")
)

// Session is the per-user conversation context. History is append-only and
// always starts with the system instruction.
type Session struct {
	ID        string
	Persona   string
	CreatedAt time.Time

	turnMu sync.Mutex

	mu      sync.RWMutex
	model   config.ModelOption
	history []models.ConversationTurn
}

func New(id, persona, systemPrompt string, model config.ModelOption) *Session {
	return &Session{
		ID:        id,
		Persona:   persona,
		CreatedAt: time.Now(),
		model:     model,
		history:   []models.ConversationTurn{{Role: models.RoleSystem, Content: systemPrompt}},
	}
}

// BeginTurn serialises turns on the session; call the returned func when
// the turn is over.
func (s *Session) BeginTurn() func() {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}

func (s *Session) Model() config.ModelOption {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model
}

// SelectModel replaces the model identifier with the option matching
// nameOrID.
func (s *Session) SelectModel(options []config.ModelOption, nameOrID string) (config.ModelOption, error) {
	for _, m := range options {
		if m.Name == nameOrID || m.ID == nameOrID {
			s.mu.Lock()
			s.model = m
			s.mu.Unlock()
			return m, nil
		}
	}
	return config.ModelOption{}, fmt.Errorf("%w: %s", ErrUnknownModel, nameOrID)
}

func (s *Session) Append(role models.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, models.ConversationTurn{Role: role, Content: content})
}

// History returns a copy of every turn, system instruction included.
func (s *Session) History() []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationTurn, len(s.history))
	copy(out, s.history)
	return out
}

// Visible returns the turns shown to the user.
func (s *Session) Visible() []models.ConversationTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConversationTurn, 0, len(s.history))
	for _, t := range s.history {
		if t.Role != models.RoleSystem {
			out = append(out, t)
		}
	}
	return out
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Registry keeps the live sessions of the HTTP shell in memory.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Create(persona models.Persona, model config.ModelOption) (*Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	s := New(id, persona.Name, persona.SystemPrompt, model)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete ends a session.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
