package repository

import (
	"context"
	"errors"
	"strings"
	"sync"

	"sdr-agent/internal/domain"
)

// MemoryStore keeps conversations in process memory. Nothing expires.
type MemoryStore struct {
	mu       sync.Mutex
	opts     options
	records  map[string]record
	messages map[string][]domain.Turn
}

func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:     newOptions(opts),
		records:  make(map[string]record),
		messages: make(map[string][]domain.Turn),
	}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return r.conversation(), nil
}

func (s *MemoryStore) Save(_ context.Context, conv *domain.Conversation) error {
	if conv == nil || strings.TrimSpace(conv.ID) == "" {
		return errors.New("repository: conversation id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := toRecord(conv)
	r.UpdatedAt = s.opts.now().UTC()
	s.records[conv.ID] = r
	return nil
}

func (s *MemoryStore) SaveFacts(_ context.Context, id string, delta domain.Facts) error {
	return s.update(id, func(r *record) { r.Facts.Merge(delta) })
}

func (s *MemoryStore) SaveScore(_ context.Context, id string, score int, breakdown domain.BANTScore) error {
	return s.update(id, func(r *record) {
		r.Score = score
		r.Breakdown = breakdown
	})
}

func (s *MemoryStore) SaveState(_ context.Context, id string, state domain.State) error {
	return s.update(id, func(r *record) { r.State = state })
}

func (s *MemoryStore) AppendMessage(_ context.Context, id string, direction domain.Direction, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.messages[id], domain.Turn{Direction: direction, Text: text, At: s.opts.now().UTC()})
	if len(msgs) > s.opts.maxMessages {
		msgs = msgs[len(msgs)-s.opts.maxMessages:]
	}
	s.messages[id] = msgs
	return nil
}

func (s *MemoryStore) History(_ context.Context, id string, limit int) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lastN(s.messages[id], limit), nil
}

func (s *MemoryStore) update(id string, fn func(*record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return domain.ErrConversationNotFound
	}
	r.Facts = r.Facts.Clone()
	fn(&r)
	r.UpdatedAt = s.opts.now().UTC()
	s.records[id] = r
	return nil
}
