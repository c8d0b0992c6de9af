package signalling

import (
	"context"
	"fmt"
	"sync"

	"github.com/pintubhai440/fileshare/pkg/utils"
)

type memorySession struct {
	offer    string
	answer   string
	answered chan struct{}
}

// MemoryStore keeps sessions in process memory. Both peers must share it.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (m *MemoryStore) CreateSession(ctx context.Context, offer string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		code, err := utils.GenerateCode(utils.CodeLength)
		if err != nil {
			return "", fmt.Errorf("error generating session code: %w", err)
		}
		if _, taken := m.sessions[code]; !taken {
			m.sessions[code] = &memorySession{offer: offer, answered: make(chan struct{})}
			return code, nil
		}
	}
}

func (m *MemoryStore) GetOffer(ctx context.Context, code string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, code)
	}
	return s.offer, nil
}

func (m *MemoryStore) PublishAnswer(ctx context.Context, code, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[code]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, code)
	}
	if s.answer != "" {
		return fmt.Errorf("session %s already answered", code)
	}
	s.answer = answer
	close(s.answered)
	return nil
}

func (m *MemoryStore) WaitForAnswer(ctx context.Context, code string) (string, error) {
	m.mu.Lock()
	s, ok := m.sessions[code]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, code)
	}

	select {
	case <-s.answered:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return s.answer, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, code)
	return nil
}
