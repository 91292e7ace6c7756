// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package core

import (
	"context"
	"sync"

	"github.com/pdiddy/bot-engine/pkg/types"
)

// memoryStates keeps conversation states in process when no store is
// configured.
type memoryStates struct {
	mu     sync.RWMutex
	states map[string]types.ConversationState
}

func newMemoryStates() *memoryStates {
	return &memoryStates{states: map[string]types.ConversationState{}}
}

func (m *memoryStates) LoadState(_ context.Context, sessionID string) (*types.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[sessionID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *memoryStates) SaveState(_ context.Context, st types.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.SessionID] = st
	return nil
}

func (m *memoryStates) DeleteState(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}
