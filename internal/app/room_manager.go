package app

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
	"github.com/dkeye/ProximityVoice/internal/metrics"
)

type ScopeInfo struct {
	Scope       domain.Scope `json:"scope"`
	Connections int          `json:"connections"`
	Loaded      bool         `json:"loaded"`
	LastActive  time.Time    `json:"lastActive"`
}

type scopeState struct {
	reg        *Registry
	conns      map[core.ConnID]core.SignalConnection
	lastActive time.Time
}

// ScopeManager owns one Registry per scope. Live connections are tracked
// apart from the registry so a suspended registry can be rebuilt for them.
type ScopeManager struct {
	mu     sync.RWMutex
	store  core.AttachmentStore
	policy Policy
	scopes map[domain.Scope]*scopeState
	now    func() time.Time
}

func NewScopeManager(store core.AttachmentStore, policy Policy) *ScopeManager {
	return &ScopeManager{
		store:  store,
		policy: policy,
		scopes: make(map[domain.Scope]*scopeState),
		now:    time.Now,
	}
}

// Attach records a live connection for scope.
func (m *ScopeManager) Attach(scope domain.Scope, conn core.SignalConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked(scope)
	st.conns[conn.ID()] = conn
	st.lastActive = m.now()
}

// Detach forgets a closed connection. A scope with no connections left is dropped.
func (m *ScopeManager) Detach(scope domain.Scope, conn core.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.scopes[scope]
	if !ok {
		return
	}
	delete(st.conns, conn)
	st.lastActive = m.now()
	if len(st.conns) == 0 && (st.reg == nil || st.reg.Len() == 0) {
		delete(m.scopes, scope)
		log.Info().Str("module", "app.scopes").Str("scope", string(scope)).Msg("scope closed")
	}
}

// GetOrCreate returns the registry for scope, rehydrating it from the
// attachment store when it was suspended.
func (m *ScopeManager) GetOrCreate(ctx context.Context, scope domain.Scope) (*Registry, error) {
	m.mu.RLock()
	st, ok := m.scopes[scope]
	if ok && st.reg != nil {
		reg := st.reg
		m.mu.RUnlock()
		m.touch(scope)
		return reg, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	st = m.stateLocked(scope)
	st.lastActive = m.now()
	if st.reg != nil {
		return st.reg, nil
	}

	reg := NewRegistry(scope, m.store, m.policy)
	if len(st.conns) > 0 {
		conns := make([]core.SignalConnection, 0, len(st.conns))
		for _, c := range st.conns {
			conns = append(conns, c)
		}
		if _, err := reg.Rehydrate(ctx, conns); err != nil {
			return nil, err
		}
	}
	st.reg = reg
	return reg, nil
}

// Lookup returns the loaded registry for scope without creating one.
func (m *ScopeManager) Lookup(scope domain.Scope) (*Registry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.scopes[scope]
	if !ok || st.reg == nil {
		return nil, false
	}
	return st.reg, true
}

// Suspend drops the in-memory registry of scope and keeps its connections.
func (m *ScopeManager) Suspend(scope domain.Scope) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.scopes[scope]
	if !ok || st.reg == nil {
		return false
	}
	// rehydration counts the restored sessions again
	metrics.Connections.WithLabelValues(string(scope)).Sub(float64(st.reg.Len()))
	st.reg = nil
	log.Info().Str("module", "app.scopes").Str("scope", string(scope)).Int("conns", len(st.conns)).Msg("scope suspended")
	return true
}

// SuspendIdle suspends every loaded registry untouched for longer than after.
func (m *ScopeManager) SuspendIdle(after time.Duration) int {
	cutoff := m.now().Add(-after)
	var idle []domain.Scope
	m.mu.RLock()
	for scope, st := range m.scopes {
		if st.reg != nil && st.lastActive.Before(cutoff) {
			idle = append(idle, scope)
		}
	}
	m.mu.RUnlock()

	n := 0
	for _, scope := range idle {
		if m.Suspend(scope) {
			n++
		}
	}
	return n
}

// RunSuspender suspends idle registries until ctx is done.
func (m *ScopeManager) RunSuspender(ctx context.Context, after time.Duration) {
	if after <= 0 {
		return
	}
	ticker := time.NewTicker(after / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.SuspendIdle(after); n > 0 {
				log.Debug().Str("module", "app.scopes").Int("suspended", n).Msg("idle sweep")
			}
		}
	}
}

func (m *ScopeManager) List() []ScopeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ScopeInfo, 0, len(m.scopes))
	for scope, st := range m.scopes {
		out = append(out, ScopeInfo{
			Scope:       scope,
			Connections: len(st.conns),
			Loaded:      st.reg != nil,
			LastActive:  st.lastActive,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

func (m *ScopeManager) touch(scope domain.Scope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.scopes[scope]; ok {
		st.lastActive = m.now()
	}
}

func (m *ScopeManager) stateLocked(scope domain.Scope) *scopeState {
	st, ok := m.scopes[scope]
	if !ok {
		st = &scopeState{conns: make(map[core.ConnID]core.SignalConnection)}
		m.scopes[scope] = st
	}
	return st
}

// CloseAll closes every live connection of every scope.
func (m *ScopeManager) CloseAll() int {
	m.mu.RLock()
	var conns []core.SignalConnection
	for _, st := range m.scopes {
		for _, c := range st.conns {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}
