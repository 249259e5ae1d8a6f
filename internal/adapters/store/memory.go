package store

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/ProximityVoice/internal/core"
	"github.com/dkeye/ProximityVoice/internal/domain"
)

type key struct {
	scope domain.Scope
	conn  core.ConnID
}

// Memory keeps attachments in process. Attachments survive registry
// suspension but not a restart.
type Memory struct {
	mu    sync.RWMutex
	items map[key]core.Attachment
}

func NewMemory() *Memory {
	return &Memory{items: make(map[key]core.Attachment)}
}

func (m *Memory) Put(_ context.Context, a core.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key{a.Scope, a.ConnID}] = clone(a)
	return nil
}

func (m *Memory) Get(_ context.Context, scope domain.Scope, conn core.ConnID) (core.Attachment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.items[key{scope, conn}]
	if !ok {
		return core.Attachment{}, false, nil
	}
	return clone(a), true, nil
}

func (m *Memory) Delete(_ context.Context, scope domain.Scope, conn core.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key{scope, conn})
	return nil
}

func (m *Memory) List(_ context.Context, scope domain.Scope) ([]core.Attachment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Attachment, 0)
	for k, a := range m.items {
		if k.scope == scope {
			out = append(out, clone(a))
		}
	}
	sortAttachments(out)
	return out, nil
}

func (m *Memory) Purge(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.items)
	return nil
}

func clone(a core.Attachment) core.Attachment {
	if a.Path != nil {
		p := *a.Path
		a.Path = &p
	}
	return a
}

func sortAttachments(list []core.Attachment) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ConnectedAt.Equal(list[j].ConnectedAt) {
			return list[i].ConnectedAt.Before(list[j].ConnectedAt)
		}
		return list[i].SessionID < list[j].SessionID
	})
}
