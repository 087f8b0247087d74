package store

import (
	"context"
	"sort"
	"sync"
)

type slot[T any] struct {
	id   string
	seq  uint64
	val  T
	live bool
}

// Memory keeps values in a slot arena with an id index and a free list, so
// deletes do not shift other entries.
type Memory[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	index map[string]int
	free  []int
	seq   uint64
}

func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{index: make(map[string]int)}
}

func (m *Memory[T]) Get(_ context.Context, id string) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.index[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return m.slots[i].val, nil
}

func (m *Memory[T]) Insert(_ context.Context, id string, v T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[id]; ok {
		return ErrExists
	}
	m.seq++
	s := slot[T]{id: id, seq: m.seq, val: v, live: true}
	if n := len(m.free); n > 0 {
		i := m.free[n-1]
		m.free = m.free[:n-1]
		m.slots[i] = s
		m.index[id] = i
		return nil
	}
	m.slots = append(m.slots, s)
	m.index[id] = len(m.slots) - 1
	return nil
}

func (m *Memory[T]) Update(_ context.Context, id string, fn func(*T) error) (T, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	v := m.slots[i].val
	if err := fn(&v); err != nil {
		var zero T
		return zero, err
	}
	m.slots[i].val = v
	return v, nil
}

func (m *Memory[T]) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.index, id)
	m.slots[i] = slot[T]{}
	m.free = append(m.free, i)
	return nil
}

func (m *Memory[T]) List(_ context.Context, keep func(T) bool) ([]T, error) {
	m.mu.RLock()
	live := make([]slot[T], 0, len(m.index))
	for _, s := range m.slots {
		if s.live && (keep == nil || keep(s.val)) {
			live = append(live, s)
		}
	}
	m.mu.RUnlock()

	// reused slots break arena order; seq restores insertion order
	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	out := make([]T, len(live))
	for i, s := range live {
		out[i] = s.val
	}
	return out, nil
}

func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index)
}
