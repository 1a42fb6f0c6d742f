package store

import (
	"context"
	"sync"

	"github.com/rBhagat4196/music-party/internal/domain"
)

// Memory is an in-process Store used by tests and single-node deployments.
// Commits are serialized per store; subscribers receive a decoded snapshot
// after every committed change, in commit order, with the latest commit
// always the last delivery.
type Memory struct {
	mu        sync.RWMutex
	docs      map[string]map[string]any
	revisions map[string]int64
	listeners map[string]map[int]func(*domain.Room)
	nextSub   int

	// notifyMu serializes fan-out; delivered tracks the highest revision
	// handed to subscribers per key.
	notifyMu  sync.Mutex
	delivered map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		docs:      make(map[string]map[string]any),
		revisions: make(map[string]int64),
		listeners: make(map[string]map[int]func(*domain.Room)),
		delivered: make(map[string]int64),
	}
}

func (m *Memory) Get(ctx context.Context, key string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeRoom(doc)
}

func (m *Memory) Set(ctx context.Context, key string, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := encodeRoom(room)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.docs[key] = doc
	m.revisions[key]++
	rev := m.revisions[key]
	m.mu.Unlock()

	m.notify(key, rev, room.Clone())
	return nil
}

func (m *Memory) UpdateFields(ctx context.Context, key string, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	doc, ok := m.docs[key]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if err := applyFields(doc, fields); err != nil {
		m.mu.Unlock()
		return err
	}
	m.revisions[key]++
	rev := m.revisions[key]
	room, err := decodeRoom(doc)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.notify(key, rev, room)
	return nil
}

func (m *Memory) RunTransaction(ctx context.Context, key string, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	readRev := m.revisions[key]
	var current *domain.Room
	if doc, ok := m.docs[key]; ok {
		room, err := decodeRoom(doc)
		if err != nil {
			m.mu.RUnlock()
			return err
		}
		current = room
	}
	m.mu.RUnlock()

	result, err := fn(current)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}

	var doc map[string]any
	if !result.Delete {
		if doc, err = encodeRoom(result.Room); err != nil {
			return err
		}
	}

	m.mu.Lock()
	if m.revisions[key] != readRev {
		m.mu.Unlock()
		return ErrTxConflict
	}
	if result.Delete {
		delete(m.docs, key)
	} else {
		m.docs[key] = doc
	}
	m.revisions[key]++
	rev := m.revisions[key]
	m.mu.Unlock()

	if result.Delete {
		m.notify(key, rev, nil)
	} else {
		m.notify(key, rev, result.Room.Clone())
	}
	return nil
}

func (m *Memory) Subscribe(key string, onSnapshot func(*domain.Room)) (func(), error) {
	m.mu.Lock()
	subs, ok := m.listeners[key]
	if !ok {
		subs = make(map[int]func(*domain.Room))
		m.listeners[key] = subs
	}
	id := m.nextSub
	m.nextSub++
	subs[id] = onSnapshot
	m.mu.Unlock()

	unsubscribe := func() {
		m.mu.Lock()
		if subs, ok := m.listeners[key]; ok {
			delete(subs, id)
		}
		m.mu.Unlock()
	}
	return unsubscribe, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.docs[key]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.docs, key)
	m.revisions[key]++
	rev := m.revisions[key]
	m.mu.Unlock()

	m.notify(key, rev, nil)
	return nil
}

// notify fans the committed snapshot out to the key's subscribers. Deliveries
// are serialized and stamped with the commit revision: a writer that loses the
// race to deliver drops its snapshot instead of clobbering a newer one, so the
// last delivery a subscriber sees is always the latest commit. Each subscriber
// gets its own clone so callbacks cannot alias each other.
func (m *Memory) notify(key string, rev int64, room *domain.Room) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	if rev <= m.delivered[key] {
		return
	}
	m.delivered[key] = rev

	m.mu.RLock()
	targets := make([]func(*domain.Room), 0, len(m.listeners[key]))
	for _, fn := range m.listeners[key] {
		targets = append(targets, fn)
	}
	m.mu.RUnlock()

	for _, fn := range targets {
		if room == nil {
			fn(nil)
		} else {
			fn(room.Clone())
		}
	}
}
