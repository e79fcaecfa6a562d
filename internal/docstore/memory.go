package docstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/bassista/go_courses/internal/logger"
)

// Op names a store primitive, used to inject failures into the memory store.
type Op string

const (
	OpSubscribe Op = "subscribe"
	OpQuery     Op = "query"
	OpCreate    Op = "create"
	OpUpdate    Op = "update"
	OpDelete    Op = "delete"
)

// MemoryStore keeps collections in memory, in insertion order.
// It is the development backend and the test double for the course cache:
// failures can be injected per primitive and live feeds can be broken on demand.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]Document
	feeds       map[string]map[*feed]struct{}
	failures    map[Op]error
	newID       func() string
	closed      bool
}

type MemoryOption func(*MemoryStore)

// WithIDGenerator replaces the uuid generator used by Create.
func WithIDGenerator(fn func() string) MemoryOption {
	return func(m *MemoryStore) {
		if fn != nil {
			m.newID = fn
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		collections: map[string][]Document{},
		feeds:       map[string]map[*feed]struct{}{},
		failures:    map[Op]error{},
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetFailure makes every call to op fail with err until cleared with a nil err.
func (m *MemoryStore) SetFailure(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Seed appends documents to a collection without going through Create.
func (m *MemoryStore) Seed(collection string, docs ...Document) {
	m.mu.Lock()
	for _, d := range docs {
		fields, err := cloneFields(d.Fields)
		if err != nil {
			logger.WithComponent("memory-store").Warnf("seed %s/%s skipped: %v", collection, d.ID, err)
			continue
		}
		m.collections[collection] = append(m.collections[collection], Document{ID: d.ID, Fields: fields})
	}
	m.mu.Unlock()
	m.notify(collection)
}

// BreakFeeds delivers err to every live subscription on the collection.
func (m *MemoryStore) BreakFeeds(collection string, err error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for f := range m.feeds[collection] {
		f.Fail(err)
	}
}

// SubscriberCount reports the number of open subscriptions on a collection.
func (m *MemoryStore) SubscriberCount(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.feeds[collection])
}

func (m *MemoryStore) Subscribe(ctx context.Context, collection string) (Subscription, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if err := m.check(OpSubscribe); err != nil {
		return nil, err
	}

	// registered before the first listing is loaded, so no write slips between them
	m.mu.Lock()
	f := startFeed(ctx, func(ctx context.Context) ([]Document, error) {
		return m.QueryAll(ctx, collection)
	})
	f.onClose = func() error {
		m.mu.Lock()
		delete(m.feeds[collection], f)
		m.mu.Unlock()
		return nil
	}
	if m.feeds[collection] == nil {
		m.feeds[collection] = map[*feed]struct{}{}
	}
	m.feeds[collection][f] = struct{}{}
	m.mu.Unlock()

	logger.WithComponent("memory-store").Debugf("subscribed to collection %s", collection)
	return f, nil
}

func (m *MemoryStore) QueryAll(_ context.Context, collection string) ([]Document, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if err := m.check(OpQuery); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	docs := make([]Document, 0, len(m.collections[collection]))
	for _, d := range m.collections[collection] {
		fields, err := cloneFields(d.Fields)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: d.ID, Fields: fields})
	}
	return docs, nil
}

func (m *MemoryStore) Create(_ context.Context, collection string, fields map[string]any) (string, error) {
	if err := checkCollection(collection); err != nil {
		return "", err
	}
	if err := m.check(OpCreate); err != nil {
		return "", err
	}
	stored, err := cloneFields(fields)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	id := m.newID()
	m.collections[collection] = append(m.collections[collection], Document{ID: id, Fields: stored})
	m.mu.Unlock()

	logger.WithComponent("memory-store").Debugf("created document %s/%s", collection, id)
	m.notify(collection)
	return id, nil
}

func (m *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	if err := m.check(OpUpdate); err != nil {
		return err
	}
	patch, err := cloneFields(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	docs := m.collections[collection]
	found := false
	for i := range docs {
		if docs[i].ID == id {
			docs[i].Fields = mergeFields(docs[i].Fields, patch)
			found = true
			break
		}
	}
	m.mu.Unlock()

	if !found {
		return notFound(collection, id)
	}
	m.notify(collection)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	if err := checkRef(collection, id); err != nil {
		return err
	}
	if err := m.check(OpDelete); err != nil {
		return err
	}

	m.mu.Lock()
	docs := m.collections[collection]
	kept := docs[:0]
	for _, d := range docs {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	m.collections[collection] = kept
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

// Close ends every open subscription and rejects further calls.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var open []*feed
	for _, set := range m.feeds {
		for f := range set {
			open = append(open, f)
		}
	}
	m.mu.Unlock()

	for _, f := range open {
		_ = f.Close()
	}
	return nil
}

func (m *MemoryStore) check(op Op) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("memory store is closed: %w", errdefs.ErrUnavailable)
	}
	return m.failures[op]
}

func (m *MemoryStore) notify(collection string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for f := range m.feeds[collection] {
		f.Notify()
	}
}
