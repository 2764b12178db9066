package feed

import (
	"context"
	"encoding/json"
	"maps"
	"sync"

	"github.com/arqiarkaan/enviro-dashboard/internal/errors"
)

// UpdateRecord is one partial update received by a Memory feed
type UpdateRecord struct {
	Doc   Document
	Patch map[string]any
}

// Memory is an in-process Feed. Subscribers receive the current snapshot
// on subscribe and after every change, synchronously on the caller's
// goroutine.
type Memory struct {
	mu          sync.Mutex
	docs        map[Document][]byte
	subs        map[Document]map[uint64]Handler
	historySubs map[uint64]HistoryHandler
	updates     []UpdateRecord
	nextID      uint64
	closed      bool
	failUpdates error
}

func NewMemory() *Memory {
	return &Memory{
		docs:        make(map[Document][]byte),
		subs:        make(map[Document]map[uint64]Handler),
		historySubs: make(map[uint64]HistoryHandler),
	}
}

func (m *Memory) Subscribe(doc Document, h Handler) (Unsubscribe, error) {
	errFactory := errors.New()

	if !doc.Valid() {
		return nil, errFactory.WithData(ErrUnknownDocument, doc)
	}
	if h == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidArgument, "nil handler")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errFactory.New(ErrClosed)
	}
	id := m.nextID
	m.nextID++
	if m.subs[doc] == nil {
		m.subs[doc] = make(map[uint64]Handler)
	}
	m.subs[doc][id] = h
	current := m.docs[doc]
	m.mu.Unlock()

	h(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[doc], id)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Memory) SubscribeHistory(h HistoryHandler) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New().New(ErrClosed)
	}
	id := m.nextID
	m.nextID++
	m.historySubs[id] = h

	return func() {
		m.mu.Lock()
		delete(m.historySubs, id)
		m.mu.Unlock()
	}, nil
}

// Update merges patch into the stored document, creating it when absent
func (m *Memory) Update(ctx context.Context, doc Document, patch map[string]any) error {
	errFactory := errors.New()

	if !doc.Valid() {
		return errFactory.WithData(ErrUnknownDocument, doc)
	}
	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(ErrWrite, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errFactory.New(ErrClosed)
	}
	if m.failUpdates != nil {
		err := m.failUpdates
		m.mu.Unlock()
		return errFactory.Wrap(ErrWrite, err)
	}

	merged := map[string]any{}
	if current := m.docs[doc]; current != nil {
		if err := json.Unmarshal(current, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	maps.Copy(merged, patch)

	snapshot, err := json.Marshal(merged)
	if err != nil {
		m.mu.Unlock()
		return errFactory.Wrap(ErrInvalidPatch, err)
	}
	m.updates = append(m.updates, UpdateRecord{Doc: doc, Patch: maps.Clone(patch)})
	m.mu.Unlock()

	m.Publish(doc, snapshot)
	return nil
}

// Publish replaces a document with a raw snapshot and notifies subscribers.
// An empty or null payload clears the document.
func (m *Memory) Publish(doc Document, payload []byte) {
	payload = normalize(payload)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if payload == nil {
		delete(m.docs, doc)
	} else {
		m.docs[doc] = append([]byte(nil), payload...)
	}
	handlers := make([]Handler, 0, len(m.subs[doc]))
	for _, h := range m.subs[doc] {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

// Set stores value as the document's JSON snapshot
func (m *Memory) Set(doc Document, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return errors.New().Wrap(ErrInvalidPatch, err)
	}
	m.Publish(doc, payload)
	return nil
}

// AppendHistory delivers a history entry to history subscribers
func (m *Memory) AppendHistory(key string, payload []byte) {
	m.mu.Lock()
	handlers := make([]HistoryHandler, 0, len(m.historySubs))
	for _, h := range m.historySubs {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, h := range handlers {
		h(key, payload)
	}
}

// Snapshot returns the stored document, nil when absent
func (m *Memory) Snapshot(doc Document) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.docs[doc]...)
}

// Updates returns the partial updates received so far
func (m *Memory) Updates() []UpdateRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UpdateRecord(nil), m.updates...)
}

// Subscribers returns the number of live subscriptions on doc
func (m *Memory) Subscribers(doc Document) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[doc])
}

// FailUpdates makes subsequent updates fail with err; nil restores them
func (m *Memory) FailUpdates(err error) {
	m.mu.Lock()
	m.failUpdates = err
	m.mu.Unlock()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[Document]map[uint64]Handler)
	m.historySubs = make(map[uint64]HistoryHandler)
	return nil
}
