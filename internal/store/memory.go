package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store with real optimistic concurrency, used in
// tests and as the injectable fake the services are written against.
type Memory struct {
	mu      sync.Mutex
	docs    map[string]Document
	subs    map[int]*memSub
	nextSub int
	now     func() time.Time
}

type MemoryOption func(*Memory)

// WithClock replaces the server clock, letting tests control Tx.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		docs: make(map[string]Document),
		subs: make(map[int]*memSub),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type memSub struct {
	prefix string
	ch     chan Event
	done   chan struct{}
}

func (m *Memory) Get(ctx context.Context, path string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := doc
	cp.Data = append([]byte(nil), doc.Data...)
	return &cp, nil
}

func (m *Memory) Put(ctx context.Context, path string, data []byte) error {
	return m.Transact(ctx, path, func(tx Tx) error {
		tx.Put(path, data)
		return nil
	})
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	return m.Transact(ctx, path, func(tx Tx) error {
		tx.Delete(path)
		return nil
	})
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(prefix), nil
}

func (m *Memory) listLocked(prefix string) []Document {
	var out []Document
	for path, doc := range m.docs {
		if strings.HasPrefix(path, prefix) {
			cp := doc
			cp.Data = append([]byte(nil), doc.Data...)
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (m *Memory) Query(ctx context.Context, prefix, orderBy string, limit int) ([]Document, error) {
	docs, err := m.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make(map[string]string, len(docs))
	for _, d := range docs {
		keys[d.Path] = fieldKey(d.Data, orderBy)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return keys[docs[i].Path] < keys[docs[j].Path]
	})
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// fieldKey extracts a sortable string for a top-level JSON field. RFC 3339
// timestamps sort chronologically as plain strings.
func fieldKey(data []byte, field string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	raw, ok := obj[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type memWrite struct {
	data   []byte
	delete bool
}

type memTx struct {
	m      *Memory
	reads  map[string]int64            // path -> observed version, 0 = absent
	listed map[string]map[string]int64 // prefix -> membership snapshot
	writes map[string]memWrite
	at     time.Time
}

func (tx *memTx) Now() time.Time { return tx.at }

func (tx *memTx) Get(path string) (*Document, error) {
	if w, ok := tx.writes[path]; ok {
		if w.delete {
			return nil, ErrNotFound
		}
		return &Document{Path: path, Data: append([]byte(nil), w.data...), UpdatedAt: tx.at}, nil
	}
	tx.m.mu.Lock()
	doc, ok := tx.m.docs[path]
	tx.m.mu.Unlock()
	if !ok {
		tx.reads[path] = 0
		return nil, ErrNotFound
	}
	tx.reads[path] = doc.Version
	cp := doc
	cp.Data = append([]byte(nil), doc.Data...)
	return &cp, nil
}

func (tx *memTx) List(prefix string) ([]Document, error) {
	tx.m.mu.Lock()
	docs := tx.m.listLocked(prefix)
	tx.m.mu.Unlock()

	membership := make(map[string]int64, len(docs))
	for _, d := range docs {
		membership[d.Path] = d.Version
	}
	tx.listed[prefix] = membership

	// Overlay staged writes so the transaction sees its own effects.
	byPath := make(map[string]Document, len(docs))
	for _, d := range docs {
		byPath[d.Path] = d
	}
	for path, w := range tx.writes {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		if w.delete {
			delete(byPath, path)
		} else {
			byPath[path] = Document{Path: path, Data: append([]byte(nil), w.data...), UpdatedAt: tx.at}
		}
	}
	out := make([]Document, 0, len(byPath))
	for _, d := range byPath {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (tx *memTx) Put(path string, data []byte) {
	tx.writes[path] = memWrite{data: append([]byte(nil), data...)}
}

func (tx *memTx) Delete(path string) {
	tx.writes[path] = memWrite{delete: true}
}

func (m *Memory) Transact(ctx context.Context, root string, fn TxFunc) error {
	m.mu.Lock()
	rootDoc, rootExisted := m.docs[root]
	rootVersion := rootDoc.Version
	at := m.now()
	m.mu.Unlock()

	tx := &memTx{
		m:      m,
		reads:  make(map[string]int64),
		listed: make(map[string]map[string]int64),
		writes: make(map[string]memWrite),
		at:     at,
	}
	if err := fn(tx); err != nil {
		return err
	}

	events, subs, err := m.commit(tx, root, rootExisted, rootVersion)
	if err != nil {
		return err
	}

	// Delivery happens outside the store lock; a subscriber whose buffer
	// is full drops the event, same as the ws hub, so it can never stall
	// writers.
	for _, ev := range events {
		for _, sub := range subs {
			if !strings.HasPrefix(ev.Doc.Path, sub.prefix) {
				continue
			}
			select {
			case sub.ch <- ev:
			case <-sub.done:
			default:
			}
		}
	}
	return nil
}

func (m *Memory) commit(tx *memTx, root string, rootExisted bool, rootVersion int64) ([]Event, []*memSub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Root gone since the transaction began: the entity was deleted.
	cur, ok := m.docs[root]
	if rootExisted && !ok {
		return nil, nil, ErrNotFound
	}
	if rootExisted && cur.Version != rootVersion {
		return nil, nil, ErrConflict
	}
	if !rootExisted && ok {
		return nil, nil, ErrConflict
	}
	for path, ver := range tx.reads {
		doc, ok := m.docs[path]
		switch {
		case !ok && ver != 0:
			return nil, nil, ErrConflict
		case ok && doc.Version != ver:
			return nil, nil, ErrConflict
		}
	}
	for prefix, membership := range tx.listed {
		current := m.listLocked(prefix)
		if len(current) != len(membership) {
			return nil, nil, ErrConflict
		}
		for _, d := range current {
			if v, ok := membership[d.Path]; !ok || v != d.Version {
				return nil, nil, ErrConflict
			}
		}
	}

	var events []Event
	for path, w := range tx.writes {
		old, existed := m.docs[path]
		if w.delete {
			if !existed {
				continue
			}
			delete(m.docs, path)
			events = append(events, Event{Kind: EventDelete, Doc: Document{Path: path, Version: old.Version, UpdatedAt: tx.at}})
			continue
		}
		doc := Document{Path: path, Data: w.data, Version: old.Version + 1, UpdatedAt: tx.at}
		m.docs[path] = doc
		events = append(events, Event{Kind: EventPut, Doc: doc})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Doc.Path < events[j].Doc.Path })

	subs := make([]*memSub, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	return events, subs, nil
}

func (m *Memory) Subscribe(prefix string, fn func(Event)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	sub := &memSub{prefix: prefix, ch: make(chan Event, 256), done: make(chan struct{})}
	m.subs[id] = sub
	m.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				fn(ev)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if s, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(s.done)
		}
	}, nil
}
