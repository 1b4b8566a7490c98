// Package store defines the document store the coordination core runs on:
// path-addressed JSON documents with versions, server timestamps, real-time
// change subscription and optimistic read-modify-write transactions.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the document (or the transaction root) does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means an optimistic transaction lost to a concurrent writer.
	ErrConflict = errors.New("store: conflict")
)

// Document is a versioned JSON record addressed by a slash-separated path,
// e.g. "rooms/r_1a2b3c4d" or "rooms/r_1a2b3c4d/participants/p_9f8e7d6c".
type Document struct {
	Path      string
	Data      []byte
	Version   int64
	UpdatedAt time.Time
}

type EventKind int

const (
	EventPut EventKind = iota
	EventDelete
)

// Event is a change pushed to subscribers. Doc.Data is nil for deletes.
type Event struct {
	Kind EventKind
	Doc  Document
}

// Tx is the view a transaction function operates on. Reads observe a
// consistent snapshot; Put and Delete are staged and commit atomically,
// conditioned on none of the observed documents having changed.
type Tx interface {
	Get(path string) (*Document, error)
	List(prefix string) ([]Document, error)
	Put(path string, data []byte)
	Delete(path string)
	// Now is the store-perceived server time; all persisted timestamps
	// must come from here, never from client clocks.
	Now() time.Time
}

type TxFunc func(tx Tx) error

// Store is the document store adapter. Transact is the only primitive the
// core relies on for correctness under concurrent writers: it fails with
// ErrConflict on contention and with ErrNotFound when the root document
// vanished mid-transaction.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	Put(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]Document, error)
	// Query returns documents under prefix ordered ascending by a
	// top-level field of the JSON payload.
	Query(ctx context.Context, prefix, orderBy string, limit int) ([]Document, error)
	// Transact runs fn against a snapshot rooted at root and commits its
	// staged writes atomically. If root existed when the transaction began
	// and is gone at commit time, the transaction fails with ErrNotFound.
	Transact(ctx context.Context, root string, fn TxFunc) error
	// Subscribe delivers change events for documents under prefix until
	// the returned function is called. Callbacks run on a separate
	// goroutine and stop firing once unsubscribed.
	Subscribe(prefix string, fn func(Event)) (func(), error)
}

const (
	retryAttempts    = 5
	retryBaseBackoff = 10 * time.Millisecond
)

// RetryTransact retries Transact on ErrConflict with capped backoff. Only
// use it for idempotent transactions; user-initiated operations should
// surface the conflict instead of silently retrying stale intent.
func RetryTransact(ctx context.Context, s Store, root string, fn TxFunc) error {
	backoff := retryBaseBackoff
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = s.Transact(ctx, root, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
