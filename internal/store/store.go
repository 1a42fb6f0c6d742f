package store

import (
	"context"
	"errors"

	"github.com/rBhagat4196/music-party/internal/domain"
)

var (
	// ErrNotFound is returned when no document exists for the key.
	ErrNotFound = errors.New("room document not found")
	// ErrTxConflict is returned when a transaction lost a race with a
	// concurrent commit and must be retried against a fresh read.
	ErrTxConflict = errors.New("transaction conflict")
)

// TxResult describes the outcome of a transaction function: either a full
// replacement document or a deletion. A nil result means no-op.
type TxResult struct {
	Room   *domain.Room
	Delete bool
}

// TxFunc receives the current document (nil if absent) and decides the writes.
// It must not mutate the argument; return a fresh or cloned room instead.
type TxFunc func(room *domain.Room) (*TxResult, error)

// Store is a replicated document store holding one mutable record per room.
//
// UpdateFields addresses nested entries with dotted paths, e.g.
// "participants.<id>.isMicOn", without a full-document read-modify-write;
// per-field semantics are last-write-wins. Anything that reads the current
// value before deciding the write must go through RunTransaction, which is
// serialized against concurrent transactions on the same key.
type Store interface {
	Get(ctx context.Context, key string) (*domain.Room, error)
	Set(ctx context.Context, key string, room *domain.Room) error
	UpdateFields(ctx context.Context, key string, fields map[string]any) error
	RunTransaction(ctx context.Context, key string, fn TxFunc) error
	// Subscribe delivers a snapshot after every committed change; a nil room
	// signals the document was deleted. The returned func stops delivery.
	Subscribe(key string, onSnapshot func(*domain.Room)) (func(), error)
	Delete(ctx context.Context, key string) error
}

type deleteField struct{}

// DeleteField removes the addressed field when passed as an UpdateFields value.
func DeleteField() any { return deleteField{} }

type arrayUnion struct{ value any }

// ArrayUnion appends the value to the addressed array when passed as an
// UpdateFields value. Appends from concurrent writers all survive.
func ArrayUnion(value any) any { return arrayUnion{value: value} }
