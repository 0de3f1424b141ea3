package vault

// storage.go defines the pluggable storage backend contract consumed by the
// engine and implemented by the consolidated and per-record stores. External
// collaborators (a database-backed adapter, for example) may implement
// Storage and attach it to individual keys via WithBackend.

import (
	"context"

	"github.com/GeceGibi/vault/internal/codec"
)

// Flags is the per-record flag bitmask.
type Flags = codec.Flags

// Record flag bits.
const (
	// FlagRemovable marks a record eligible for ClearRemovable cleanup.
	FlagRemovable = codec.FlagRemovable

	// FlagSecure marks a record written by a secure key handle.
	FlagSecure = codec.FlagSecure
)

// Kind is the value type tag of a stored record.
type Kind = codec.Kind

// Header is the decoded fixed-size record prefix, sufficient for existence
// checks and sub-key discovery without deserializing the payload.
type Header = codec.Header

// Record is the unit handed to a Storage backend for persistence.
type Record struct {
	// ID is the physical identifier, unique within its store.
	ID string

	// Name is the logical name persisted alongside the value. Secure key
	// handles pass an empty name so the logical name never touches disk.
	Name string

	// Value is the dynamically-typed payload. A nil Value is equivalent
	// to deletion.
	Value any

	// Flags carries the removable and secure bits.
	Flags Flags
}

// Storage is the backend contract.
//
// Concurrency: all methods are safe for concurrent use. For a fixed id,
// Write, Read, and Remove are serialized in FIFO order; operations on
// distinct ids may overlap. The Sync variants bypass coordination and are
// safe only because persisted writes are atomic renames: a synchronous
// reader observes a fully-old or fully-new record, never a partial one.
type Storage interface {
	// Init prepares the backend. Called once by the engine during Init,
	// before the ready signal.
	Init(ctx context.Context, engine *Engine) error

	// Read returns the value for id, or nil if absent or corrupt.
	// Corrupt records are reported and removed asynchronously.
	Read(ctx context.Context, id string) (any, error)

	// ReadSync is the synchronous fast-path read.
	ReadSync(id string) any

	// Write persists rec. A nil rec.Value is translated into a delete.
	Write(ctx context.Context, rec Record) error

	// Remove deletes the record for id. Removing an absent id is a no-op.
	Remove(ctx context.Context, id string) error

	// Exists reports whether a record exists for id.
	Exists(ctx context.Context, id string) (bool, error)

	// ExistsSync is the synchronous fast-path existence check.
	ExistsSync(id string) bool

	// Keys returns the physical ids of every record in the store.
	Keys() []string

	// RemoveKey deletes the record for the given physical id. It is the
	// registry-driven form of Remove.
	RemoveKey(ctx context.Context, id string) error

	// Clear removes every record.
	Clear(ctx context.Context) error

	// ClearRemovable removes every record whose removable flag is set and
	// returns the ids that were removed.
	ClearRemovable(ctx context.Context) ([]string, error)

	// Header returns the cached or cheaply-read record header for id,
	// or nil if absent or corrupt.
	Header(id string) *Header

	// Close flushes outstanding work and releases resources. The backend
	// must not be used afterwards.
	Close(ctx context.Context) error
}
