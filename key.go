package vault

// key.go implements key handles: the unification of identity, storage
// selection, and optional field-level encryption.
//
// A handle is a tagged variant over {plain, secure} carrying a shared
// KeyDescriptor. The plain variant passes values through unchanged except
// for optional user converters. The secure variant hashes the logical name
// into the physical id, keeps the logical name off disk, and runs the
// serialized value through the Encryptor in both directions.
//
// Handles are built through the engine (two-phase construction): the engine
// must exist first, and operations block until it signals ready.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/GeceGibi/vault/internal/codec"
)

// Separator joins a parent physical id with a sub identifier.
const Separator = "."

// KeyKind distinguishes the handle variants.
type KeyKind uint8

const (
	// KeyPlain stores values as-is, aside from optional converters.
	KeyPlain KeyKind = iota
	// KeySecure hashes the name and encrypts the serialized value.
	KeySecure
)

// String returns the string representation of the key kind.
func (k KeyKind) String() string {
	switch k {
	case KeyPlain:
		return "plain"
	case KeySecure:
		return "secure"
	default:
		return "unknown"
	}
}

// KeyDescriptor is the identity of a key.
type KeyDescriptor struct {
	// Name is the user-facing logical name.
	Name string

	// ID is the physical (on-disk) identifier: equal to Name for plain
	// non-nested keys, a non-reversible hash for secure keys and secure
	// sub-keys, and the literal derived path for plain sub-keys.
	//
	// IDs are unique within a store; hash collisions are not resolved.
	ID string

	// Removable marks records for ClearRemovable cleanup.
	Removable bool

	// External selects the per-record store over the consolidated store.
	// Secure keys and all sub-keys are always external.
	External bool

	// Secure marks the secure handle variant.
	Secure bool

	// Parent is set for sub-keys.
	Parent *KeyDescriptor
}

// Converter maps between caller values and stored values, bidirectionally.
type Converter interface {
	// ToStored converts a caller value to its storage representation.
	ToStored(v any) (any, error)

	// FromStored converts a storage representation back to a caller value.
	FromStored(v any) (any, error)
}

// ConverterFuncs adapts two functions to the Converter interface.
type ConverterFuncs struct {
	To   func(v any) (any, error)
	From func(v any) (any, error)
}

func (c ConverterFuncs) ToStored(v any) (any, error) {
	if c.To == nil {
		return v, nil
	}
	return c.To(v)
}

func (c ConverterFuncs) FromStored(v any) (any, error) {
	if c.From == nil {
		return v, nil
	}
	return c.From(v)
}

// keyConfig collects construction options.
type keyConfig struct {
	removable bool
	external  bool
	conv      Converter
	backend   Storage
}

// KeyOption configures key construction.
type KeyOption func(*keyConfig)

// WithRemovable marks the key's records eligible for ClearRemovable.
func WithRemovable() KeyOption {
	return func(c *keyConfig) { c.removable = true }
}

// WithExternal stores the key in the per-record store regardless of size.
func WithExternal() KeyOption {
	return func(c *keyConfig) { c.external = true }
}

// WithConverter attaches a bidirectional value converter.
func WithConverter(conv Converter) KeyOption {
	return func(c *keyConfig) { c.conv = conv }
}

// WithBackend routes the key to a caller-supplied storage backend.
// Implies external.
func WithBackend(backend Storage) KeyOption {
	return func(c *keyConfig) {
		c.backend = backend
		c.external = true
	}
}

// Key is a handle binding a KeyDescriptor to read/write/remove/exists
// operations against the store its descriptor selects. Handles are safe
// for concurrent use.
type Key struct {
	engine  *Engine
	kind    KeyKind
	desc    KeyDescriptor
	conv    Converter
	backend Storage

	subsOnce sync.Once
	subs     *SubkeyRegistry
}

// Kind returns the handle variant.
func (k *Key) Kind() KeyKind { return k.kind }

// Descriptor returns a copy of the key's identity.
func (k *Key) Descriptor() KeyDescriptor { return k.desc }

// store resolves the storage backend for this key.
func (k *Key) store() Storage {
	if k.backend != nil {
		return k.backend
	}
	if k.desc.External {
		return k.engine.records
	}
	return k.engine.consolidated
}

// flags builds the record flag bits from the descriptor.
func (k *Key) flags() Flags {
	var f Flags
	if k.desc.Removable {
		f |= FlagRemovable
	}
	if k.desc.Secure {
		f |= FlagSecure
	}
	return f
}

// diskName is the logical name persisted with the record. Secure handles
// persist an empty name so the logical name never reaches disk.
func (k *Key) diskName() string {
	if k.kind == KeySecure {
		return ""
	}
	return k.desc.Name
}

// Get returns the key's value, or nil if absent. Corrupt or undecryptable
// records self-heal: the error is reported, the offending record is removed
// asynchronously, and the caller sees nil. Only lifecycle and context
// errors are returned.
func (k *Key) Get(ctx context.Context) (any, error) {
	if err := k.engine.awaitReady(ctx); err != nil {
		return nil, err
	}
	raw, err := k.store().Read(ctx, k.desc.ID)
	if err != nil {
		return nil, err
	}
	return k.fromStored(ctx, raw, false)
}

// GetSync is the synchronous fast-path read. It blocks until the engine is
// ready, then reads without coordination.
func (k *Key) GetSync() any {
	k.engine.waitReady()
	raw := k.store().ReadSync(k.desc.ID)
	v, _ := k.fromStored(context.Background(), raw, true)
	return v
}

// fromStored runs the read-side pipeline: decrypt and deserialize for
// secure handles, then the user converter. Failures are reported, the
// record is removed asynchronously, and the caller sees nil.
func (k *Key) fromStored(ctx context.Context, raw any, sync bool) (any, error) {
	if raw == nil {
		return nil, nil
	}

	v := raw
	if k.kind == KeySecure {
		blob, ok := raw.([]byte)
		if !ok {
			k.corrupt(fmt.Errorf("%w: secure record %q holds %T, want bytes", ErrCorruption, k.desc.ID, raw))
			return nil, nil
		}
		var plain []byte
		var err error
		if sync {
			plain, err = k.engine.encryptor().DecryptSync(blob)
		} else {
			plain, err = k.engine.encryptor().Decrypt(ctx, blob)
		}
		if err != nil {
			k.corrupt(fmt.Errorf("%w: decrypt record %q: %w", ErrEncryption, k.desc.ID, err))
			return nil, nil
		}
		v, err = decodeSecureValue(plain)
		if err != nil {
			k.corrupt(fmt.Errorf("%w: secure record %q: %w", ErrCorruption, k.desc.ID, err))
			return nil, nil
		}
	}

	if k.conv != nil {
		converted, err := k.conv.FromStored(v)
		if err != nil {
			k.corrupt(fmt.Errorf("vault: convert record %q: %w", k.desc.ID, err))
			return nil, nil
		}
		v = converted
	}
	return v, nil
}

// corrupt reports a read-path failure and removes the record in the
// background: a value that cannot be read back is treated as absent.
func (k *Key) corrupt(err error) {
	k.engine.report(err)
	store := k.store()
	id := k.desc.ID
	go func() {
		_ = store.Remove(context.Background(), id)
	}()
}

// Set writes a value through the handle. A nil value removes the record.
// Write failures are fail-fast: reported, then returned to the caller.
func (k *Key) Set(ctx context.Context, v any) error {
	if err := k.engine.awaitReady(ctx); err != nil {
		return err
	}
	if v == nil {
		return k.Remove(ctx)
	}

	stored := v
	if k.conv != nil {
		converted, err := k.conv.ToStored(v)
		if err != nil {
			err = fmt.Errorf("vault: convert value for %q: %w", k.desc.Name, err)
			k.engine.report(err)
			return err
		}
		stored = converted
	}

	if k.kind == KeySecure {
		blob, err := encodeSecureValue(stored)
		if err != nil {
			return err
		}
		sealed, err := k.engine.encryptor().Encrypt(ctx, blob)
		if err != nil {
			err = fmt.Errorf("%w: encrypt record %q: %w", ErrEncryption, k.desc.ID, err)
			k.engine.report(err)
			return err
		}
		stored = sealed
	}

	err := k.store().Write(ctx, Record{
		ID:    k.desc.ID,
		Name:  k.diskName(),
		Value: stored,
		Flags: k.flags(),
	})
	if err != nil {
		return err
	}
	k.engine.notifier.publish(Change{ID: k.desc.ID, Value: v, Op: ChangeSet})
	return nil
}

// Remove deletes the key's record.
func (k *Key) Remove(ctx context.Context) error {
	if err := k.engine.awaitReady(ctx); err != nil {
		return err
	}
	if err := k.store().Remove(ctx, k.desc.ID); err != nil {
		return err
	}
	k.engine.notifier.publish(Change{ID: k.desc.ID, Op: ChangeRemove})
	return nil
}

// Exists reports whether the key currently has a record.
func (k *Key) Exists(ctx context.Context) (bool, error) {
	if err := k.engine.awaitReady(ctx); err != nil {
		return false, err
	}
	return k.store().Exists(ctx, k.desc.ID)
}

// ExistsSync is the synchronous fast-path existence check.
func (k *Key) ExistsSync() bool {
	k.engine.waitReady()
	return k.store().ExistsSync(k.desc.ID)
}

// Sub derives a child handle of the same variant.
//
// The child's physical id is the parent's id joined with sub for plain
// handles, or the hash of that derivation for secure handles — a secure
// child's name is recoverable only by repeating the same derivation.
// Sub-keys are always external, and the child registers itself with this
// key's sub-key registry.
func (k *Key) Sub(sub string, opts ...KeyOption) (*Key, error) {
	if sub == "" || strings.Contains(sub, Separator) {
		return nil, fmt.Errorf("vault: invalid sub identifier %q", sub)
	}

	cfg := keyConfig{removable: k.desc.Removable, external: true, conv: k.conv, backend: k.backend}
	for _, opt := range opts {
		opt(&cfg)
	}

	derived := k.desc.ID + Separator + sub
	id := derived
	if k.kind == KeySecure {
		id = codec.Hash(derived)
	}

	parent := k.desc
	child, err := k.engine.registerKey(&Key{
		engine: k.engine,
		kind:   k.kind,
		desc: KeyDescriptor{
			Name:      k.desc.Name + Separator + sub,
			ID:        id,
			Removable: cfg.removable,
			External:  true,
			Secure:    k.kind == KeySecure,
			Parent:    &parent,
		},
		conv:    cfg.conv,
		backend: cfg.backend,
	})
	if err != nil {
		return nil, err
	}
	k.Subkeys().register(sub, child.desc.ID)
	return child, nil
}

// Subkeys returns the registry tracking this key's sub-keys.
func (k *Key) Subkeys() *SubkeyRegistry {
	k.subsOnce.Do(func() {
		k.subs = newSubkeyRegistry(k)
	})
	return k.subs
}

// encodeSecureValue serializes a value to the [kind][payload] form that is
// handed to the Encryptor.
func encodeSecureValue(v any) ([]byte, error) {
	kind, payload, err := codec.EncodeValue(v)
	if err != nil {
		return nil, err
	}
	blob := make([]byte, 0, 1+len(payload))
	blob = append(blob, byte(kind))
	return append(blob, payload...), nil
}

// decodeSecureValue reverses encodeSecureValue.
func decodeSecureValue(blob []byte) (any, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty secure payload")
	}
	return codec.DecodeValue(codec.Kind(blob[0]), blob[1:])
}
