package vault

// engine.go implements the orchestration layer: lifecycle, key handle
// registration, and store fan-out.
//
// Construction is two-phase: New builds the engine, Init makes it ready.
// Every key operation blocks on the ready signal, so handles created before
// Init simply queue behind it. Init is idempotent under concurrency: one
// caller performs the work while the rest await the same outcome.

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/GeceGibi/vault/internal/codec"
	"github.com/GeceGibi/vault/internal/logging"
	"github.com/GeceGibi/vault/internal/vfs"
)

// lockFileName guards the storage directory against a second engine.
const lockFileName = "LOCK"

// Engine lifecycle states.
const (
	stateNew int32 = iota
	stateInitializing
	stateReady
	stateFailed
	stateClosed
)

// Engine is the top-level handle over one storage directory. It owns both
// stores, the change notifier, and the key registry. Safe for concurrent
// use; construct with New, make ready with Init.
type Engine struct {
	opts Options
	log  logging.Logger
	fs   vfs.FS
	sink ErrorSink

	root string
	lock io.Closer

	consolidated *consolidatedStore
	records      *recordStore
	notifier     *notifier

	// keys maps physical id -> registered handle for conflict detection.
	keys *xsync.MapOf[string, *Key]

	state   atomic.Int32
	ready   chan struct{}
	initErr error
	closeMu sync.Mutex
}

// New builds an engine from opts. The engine is not usable until Init.
func New(opts Options) *Engine {
	o := opts.EnsureDefaults()
	e := &Engine{
		opts:  o,
		log:   o.Logger,
		fs:    o.FS,
		keys:  xsync.NewMapOf[string, *Key](),
		ready: make(chan struct{}),
	}
	if o.ErrorSink != nil {
		e.sink = o.ErrorSink
	} else {
		e.sink = func(err error) { e.log.Errorf(logging.NSEngine+"%v", err) }
	}
	e.notifier = newNotifier(e.log)
	e.consolidated = newConsolidatedStore(e)
	e.records = newRecordStore(e)
	return e
}

// report funnels an internal error through the sink, exactly once per error.
func (e *Engine) report(err error) {
	if err == nil {
		return
	}
	e.sink(err)
}

// encryptor returns the configured Encryptor.
func (e *Engine) encryptor() Encryptor { return e.opts.Encryptor }

// Init prepares the storage directory under path and loads both stores.
// The first caller performs the work; concurrent callers block until it
// finishes and observe the same outcome. A failed Init leaves the engine
// unusable and every blocked operation fails with the Init error.
func (e *Engine) Init(ctx context.Context, path string) error {
	if !e.state.CompareAndSwap(stateNew, stateInitializing) {
		return e.awaitReady(ctx)
	}

	err := e.doInit(ctx, path)
	if err != nil {
		e.initErr = fmt.Errorf("%w: %w", ErrInit, err)
		e.report(e.initErr)
		e.state.CompareAndSwap(stateInitializing, stateFailed)
	} else if e.state.CompareAndSwap(stateInitializing, stateReady) {
		e.log.Infof(logging.NSEngine+"ready at %s", e.root)
	}
	close(e.ready)
	return e.initErr
}

func (e *Engine) doInit(ctx context.Context, path string) error {
	e.root = filepath.Join(path, e.opts.FolderName)
	if err := e.fs.MkdirAll(e.root, 0755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}

	lock, err := e.fs.Lock(filepath.Join(e.root, lockFileName))
	if err != nil {
		return fmt.Errorf("lock storage directory: %w", err)
	}
	e.lock = lock

	if err := e.opts.Encryptor.Init(ctx); err != nil {
		e.releaseLock()
		return fmt.Errorf("init encryptor: %w", err)
	}

	// The stores share no state; load them concurrently.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, store := range []Storage{e.consolidated, e.records} {
		wg.Add(1)
		go func(i int, store Storage) {
			defer wg.Done()
			errs[i] = store.Init(ctx, e)
		}(i, store)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			e.releaseLock()
			return err
		}
	}
	return nil
}

// awaitReady blocks until the engine is ready, the context is canceled, or
// the engine turned out closed or failed.
func (e *Engine) awaitReady(ctx context.Context) error {
	switch e.state.Load() {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	switch e.state.Load() {
	case stateClosed:
		return ErrClosed
	case stateFailed:
		return e.initErr
	}
	return nil
}

// waitReady is the context-free form used by the Sync fast paths.
func (e *Engine) waitReady() { <-e.ready }

// Key returns a plain handle for name, creating and registering it on first
// use. Re-requesting a name with the same configuration returns the
// original handle; an incompatible configuration fails with ErrKeyConflict.
func (e *Engine) Key(name string, opts ...KeyOption) (*Key, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	cfg := keyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.registerKey(&Key{
		engine: e,
		kind:   KeyPlain,
		desc: KeyDescriptor{
			Name:      name,
			ID:        name,
			Removable: cfg.removable,
			External:  cfg.external,
		},
		conv:    cfg.conv,
		backend: cfg.backend,
	})
}

// SecureKey returns a secure handle for name. The physical id is a
// non-reversible hash of the name, the logical name is never persisted, and
// values pass through the Encryptor. Secure keys are always external.
func (e *Engine) SecureKey(name string, opts ...KeyOption) (*Key, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	cfg := keyConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.registerKey(&Key{
		engine: e,
		kind:   KeySecure,
		desc: KeyDescriptor{
			Name:      name,
			ID:        codec.Hash(name),
			Removable: cfg.removable,
			External:  true,
			Secure:    true,
		},
		conv:    cfg.conv,
		backend: cfg.backend,
	})
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("vault: empty key name")
	}
	if strings.Contains(name, Separator) {
		return fmt.Errorf("vault: key name %q contains %q; derive nested keys with Sub", name, Separator)
	}
	if len(name) > codec.MaxNameLen {
		return fmt.Errorf("vault: key name exceeds %d bytes", codec.MaxNameLen)
	}
	return nil
}

// registerKey inserts a handle into the registry, enforcing per-id
// configuration consistency. Identity covers kind and descriptor; value
// converters and custom backends are not comparable and are trusted to
// match when the descriptor does.
func (e *Engine) registerKey(k *Key) (*Key, error) {
	existing, loaded := e.keys.LoadOrStore(k.desc.ID, k)
	if !loaded {
		return k, nil
	}
	if existing.kind != k.kind || !descriptorEqual(existing.desc, k.desc) {
		return nil, fmt.Errorf("%w: %q", ErrKeyConflict, k.desc.Name)
	}
	return existing, nil
}

func descriptorEqual(a, b KeyDescriptor) bool {
	return a.Name == b.Name &&
		a.ID == b.ID &&
		a.Removable == b.Removable &&
		a.External == b.External &&
		a.Secure == b.Secure
}

// storedIDs returns the union of physical ids across both stores.
func (e *Engine) storedIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, store := range []Storage{e.consolidated, e.records} {
		for _, id := range store.Keys() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Keys returns the sorted physical ids of every stored record.
func (e *Engine) Keys(ctx context.Context) ([]string, error) {
	if err := e.awaitReady(ctx); err != nil {
		return nil, err
	}
	ids := e.storedIDs()
	sort.Strings(ids)
	return ids, nil
}

// Watch subscribes to changes for one physical id, or every change when id
// is empty. Delivery is best-effort; cancel releases the subscription.
func (e *Engine) Watch(id string) (<-chan Change, func()) {
	return e.notifier.watch(id)
}

// Clear removes every record from both stores.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.awaitReady(ctx); err != nil {
		return err
	}
	ids := e.storedIDs()
	var firstErr error
	for _, store := range []Storage{e.consolidated, e.records} {
		if err := store.Clear(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, id := range ids {
		e.notifier.publish(Change{ID: id, Op: ChangeClear})
	}
	return firstErr
}

// ClearRemovable removes every removable-flagged record from both stores
// and returns the removed ids.
func (e *Engine) ClearRemovable(ctx context.Context) ([]string, error) {
	if err := e.awaitReady(ctx); err != nil {
		return nil, err
	}
	var removed []string
	var firstErr error
	for _, store := range []Storage{e.consolidated, e.records} {
		ids, err := store.ClearRemovable(ctx)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		removed = append(removed, ids...)
	}
	for _, id := range removed {
		e.notifier.publish(Change{ID: id, Op: ChangeClear})
	}
	sort.Strings(removed)
	return removed, firstErr
}

// Close flushes outstanding writes, shuts both stores down, releases the
// directory lock, and closes the change stream. Idempotent; operations
// after Close fail with ErrClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	prev := e.state.Load()
	if prev == stateClosed {
		return nil
	}
	if prev == stateInitializing {
		// Let the in-flight Init finish before tearing anything down.
		<-e.ready
		prev = e.state.Load()
	}
	e.state.Store(stateClosed)
	if prev == stateNew {
		// Never initialized: unblock waiters so they observe ErrClosed.
		close(e.ready)
		return nil
	}

	var firstErr error
	for _, store := range []Storage{e.consolidated, e.records} {
		if err := store.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.notifier.close()
	e.releaseLock()
	e.log.Infof(logging.NSEngine + "closed")
	return firstErr
}

func (e *Engine) releaseLock() {
	if e.lock != nil {
		_ = e.lock.Close()
		e.lock = nil
	}
}
