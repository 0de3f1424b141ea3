package vault

// subkeys.go implements the per-key registry of derived children.
//
// The registry tracks two populations: instantiated sub-keys (children a
// handle was built for in this process) and discovered sub-keys (records on
// disk whose physical id carries the parent's prefix, left by earlier runs).
// Discovery is purely lexical, so it only works for plain parents whose
// children keep the literal derived id; a secure parent's children are
// hashed and can be enumerated only through instantiation.

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// SubkeyOp describes a registry mutation.
type SubkeyOp uint8

const (
	// SubkeyAdded means a child was registered.
	SubkeyAdded SubkeyOp = iota
	// SubkeyRemoved means a child was unregistered.
	SubkeyRemoved
	// SubkeysCleared means every child record was removed.
	SubkeysCleared
)

// String returns the string representation of the registry operation.
func (op SubkeyOp) String() string {
	switch op {
	case SubkeyAdded:
		return "added"
	case SubkeyRemoved:
		return "removed"
	case SubkeysCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// SubkeyEvent is one registry mutation. Sub and ID are empty for
// SubkeysCleared.
type SubkeyEvent struct {
	Op  SubkeyOp
	Sub string
	ID  string
}

// subkeyEventBuffer is the channel capacity per registry watcher.
const subkeyEventBuffer = 16

// SubkeyRegistry tracks the direct children of one key. Safe for
// concurrent use.
type SubkeyRegistry struct {
	parent *Key

	mu           sync.Mutex
	instantiated map[string]string // sub -> physical id
	watchers     map[chan SubkeyEvent]struct{}
	closed       bool
}

func newSubkeyRegistry(parent *Key) *SubkeyRegistry {
	return &SubkeyRegistry{
		parent:       parent,
		instantiated: make(map[string]string),
		watchers:     make(map[chan SubkeyEvent]struct{}),
	}
}

// register records an instantiated child. Idempotent: re-registering the
// same sub emits no event.
func (r *SubkeyRegistry) register(sub, id string) {
	r.mu.Lock()
	if prev, ok := r.instantiated[sub]; ok && prev == id {
		r.mu.Unlock()
		return
	}
	r.instantiated[sub] = id
	r.emitLocked(SubkeyEvent{Op: SubkeyAdded, Sub: sub, ID: id})
	r.mu.Unlock()
}

// unregister forgets an instantiated child without touching its record.
// Idempotent: unknown subs emit no event.
func (r *SubkeyRegistry) unregister(sub string) {
	r.mu.Lock()
	id, ok := r.instantiated[sub]
	if ok {
		delete(r.instantiated, sub)
		r.emitLocked(SubkeyEvent{Op: SubkeyRemoved, Sub: sub, ID: id})
	}
	r.mu.Unlock()
}

// List returns the sub identifiers of every direct child: the union of
// instantiated children and records discovered by prefix on disk. Only
// direct children count; a grandchild's id carries a further separator and
// is excluded. The result is sorted.
func (r *SubkeyRegistry) List(ctx context.Context) ([]string, error) {
	if err := r.parent.engine.awaitReady(ctx); err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	r.mu.Lock()
	for sub := range r.instantiated {
		set[sub] = struct{}{}
	}
	r.mu.Unlock()

	// Lexical discovery covers plain parents only; hashed child ids carry
	// no recoverable prefix.
	if r.parent.kind == KeyPlain {
		prefix := r.parent.desc.ID + Separator
		for _, id := range r.parent.engine.storedIDs() {
			sub, ok := strings.CutPrefix(id, prefix)
			if !ok || sub == "" || strings.Contains(sub, Separator) {
				continue
			}
			set[sub] = struct{}{}
		}
	}

	subs := make([]string, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	sort.Strings(subs)
	return subs, nil
}

// Clear removes the record of every known child — instantiated and
// discovered — and resets the instantiated set. The children's handles
// remain valid; their next write recreates the records.
func (r *SubkeyRegistry) Clear(ctx context.Context) error {
	if err := r.parent.engine.awaitReady(ctx); err != nil {
		return err
	}

	ids := make(map[string]struct{})
	r.mu.Lock()
	for _, id := range r.instantiated {
		ids[id] = struct{}{}
	}
	r.instantiated = make(map[string]string)
	r.mu.Unlock()

	if r.parent.kind == KeyPlain {
		prefix := r.parent.desc.ID + Separator
		for _, id := range r.parent.engine.storedIDs() {
			sub, ok := strings.CutPrefix(id, prefix)
			if !ok || sub == "" || strings.Contains(sub, Separator) {
				continue
			}
			ids[id] = struct{}{}
		}
	}

	var firstErr error
	e := r.parent.engine
	for id := range ids {
		for _, store := range []Storage{e.consolidated, e.records} {
			if err := store.RemoveKey(ctx, id); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		e.notifier.publish(Change{ID: id, Op: ChangeRemove})
	}

	r.mu.Lock()
	r.emitLocked(SubkeyEvent{Op: SubkeysCleared})
	r.mu.Unlock()
	return firstErr
}

// Watch subscribes to registry mutations. Delivery is best-effort: a
// watcher that falls behind loses events. The cancel function is
// idempotent and closes the returned channel.
func (r *SubkeyRegistry) Watch() (<-chan SubkeyEvent, func()) {
	ch := make(chan SubkeyEvent, subkeyEventBuffer)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.watchers[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			if _, ok := r.watchers[ch]; ok {
				delete(r.watchers, ch)
				close(ch)
			}
			r.mu.Unlock()
		})
	}
	return ch, cancel
}

// emitLocked fans an event out to watchers without blocking. Callers hold
// r.mu.
func (r *SubkeyRegistry) emitLocked(ev SubkeyEvent) {
	for ch := range r.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}
