package vault

// notifier.go implements the broadcast change stream keyed by physicalId.
// The core publishes on every successful write; subscribers are an external
// collaborator concern (reactive UI bindings, cache invalidation, etc).

import (
	"sync"

	"github.com/GeceGibi/vault/internal/logging"
)

// ChangeOp describes what happened to a record.
type ChangeOp uint8

const (
	// ChangeSet means the record was written.
	ChangeSet ChangeOp = iota
	// ChangeRemove means the record was removed.
	ChangeRemove
	// ChangeClear means the record was removed by a bulk clear.
	ChangeClear
)

// String returns the string representation of the change operation.
func (op ChangeOp) String() string {
	switch op {
	case ChangeSet:
		return "set"
	case ChangeRemove:
		return "remove"
	case ChangeClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Change is one event on the broadcast stream.
type Change struct {
	// ID is the physical identifier of the changed record.
	ID string

	// Value is the newly written value, or nil for removals.
	Value any

	// Op is the kind of change.
	Op ChangeOp
}

// subscriberBuffer is the channel capacity per subscriber. A subscriber
// that falls this far behind starts losing events; delivery is best-effort
// and never blocks the write path.
const subscriberBuffer = 16

type subscriber struct {
	id string // physicalId filter; empty subscribes to all changes
	ch chan Change
}

// notifier fans out changes to subscribers. Safe for concurrent use.
type notifier struct {
	log logging.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

func newNotifier(log logging.Logger) *notifier {
	return &notifier{log: log, subs: make(map[*subscriber]struct{})}
}

// watch subscribes to changes for the given physicalId; an empty id
// subscribes to every change. The cancel function is idempotent and closes
// the returned channel.
func (n *notifier) watch(id string) (<-chan Change, func()) {
	sub := &subscriber{id: id, ch: make(chan Change, subscriberBuffer)}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	n.subs[sub] = struct{}{}
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			if _, ok := n.subs[sub]; ok {
				delete(n.subs, sub)
				close(sub.ch)
			}
			n.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// publish delivers a change to all matching subscribers without blocking.
func (n *notifier) publish(ch Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for sub := range n.subs {
		if sub.id != "" && sub.id != ch.ID {
			continue
		}
		select {
		case sub.ch <- ch:
		default:
			n.log.Warnf(logging.NSEngine+"subscriber for %q lagging, dropping %s event", ch.ID, ch.Op)
		}
	}
}

// close shuts the stream down and closes every subscriber channel.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for sub := range n.subs {
		close(sub.ch)
	}
	n.subs = nil
}
