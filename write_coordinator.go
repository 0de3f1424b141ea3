package vault

// write_coordinator.go implements the per-identifier debounce and FIFO
// execution primitive both stores use to serialize persistence.
//
// Debounce semantics: a run call whose delay has not yet elapsed is
// superseded by the next run call for the same id — its timer is canceled
// and its pending result resolves with the neutral superseded outcome.
//
// Queue semantics: once a call's delay elapses it joins a strict FIFO lane
// for its id. One action per id executes at a time; actions for distinct
// ids run independently and may overlap.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GeceGibi/vault/internal/logging"
)

// opOutcome is the terminal result of a coordinated operation.
type opOutcome struct {
	// superseded is the neutral outcome of a debounced operation canceled
	// by a newer one. It is not an error.
	superseded bool

	err error
}

// pending is the caller's handle to a scheduled operation.
type pending struct {
	ch   chan opOutcome
	once sync.Once
}

func newPending() *pending {
	return &pending{ch: make(chan opOutcome, 1)}
}

// resolve delivers the outcome. Safe to call more than once; only the
// first call wins.
func (p *pending) resolve(out opOutcome) {
	p.once.Do(func() {
		p.ch <- out
		close(p.ch)
	})
}

// wait blocks until the operation resolves or ctx is done.
func (p *pending) wait(ctx context.Context) opOutcome {
	select {
	case out := <-p.ch:
		return out
	case <-ctx.Done():
		return opOutcome{err: ctx.Err()}
	}
}

// writeOp is a scheduled action plus its pending result.
type writeOp struct {
	action func() error
	result *pending
}

// writeLane is the per-id state: at most one debouncing op, a FIFO queue,
// and the running flag.
type writeLane struct {
	debouncing *writeOp
	timer      *time.Timer
	queue      []*writeOp
	running    bool
}

func (l *writeLane) idle() bool {
	return l.debouncing == nil && len(l.queue) == 0 && !l.running
}

// writeCoordinator serializes and debounces mutations per logical
// identifier. Both stores own one; the consolidated store funnels every
// flush through a single shared id while the per-record store uses one id
// per physical record.
type writeCoordinator struct {
	name string
	log  logging.Logger
	sink ErrorSink

	mu     sync.Mutex
	lanes  map[string]*writeLane
	closed bool

	// wg tracks executing actions so close can wait for them. An action
	// already executing always runs to completion; there is no mid-flight
	// cancellation.
	wg sync.WaitGroup
}

func newWriteCoordinator(name string, log logging.Logger, sink ErrorSink) *writeCoordinator {
	return &writeCoordinator{
		name:  name,
		log:   log,
		sink:  sink,
		lanes: make(map[string]*writeLane),
	}
}

// run schedules action on id's lane after delay. The returned pending
// resolves when the action completes, errors, or is superseded.
func (c *writeCoordinator) run(id string, action func() error, delay time.Duration) *pending {
	op := &writeOp{action: action, result: newPending()}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		op.result.resolve(opOutcome{err: ErrClosed})
		return op.result
	}

	lane := c.lanes[id]
	if lane == nil {
		lane = &writeLane{}
		c.lanes[id] = lane
	}

	// A newer call for the same id cancels a still-waiting predecessor.
	if lane.debouncing != nil {
		lane.timer.Stop()
		lane.debouncing.result.resolve(opOutcome{superseded: true})
		lane.debouncing = nil
		lane.timer = nil
	}

	if delay > 0 {
		lane.debouncing = op
		lane.timer = time.AfterFunc(delay, func() { c.promote(id, op) })
	} else {
		c.enqueueLocked(id, lane, op)
	}
	c.mu.Unlock()

	return op.result
}

// promote moves a debounced op into the FIFO queue once its delay elapses.
func (c *writeCoordinator) promote(id string, op *writeOp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		op.result.resolve(opOutcome{superseded: true})
		return
	}
	lane := c.lanes[id]
	if lane == nil || lane.debouncing != op {
		// Lost the race with a superseding run call.
		return
	}
	lane.debouncing = nil
	lane.timer = nil
	c.enqueueLocked(id, lane, op)
}

// enqueueLocked appends op to the lane and starts execution if idle.
// REQUIRES: c.mu held.
func (c *writeCoordinator) enqueueLocked(id string, lane *writeLane, op *writeOp) {
	lane.queue = append(lane.queue, op)
	if !lane.running {
		c.startNextLocked(id, lane)
	}
}

// startNextLocked pops the queue head and executes it on its own goroutine.
// REQUIRES: c.mu held, lane.queue non-empty, lane not running.
func (c *writeCoordinator) startNextLocked(id string, lane *writeLane) {
	op := lane.queue[0]
	lane.queue = lane.queue[1:]
	lane.running = true
	c.wg.Add(1)

	go func() {
		err := c.invoke(id, op.action)
		op.result.resolve(opOutcome{err: err})

		c.mu.Lock()
		lane.running = false
		if len(lane.queue) > 0 {
			c.startNextLocked(id, lane)
		} else if lane.idle() {
			delete(c.lanes, id)
		}
		c.mu.Unlock()
		c.wg.Done()
	}()
}

// invoke runs the action, converting panics into errors. Every failure is
// wrapped and reported through the sink before it surfaces to the caller.
func (c *writeCoordinator) invoke(id string, action func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("vault: %s action for %q panicked: %v", c.name, id, r)
		}
		if err != nil {
			c.sink(err)
		}
	}()

	if err := action(); err != nil {
		return fmt.Errorf("vault: %s action for %q: %w", c.name, id, err)
	}
	return nil
}

// close cancels every outstanding timer, resolves all pending results so no
// caller hangs, and waits for executing actions to finish. Must be invoked
// before the owning store is torn down.
func (c *writeCoordinator) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.closed = true
	for id, lane := range c.lanes {
		if lane.debouncing != nil {
			lane.timer.Stop()
			lane.debouncing.result.resolve(opOutcome{superseded: true})
			lane.debouncing = nil
			lane.timer = nil
		}
		for _, op := range lane.queue {
			op.result.resolve(opOutcome{superseded: true})
		}
		lane.queue = nil
		if !lane.running {
			delete(c.lanes, id)
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.log.Debugf(logging.NSCoordinator + c.name + " closed")
}
