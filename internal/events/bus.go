// Package events carries process-visible run notifications from the
// orchestrator and capabilities to whoever is listening (the CLI, tests).
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autotool/internal/logging"
)

// Well-known event names. Per-subtask events are built with TaskEvent.
const (
	Info   = "info"
	Error  = "error"
	Text   = "text"
	TaskID = "taskId"
)

// Per-subtask suffixes, emitted as "<taskId>_<suffix>".
const (
	SuffixTask    = "task"
	SuffixChat    = "chat"
	SuffixScript  = "script"
	SuffixResults = "results"
)

// TaskEvent returns the per-subtask event name, e.g. "t1_results".
func TaskEvent(taskID, suffix string) string {
	return taskID + "_" + suffix
}

// Event is one notification.
type Event struct {
	Seq       uint64
	Name      string
	RunID     string
	Payload   any
	Timestamp time.Time
}

// String renders the event for logs.
func (e Event) String() string {
	return fmt.Sprintf("#%d %s %v", e.Seq, e.Name, e.Payload)
}

// Emitter is the publishing side handed to components.
type Emitter interface {
	Emit(name string, payload any)
}

// Bus fans events out to buffered subscriber channels. Emitting never blocks:
// a subscriber whose buffer is full misses the event and the drop is counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
	closed      bool
	runID       string
	buffer      int

	sequence atomic.Uint64
	dropped  atomic.Uint64
}

// NewBus creates a bus whose subscribers get buffer slots each.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer}
}

// Subscribe returns a channel that receives every subsequent event.
// The channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subscribers {
		if (<-chan Event)(sub) == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// WithRun returns an emitter that stamps every event with runID.
func (b *Bus) WithRun(runID string) Emitter {
	return runEmitter{bus: b, runID: runID}
}

// Emit publishes an event to all subscribers.
func (b *Bus) Emit(name string, payload any) {
	b.publish(name, "", payload)
}

func (b *Bus) publish(name, runID string, payload any) {
	ev := Event{
		Seq:       b.sequence.Add(1),
		Name:      name,
		RunID:     runID,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		select {
		case sub <- ev:
		default:
			n := b.dropped.Add(1)
			logging.Get(logging.CategoryEvents).Debug("dropped event %s (total dropped %d)", name, n)
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later emits are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
}

type runEmitter struct {
	bus   *Bus
	runID string
}

func (r runEmitter) Emit(name string, payload any) {
	r.bus.publish(name, r.runID, payload)
}

// Nop discards every event.
var Nop Emitter = nopEmitter{}

type nopEmitter struct{}

func (nopEmitter) Emit(string, any) {}

// Recorder is an Emitter that keeps every event in memory. Tests and the
// orchestrator's per-run transcript use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records the event.
func (r *Recorder) Emit(name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		Seq:       uint64(len(r.events) + 1),
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Tee returns an emitter that forwards to every non-nil emitter.
func Tee(emitters ...Emitter) Emitter {
	var live []Emitter
	for _, e := range emitters {
		if e != nil {
			live = append(live, e)
		}
	}
	return tee(live)
}

type tee []Emitter

func (t tee) Emit(name string, payload any) {
	for _, e := range t {
		e.Emit(name, payload)
	}
}
