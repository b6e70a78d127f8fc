// Package bus is the view-model layer: the bucket list shown to the user,
// the command stream coming from the frontend, and the event stream going
// back to it. The bus is the sole mutator of the bucket list.
package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haio-cloud/haio-client/pkg/fault"
)

// commandBacklog bounds queued commands before Submit starts failing.
const commandBacklog = 64

// ErrBusy means the command queue is full; the frontend should surface a
// "try again" message rather than block its loop.
var ErrBusy = errors.New("command queue is full")

// Bus connects the frontend to the worker layer.
type Bus struct {
	mu      sync.RWMutex
	order   []string
	buckets map[string]*BucketVM

	commands chan Command

	subMu sync.Mutex
	subs  map[int]chan Event
	nextS int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		buckets:  make(map[string]*BucketVM),
		commands: make(chan Command, commandBacklog),
		subs:     make(map[int]chan Event),
	}
}

// Submit queues a command, assigning a correlation ID when absent. It never
// blocks; a full queue returns ErrBusy.
func (b *Bus) Submit(cmd Command) (Command, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	select {
	case b.commands <- cmd:
		return cmd, nil
	default:
		return cmd, ErrBusy
	}
}

// Commands returns the stream the worker layer consumes. Commands for the
// same bucket are delivered in arrival order.
func (b *Bus) Commands() <-chan Command {
	return b.commands
}

// Subscribe registers an event listener. The returned cancel function must be
// called to release the subscription. Slow listeners lose events rather than
// stalling publishers.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	id := b.nextS
	b.nextS++
	ch := make(chan Event, 128)
	b.subs[id] = ch

	cancel := func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Status publishes a status-bar message with a dwell time.
func (b *Bus) Status(text string, dwell time.Duration) {
	b.Publish(Event{Type: EventStatusMessage, Message: text, Dwell: dwell})
}

// Progress publishes one step of a multi-step operation.
func (b *Bus) Progress(correlationID, op string, step, total int) {
	b.Publish(Event{Type: EventProgressStep, CorrelationID: correlationID, Op: op, Step: step, Total: total})
}

// Fail publishes an error event, unpacking the stable kind and remediation
// when err carries them.
func (b *Bus) Fail(correlationID string, err error) {
	ev := Event{Type: EventError, CorrelationID: correlationID, Detail: err.Error()}

	var fe *fault.Error
	if errors.As(err, &fe) {
		ev.Kind = fe.Kind
		ev.Detail = fe.Detail
		ev.Remediation = fe.Remediation
	}
	b.Publish(ev)
}

// Prompt publishes a question the frontend must answer via a new command.
func (b *Bus) Prompt(kind string, payload any) {
	b.Publish(Event{Type: EventPrompt, PromptKind: kind, Payload: payload})
}
