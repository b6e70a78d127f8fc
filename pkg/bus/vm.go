package bus

import (
	"time"

	"github.com/haio-cloud/haio-client/pkg/fault"
)

// MountState is the per-bucket state shown to the user. Transitions are owned
// by the mount supervisor.
type MountState string

const (
	StateUnmounted  MountState = "UNMOUNTED"
	StateMounting   MountState = "MOUNTING"
	StateMounted    MountState = "MOUNTED"
	StateDegraded   MountState = "DEGRADED"
	StateUnmounting MountState = "UNMOUNTING"
	StateFailed     MountState = "FAILED"
)

// BucketVM is one row of the bucket list.
type BucketVM struct {
	Name             string     `json:"name"`
	Bytes            int64      `json:"bytes"`
	Count            int64      `json:"count"`
	MountState       MountState `json:"mount_state"`
	MountPoint       string     `json:"mount_point"`
	PersistInstalled bool       `json:"persist_installed"`
	Busy             bool       `json:"busy"`
}

// CommandType enumerates frontend commands.
type CommandType string

const (
	CmdMount         CommandType = "mount"
	CmdUnmount       CommandType = "unmount"
	CmdTogglePersist CommandType = "toggle_persist"
	CmdShare         CommandType = "share"
	CmdBrowse        CommandType = "browse"
	CmdLogout        CommandType = "logout"
	// CmdPromptAnswer replies to a previously published EventPrompt.
	CmdPromptAnswer CommandType = "prompt_answer"
)

// Command is a frontend request. ID correlates subsequent progress and error
// events with the originating click.
type Command struct {
	ID        string      `json:"id"`
	Type      CommandType `json:"type"`
	Container string      `json:"container,omitempty"`
	// Object is the object path for share commands.
	Object string `json:"object,omitempty"`
	// Prompt names the prompt being answered for prompt_answer commands.
	Prompt string `json:"prompt,omitempty"`
	// Answer carries the user's choice when the command replies to a prompt.
	Answer bool `json:"answer,omitempty"`
}

// EventType enumerates events published to the frontend.
type EventType string

const (
	EventStatusMessage EventType = "status_message"
	EventProgressStep  EventType = "progress_step"
	EventError         EventType = "error"
	EventPrompt        EventType = "prompt"
	// EventListChanged means buckets were added or removed; the frontend
	// rebuilds the list.
	EventListChanged EventType = "list_changed"
	// EventBucketUpdated means fields of one bucket changed in place; the
	// frontend patches the existing row.
	EventBucketUpdated EventType = "bucket_updated"
)

// Event is one message on the event stream.
type Event struct {
	Type          EventType     `json:"type"`
	CorrelationID string        `json:"correlation_id,omitempty"`
	At            time.Time     `json:"at"`
	Message       string        `json:"message,omitempty"`
	Dwell         time.Duration `json:"dwell,omitempty"`
	Op            string        `json:"op,omitempty"`
	Step          int           `json:"step,omitempty"`
	Total         int           `json:"total,omitempty"`
	Kind          fault.Kind    `json:"kind,omitempty"`
	Detail        string        `json:"detail,omitempty"`
	Remediation   []string      `json:"remediation,omitempty"`
	PromptKind    string        `json:"prompt_kind,omitempty"`
	Payload       any           `json:"payload,omitempty"`
	Bucket        string        `json:"bucket,omitempty"`
}

// Snapshot returns a copy of the bucket list in display order.
func (b *Bus) Snapshot() []BucketVM {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]BucketVM, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.buckets[name])
	}
	return out
}

// Get returns a copy of one bucket row.
func (b *Bus) Get(name string) (BucketVM, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	vm, ok := b.buckets[name]
	if !ok {
		return BucketVM{}, false
	}
	return *vm, true
}

// SetBuckets rebuilds the list. Rows surviving the rebuild keep their mount
// fields so identity is preserved across reconciliation. PersistInstalled is
// taken from the incoming row: the reconciler probes the OS artifacts each
// pass, so its value is fresher than the displayed one.
func (b *Bus) SetBuckets(rows []BucketVM) {
	b.mu.Lock()
	order := make([]string, 0, len(rows))
	next := make(map[string]*BucketVM, len(rows))
	for i := range rows {
		row := rows[i]
		if prev, ok := b.buckets[row.Name]; ok {
			row.MountState = prev.MountState
			row.MountPoint = prev.MountPoint
			row.Busy = prev.Busy
		}
		if row.MountState == "" {
			row.MountState = StateUnmounted
		}
		order = append(order, row.Name)
		next[row.Name] = &row
	}
	b.order = order
	b.buckets = next
	b.mu.Unlock()

	b.Publish(Event{Type: EventListChanged})
}

// Remove drops one bucket row.
func (b *Bus) Remove(name string) {
	b.mu.Lock()
	if _, ok := b.buckets[name]; ok {
		delete(b.buckets, name)
		order := b.order[:0]
		for _, n := range b.order {
			if n != name {
				order = append(order, n)
			}
		}
		b.order = order
	}
	b.mu.Unlock()

	b.Publish(Event{Type: EventListChanged})
}

// UpdateCounts patches bytes and count in place without a list rebuild.
// Scroll position and in-flight interactions in the frontend survive.
func (b *Bus) UpdateCounts(name string, bytes, count int64) bool {
	b.mu.Lock()
	vm, ok := b.buckets[name]
	if ok {
		vm.Bytes = bytes
		vm.Count = count
	}
	b.mu.Unlock()

	if ok {
		b.Publish(Event{Type: EventBucketUpdated, Bucket: name})
	}
	return ok
}

// SetMountState patches the mount state and point of one row.
func (b *Bus) SetMountState(name string, state MountState, mountPoint string) {
	b.mu.Lock()
	vm, ok := b.buckets[name]
	if ok {
		vm.MountState = state
		if mountPoint != "" {
			vm.MountPoint = mountPoint
		}
	}
	b.mu.Unlock()

	if ok {
		b.Publish(Event{Type: EventBucketUpdated, Bucket: name})
	}
}

// SetBusy marks a row as having an operation in flight.
func (b *Bus) SetBusy(name string, busy bool) {
	b.mu.Lock()
	vm, ok := b.buckets[name]
	if ok {
		vm.Busy = busy
	}
	b.mu.Unlock()

	if ok {
		b.Publish(Event{Type: EventBucketUpdated, Bucket: name})
	}
}

// SetPersistInstalled patches the auto-mount flag of one row.
func (b *Bus) SetPersistInstalled(name string, installed bool) {
	b.mu.Lock()
	vm, ok := b.buckets[name]
	if ok {
		vm.PersistInstalled = installed
	}
	b.mu.Unlock()

	if ok {
		b.Publish(Event{Type: EventBucketUpdated, Bucket: name})
	}
}

// Names returns the bucket names currently displayed.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}
