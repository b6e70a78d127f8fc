package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haio-cloud/haio-client/pkg/fault"
)

func drainEvents(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestSubmit_AssignsCorrelationID(t *testing.T) {
	b := New()

	cmd, err := b.Submit(Command{Type: CmdMount, Container: "docs"})
	require.NoError(t, err)
	assert.NotEmpty(t, cmd.ID)

	got := <-b.Commands()
	assert.Equal(t, cmd.ID, got.ID)
	assert.Equal(t, CmdMount, got.Type)
}

func TestSubmit_PreservesArrivalOrder(t *testing.T) {
	b := New()

	first, err := b.Submit(Command{Type: CmdMount, Container: "docs"})
	require.NoError(t, err)
	second, err := b.Submit(Command{Type: CmdUnmount, Container: "docs"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, (<-b.Commands()).ID)
	assert.Equal(t, second.ID, (<-b.Commands()).ID)
}

func TestSubmit_FullQueueReturnsErrBusy(t *testing.T) {
	b := New()
	for i := 0; i < commandBacklog; i++ {
		_, err := b.Submit(Command{Type: CmdMount})
		require.NoError(t, err)
	}

	_, err := b.Submit(Command{Type: CmdMount})
	assert.ErrorIs(t, err, ErrBusy)
}

func TestSetBuckets_PreservesRowIdentity(t *testing.T) {
	b := New()
	b.SetBuckets([]BucketVM{{Name: "docs", Bytes: 10, Count: 1}})
	b.SetMountState("docs", StateMounted, "/home/alice/haio-alice-docs")
	b.SetPersistInstalled("docs", true)

	// A rebuild with fresh server data must not lose local mount state, but
	// the persist flag follows the incoming row: the unit file was removed
	// out of band, and the rebuild carries the fresh probe result.
	b.SetBuckets([]BucketVM{
		{Name: "docs", Bytes: 20, Count: 2},
		{Name: "media", Bytes: 5, Count: 1, PersistInstalled: true},
	})

	rows := b.Snapshot()
	require.Len(t, rows, 2)
	assert.Equal(t, "docs", rows[0].Name)
	assert.Equal(t, int64(20), rows[0].Bytes)
	assert.Equal(t, StateMounted, rows[0].MountState)
	assert.Equal(t, "/home/alice/haio-alice-docs", rows[0].MountPoint)
	assert.False(t, rows[0].PersistInstalled)

	assert.Equal(t, StateUnmounted, rows[1].MountState)
	assert.True(t, rows[1].PersistInstalled)
}

func TestUpdateCounts_InPlace(t *testing.T) {
	b := New()
	b.SetBuckets([]BucketVM{{Name: "docs", Bytes: 10, Count: 1}})

	events, cancel := b.Subscribe()
	defer cancel()

	assert.True(t, b.UpdateCounts("docs", 30, 3))
	assert.False(t, b.UpdateCounts("ghost", 1, 1))

	vm, ok := b.Get("docs")
	require.True(t, ok)
	assert.Equal(t, int64(30), vm.Bytes)
	assert.Equal(t, int64(3), vm.Count)

	got := drainEvents(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventBucketUpdated, got[0].Type)
	assert.Equal(t, "docs", got[0].Bucket)
}

func TestRemove(t *testing.T) {
	b := New()
	b.SetBuckets([]BucketVM{{Name: "docs"}, {Name: "media"}})

	b.Remove("docs")

	assert.Equal(t, []string{"media"}, b.Names())
	_, ok := b.Get("docs")
	assert.False(t, ok)
}

func TestFail_UnpacksFaultError(t *testing.T) {
	b := New()
	events, cancel := b.Subscribe()
	defer cancel()

	err := fault.New(fault.PersistUserCancelled, "elevation declined").
		WithRemediation("sudo rm /etc/systemd/system/haio-alice-docs.service")
	b.Fail("cmd-1", err)

	got := drainEvents(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.Equal(t, "cmd-1", got[0].CorrelationID)
	assert.Equal(t, fault.PersistUserCancelled, got[0].Kind)
	assert.Equal(t, "elevation declined", got[0].Detail)
	assert.NotEmpty(t, got[0].Remediation)
}

func TestSubscribe_SlowListenerDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	events, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 200; i++ {
		b.Status("tick", time.Second)
	}

	// Publisher never blocked; the listener sees at most its buffer.
	assert.LessOrEqual(t, len(drainEvents(events)), 128)
}

func TestSubscribe_CancelIsIdempotent(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe()
	cancel()
	cancel()

	// Publishing after cancellation must not panic on a closed channel.
	b.Status("still alive", time.Second)
}
