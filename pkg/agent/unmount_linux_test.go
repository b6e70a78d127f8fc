package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmount_ModeCommands(t *testing.T) {
	a := testAdapter(t)

	type call struct {
		name string
		args []string
	}
	var calls []call
	a.runCmd = func(_ context.Context, name string, args ...string) error {
		calls = append(calls, call{name, args})
		return nil
	}

	mp := "/home/alice/haio-alice-docs"
	require.NoError(t, a.Unmount(context.Background(), mp, UnmountGraceful))
	require.NoError(t, a.Unmount(context.Background(), mp, UnmountForced))
	require.NoError(t, a.Unmount(context.Background(), mp, UnmountLazy))

	require.Len(t, calls, 3)
	assert.Equal(t, call{"fusermount", []string{"-u", mp}}, calls[0])
	assert.Equal(t, call{"fusermount", []string{"-uz", mp}}, calls[1])
	assert.Equal(t, call{"umount", []string{"-l", mp}}, calls[2])
}
