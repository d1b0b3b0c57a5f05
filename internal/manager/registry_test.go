package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskfarm/engine/pkg/types"
)

func TestProcessRegistrySequentialIDs(t *testing.T) {
	r := NewProcessRegistry()

	first := r.Register()
	second := r.Register()
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 2, r.Count())

	// Ids are never reused after unregistration.
	_, ok := r.Unregister(first)
	require.True(t, ok)
	third := r.Register()
	assert.Equal(t, 3, third)
}

func TestProcessRegistryCheckoutAndRelease(t *testing.T) {
	r := NewProcessRegistry()
	pid := r.Register()

	t1 := &types.Task{ID: "a_0", Tag: "a"}
	t2 := &types.Task{ID: "a_1", Tag: "a"}
	r.Checkout(pid, t1)
	r.Checkout(pid, t2)

	r.Release(pid, t1)
	tasks, ok := r.Unregister(pid)
	require.True(t, ok)
	require.Len(t, tasks, 1)
	assert.Equal(t, "a_1", tasks[0].ID)
}

func TestProcessRegistryUnregisterUnknown(t *testing.T) {
	r := NewProcessRegistry()

	_, ok := r.Unregister(42)
	assert.False(t, ok)

	// Double unregister is a no-op.
	pid := r.Register()
	_, ok = r.Unregister(pid)
	assert.True(t, ok)
	_, ok = r.Unregister(pid)
	assert.False(t, ok)
}

func TestProcessRegistryIgnoresUntrackedProcess(t *testing.T) {
	r := NewProcessRegistry()

	task := &types.Task{ID: "a_0", Tag: "a"}
	r.Checkout(99, task) // never registered
	r.Release(99, task)
	assert.Equal(t, 0, r.Count())
	assert.False(t, r.Active(99))
}
