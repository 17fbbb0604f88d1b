package shim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShutdownHooksRunOnlyOnce(t *testing.T) {
	hooks := NewShutdownHooks()

	calls := 0
	hooks.Add(func() { calls++ })
	hooks.Add(func() { calls++ })

	hooks.Run()
	hooks.Run()

	require.Equal(t, 2, calls)
}

func TestShutdownHooksRunInLIFOOrder(t *testing.T) {
	hooks := NewShutdownHooks()

	var order []int
	hooks.Add(func() { order = append(order, 1) })
	hooks.Add(func() { order = append(order, 2) })
	hooks.Add(func() { order = append(order, 3) })

	hooks.Run()

	require.Equal(t, []int{3, 2, 1}, order)
}

func TestInstallSignalHandlerStopBeforeSignalDoesNotRunHooks(t *testing.T) {
	hooks := NewShutdownHooks()
	ran := false
	hooks.Add(func() { ran = true })

	stop := InstallSignalHandler(hooks)
	stop()

	require.False(t, ran, "stopping before any signal must not run the hooks")
}
