package shim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/mpirshim/internal/mpir"
	"github.com/microsoft/mpirshim/internal/pmix"
)

// notExited is the sentinel stubOsExit's box starts at; a real exit code
// always overwrites it, so callers can tell "not exited yet" from exit(0).
const notExited = -1

// stubOsExit overrides the package-level osExit for the duration of the test
// and returns a box that osExit writes its argument into. The box itself
// (the returned *int) never changes identity, so callers can poll *box from
// a different goroutine than the one that eventually calls osExit.
func stubOsExit(t *testing.T) *int {
	t.Helper()
	code := new(int)
	*code = notExited
	prev := osExit
	osExit = func(c int) { *code = c }
	t.Cleanup(func() { osExit = prev })
	return code
}

func TestHandleLaunchCompleteSetsAppIdentityAndPostsLatch(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	registry := NewRegistry(sc)

	require.NoError(t, Init(context.Background(), sc))
	_, err := registry.RegisterLauncherComplete(context.Background())
	require.NoError(t, err)

	fake.Trigger(pmix.EventNotification{
		Code: pmix.EventLaunchComplete,
		Info: map[string]any{pmix.AttrNspace: "app-ns-1"},
	})

	waitFor(t, func() bool {
		id, ready := sc.AppIdentityReady()
		return ready && id.Namespace == "app-ns-1"
	})
}

func TestHandleLauncherTerminatedSetsAbortStateOnNonZeroExit(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	sc.LauncherIdentity = pmix.ProcRef{Namespace: "launcher-ns", Rank: 0}
	registry := NewRegistry(sc)

	require.NoError(t, Init(context.Background(), sc))
	_, err := registry.RegisterLauncherTerminated(context.Background())
	require.NoError(t, err)

	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventJobTerminated,
		Source: sc.LauncherIdentity,
		Info:   map[string]any{pmix.AttrExitCode: 7},
	})

	waitFor(t, func() bool { return sc.LauncherExitCode() == 7 })
	require.Equal(t, mpir.DebugStateAborting, sc.DebugState())
	reason, ok := sc.AbortString()
	require.True(t, ok)
	require.Contains(t, reason, "7")
	require.Equal(t, LauncherTerminatedDirect, sc.LauncherTerminatedBy())
}

func TestHandleLauncherTerminatedZeroExitDoesNotAbort(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	sc.LauncherIdentity = pmix.ProcRef{Namespace: "launcher-ns", Rank: 0}
	registry := NewRegistry(sc)

	require.NoError(t, Init(context.Background(), sc))
	_, err := registry.RegisterLauncherTerminated(context.Background())
	require.NoError(t, err)

	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventJobTerminated,
		Source: sc.LauncherIdentity,
		Info:   map[string]any{pmix.AttrExitCode: 0},
	})

	waitFor(t, func() bool { return sc.LauncherTerminatedBy() == LauncherTerminatedDirect })
	require.Equal(t, mpir.DebugStateNull, sc.DebugState())
	_, ok := sc.AbortString()
	require.False(t, ok)
}

func TestHandleDefaultLostConnectionExitsWhenLastSession(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	registry := NewRegistry(sc)

	sc.IncrementSessionCount()

	require.NoError(t, Init(context.Background(), sc))
	_, err := registry.RegisterDefault(context.Background())
	require.NoError(t, err)

	code := stubOsExit(t)

	fake.Trigger(pmix.EventNotification{Code: pmix.EventLostConnectionToServer})

	waitFor(t, func() bool { return *code != notExited })
	require.Equal(t, 1, *code)
}

func TestRegistryDeregisterAllUnwindsEveryInstalledHandler(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	registry := NewRegistry(sc)

	require.NoError(t, Init(context.Background(), sc))
	_, err := registry.RegisterDefault(context.Background())
	require.NoError(t, err)
	_, err = registry.RegisterLauncherComplete(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, fake.RegisteredHandlerCount())

	registry.DeregisterAll(context.Background())
	require.Equal(t, 0, fake.RegisteredHandlerCount())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was not satisfied in time")
}
