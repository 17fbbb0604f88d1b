package shim

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/microsoft/mpirshim/internal/pmix"
	"github.com/microsoft/mpirshim/internal/pmix/pmixfake"
)

func newRunConfig(mode Mode, runArgs []string, fake *pmixfake.Client) RunConfig {
	return RunConfig{
		Options: Options{Mode: mode, RunArgs: runArgs},
		Log:     logr.Discard(),
		Tracer:  noop.NewTracerProvider().Tracer("test"),
		PMIx:    fake,
	}
}

// TestScenarioHappyProxy exercises S1: a PROXY run whose launcher spawns,
// signals readiness, and later exits 0.
func TestScenarioHappyProxy(t *testing.T) {
	fake := pmixfake.New()
	defer fake.Close()
	fake.SetSpawnResult(pmixfake.SpawnResult{Namespace: "launcher-ns"})
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 0}, Hostname: "h0", ExecutableName: "hello", Pid: 100},
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 1}, Hostname: "h1", ExecutableName: "hello", Pid: 101},
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 2}, Hostname: "h2", ExecutableName: "hello", Pid: 102},
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 3}, Hostname: "h3", ExecutableName: "hello", Pid: 103},
	}, nil)

	cfg := newRunConfig(ModeProxy, []string{"mpirun", "-n", "4", "./hello"}, fake)

	resultCh := make(chan struct {
		code int
		err  error
	}, 1)
	go func() {
		code, err := Run(context.Background(), cfg)
		resultCh <- struct {
			code int
			err  error
		}{code, err}
	}()

	waitFor(t, func() bool { return len(fake.SpawnCalls()) == 1 })
	fake.Trigger(pmix.EventNotification{Code: pmix.EventLaunchComplete, Info: map[string]any{pmix.AttrNspace: "app-ns"}})
	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventReadyForDebug,
		Source: pmix.ProcRef{Namespace: "launcher-ns", Rank: 0},
	})

	waitFor(t, func() bool { return len(fake.Notifications()) >= 2 })
	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventJobTerminated,
		Source: pmix.ProcRef{Namespace: "launcher-ns", Rank: 0},
		Info:   map[string]any{pmix.AttrExitCode: 0},
	})

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Equal(t, 0, res.code)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete")
	}
}

// TestScenarioLauncherAbort exercises S4: the launcher exits with a non-zero
// code before ever reaching readiness.
func TestScenarioLauncherAbort(t *testing.T) {
	fake := pmixfake.New()
	defer fake.Close()
	fake.SetSpawnResult(pmixfake.SpawnResult{Namespace: "launcher-ns"})

	cfg := newRunConfig(ModeProxy, []string{"mpirun", "./bad"}, fake)

	resultCh := make(chan struct {
		code int
		err  error
	}, 1)
	go func() {
		code, err := Run(context.Background(), cfg)
		resultCh <- struct {
			code int
			err  error
		}{code, err}
	}()

	waitFor(t, func() bool { return len(fake.SpawnCalls()) == 1 })
	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventJobTerminated,
		Source: pmix.ProcRef{Namespace: "launcher-ns", Rank: 0},
		Info:   map[string]any{pmix.AttrExitCode: 42},
	})

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Equal(t, 42, res.code)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete")
	}
}

// TestScenarioInvalidAttach exercises S6: an attach request with PID 0 must
// fail during option resolution, before Run (and therefore before any PMIx
// call) is ever invoked.
func TestScenarioInvalidAttach(t *testing.T) {
	_, err := ResolveOptions(ModeAttach, 0, false, nil, "")
	require.Error(t, err)
	require.IsType(t, &ConfigError{}, err)
}

// TestScenarioHappyAttach exercises S2: an ATTACH run against an
// already-running launcher, with no release step at all.
func TestScenarioHappyAttach(t *testing.T) {
	fake := pmixfake.New()
	defer fake.Close()
	fake.SetServerInfo(pmix.AttrServerNspace, "launcher-ns")
	fake.SetServerInfo(pmix.AttrServerRank, "0")
	fake.SetNamespaceResponse("app.1", nil)
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app.1", Rank: 0}, Hostname: "h0", ExecutableName: "hi", Pid: 200},
		{Proc: pmix.ProcRef{Namespace: "app.1", Rank: 1}, Hostname: "h1", ExecutableName: "hi", Pid: 201},
	}, nil)

	cfg := newRunConfig(ModeAttach, nil, fake)
	cfg.Options.TargetPID = 12345

	code, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Empty(t, fake.Notifications(), "ATTACH mode must never release anything")
}

// TestScenarioNonProxyHappy exercises S3: a NONPROXY run never performs the
// post-spawn connect step (that step is PROXY-only), yet completes normally.
func TestScenarioNonProxyHappy(t *testing.T) {
	fake := pmixfake.New()
	defer fake.Close()
	fake.SetSpawnResult(pmixfake.SpawnResult{Namespace: "launcher-ns"})
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 0}, Hostname: "h0", ExecutableName: "hi", Pid: 300},
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 1}, Hostname: "h1", ExecutableName: "hi", Pid: 301},
	}, nil)

	cfg := newRunConfig(ModeNonProxy, []string{"prun", "-n", "2", "./hi"}, fake)

	resultCh := make(chan struct {
		code int
		err  error
	}, 1)
	go func() {
		code, err := Run(context.Background(), cfg)
		resultCh <- struct {
			code int
			err  error
		}{code, err}
	}()

	waitFor(t, func() bool { return len(fake.SpawnCalls()) == 1 })
	fake.Trigger(pmix.EventNotification{Code: pmix.EventLaunchComplete, Info: map[string]any{pmix.AttrNspace: "app-ns"}})
	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventReadyForDebug,
		Source: pmix.ProcRef{Namespace: "launcher-ns", Rank: 0},
	})

	waitFor(t, func() bool { return len(fake.Notifications()) >= 2 })
	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventJobTerminated,
		Source: pmix.ProcRef{Namespace: "launcher-ns", Rank: 0},
		Info:   map[string]any{pmix.AttrExitCode: 0},
	})

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.Equal(t, 0, res.code)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not complete")
	}
}

// TestScenarioLostConnectionMidRun exercises S5: the default handler receives
// LOST_CONNECTION_TO_SERVER with only one session remaining while the driver
// waits on launch-term, and osExit(1) fires instead of Run returning normally.
func TestScenarioLostConnectionMidRun(t *testing.T) {
	exitCode := stubOsExit(t)

	fake := pmixfake.New()
	defer fake.Close()
	fake.SetSpawnResult(pmixfake.SpawnResult{Namespace: "launcher-ns"})
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 0}, Hostname: "h0", ExecutableName: "hello", Pid: 400},
	}, nil)

	cfg := newRunConfig(ModeProxy, []string{"mpirun", "./hello"}, fake)

	go func() { _, _ = Run(context.Background(), cfg) }()

	waitFor(t, func() bool { return len(fake.SpawnCalls()) == 1 })
	fake.Trigger(pmix.EventNotification{Code: pmix.EventLaunchComplete, Info: map[string]any{pmix.AttrNspace: "app-ns"}})
	fake.Trigger(pmix.EventNotification{
		Code:   pmix.EventReadyForDebug,
		Source: pmix.ProcRef{Namespace: "launcher-ns", Rank: 0},
	})

	waitFor(t, func() bool { return len(fake.Notifications()) >= 2 })
	fake.Trigger(pmix.EventNotification{Code: pmix.EventLostConnectionToServer})

	waitFor(t, func() bool { return *exitCode != notExited })
	require.Equal(t, 1, *exitCode)
}
