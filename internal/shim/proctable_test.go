package shim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/mpirshim/internal/mpir"
	"github.com/microsoft/mpirshim/internal/pmix"
)

func TestResolveAttachTargetsRequiresServerNspace(t *testing.T) {
	sc, _ := newTestContext(t, Options{Mode: ModeAttach, TargetPID: 1})
	err := ResolveAttachTargets(context.Background(), sc)
	require.Error(t, err)
	require.IsType(t, &FatalError{}, err)
}

func TestResolveAttachTargetsPopulatesIdentities(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeAttach, TargetPID: 1})
	fake.SetServerInfo(pmix.AttrServerNspace, "launcher-ns")
	fake.SetServerInfo(pmix.AttrServerRank, "0")
	fake.SetNamespaceResponse("app-ns", nil)

	require.NoError(t, ResolveAttachTargets(context.Background(), sc))
	require.Equal(t, "launcher-ns", sc.LauncherIdentity.Namespace)

	appID, ready := sc.AppIdentityReady()
	require.True(t, ready)
	require.Equal(t, "app-ns", appID.Namespace)
	require.Equal(t, pmix.RankWildcard, appID.Rank)
}

func TestResolveProcTableRequiresAppIdentity(t *testing.T) {
	sc, _ := newTestContext(t, Options{Mode: ModeProxy})
	err := ResolveProcTable(context.Background(), sc)
	require.Error(t, err)
	require.IsType(t, &FatalError{}, err)
}

func TestResolveProcTablePublishesAndBreaks(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	sc.SetAppIdentity(pmix.ProcRef{Namespace: "app-ns", Rank: pmix.RankWildcard})
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 0}, Hostname: "node1", ExecutableName: "app", Pid: 111},
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 1}, Hostname: "node2", ExecutableName: "app", Pid: 222},
	}, nil)

	broke := false
	mpir.SetBreakpointHook(func() { broke = true })
	defer mpir.SetBreakpointHook(nil)
	defer mpir.FreeProcTable()

	require.NoError(t, ResolveProcTable(context.Background(), sc))
	require.True(t, broke)
	require.Equal(t, mpir.DebugStateSpawned, sc.DebugState())
	require.Equal(t, 2, mpir.ProcTableSize())
}

func TestResolveProcTableRejectsEmptyResponse(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	sc.SetAppIdentity(pmix.ProcRef{Namespace: "app-ns", Rank: pmix.RankWildcard})
	fake.SetProcTableResponse(nil, nil)

	err := ResolveProcTable(context.Background(), sc)
	require.Error(t, err)
	require.IsType(t, &FatalError{}, err)
}

func TestResolveProcTableRejectsMalformedRow(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	sc.SetAppIdentity(pmix.ProcRef{Namespace: "app-ns", Rank: pmix.RankWildcard})
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 0}, Hostname: "", Pid: 0},
	}, nil)

	err := ResolveProcTable(context.Background(), sc)
	require.Error(t, err)
	require.IsType(t, &FatalError{}, err)
}

func TestResolveProcTableRejectsMissingExecutableName(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	sc.SetAppIdentity(pmix.ProcRef{Namespace: "app-ns", Rank: pmix.RankWildcard})
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 0}, Hostname: "node1", ExecutableName: "", Pid: 111},
	}, nil)

	err := ResolveProcTable(context.Background(), sc)
	require.Error(t, err)
	require.IsType(t, &FatalError{}, err)
}

// TestResolveProcTablePlacesRowsByRankNotArrivalOrder exercises spec §4.5:
// records may arrive in any order, but must land at their rank's index.
func TestResolveProcTablePlacesRowsByRankNotArrivalOrder(t *testing.T) {
	sc, fake := newTestContext(t, Options{Mode: ModeProxy})
	sc.SetAppIdentity(pmix.ProcRef{Namespace: "app-ns", Rank: pmix.RankWildcard})
	fake.SetProcTableResponse([]pmix.ProcRecord{
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 2}, Hostname: "node2", ExecutableName: "app", Pid: 333},
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 0}, Hostname: "node0", ExecutableName: "app", Pid: 111},
		{Proc: pmix.ProcRef{Namespace: "app-ns", Rank: 1}, Hostname: "node1", ExecutableName: "app", Pid: 222},
	}, nil)

	defer mpir.FreeProcTable()

	require.NoError(t, ResolveProcTable(context.Background(), sc))
	require.Equal(t, 3, mpir.ProcTableSize())
	require.Equal(t, 111, mpir.ProcTableEntry(0).Pid)
	require.Equal(t, 222, mpir.ProcTableEntry(1).Pid)
	require.Equal(t, 333, mpir.ProcTableEntry(2).Pid)
}
