package shim

import (
	"context"
	"strconv"

	"github.com/microsoft/mpirshim/internal/mpir"
	"github.com/microsoft/mpirshim/internal/pmix"
)

// ResolveAttachTargets implements the ATTACH-only half of C5: it discovers
// the running launcher's namespace/rank from the tool's own keystore, then
// asks it which application namespace it spawned.
func ResolveAttachTargets(ctx context.Context, sc *Context) error {
	nspace, ok := sc.PMIx.GetServerInfo(ctx, pmix.AttrServerNspace)
	if !ok || nspace == "" {
		return newFatal("attach target did not report a launcher namespace")
	}

	rankStr, ok := sc.PMIx.GetServerInfo(ctx, pmix.AttrServerRank)
	if !ok {
		return newFatal("attach target did not report a launcher rank")
	}
	rank, err := strconv.Atoi(rankStr)
	if err != nil {
		return newFatal("attach target reported a malformed launcher rank %q", rankStr)
	}

	sc.LauncherIdentity = pmix.ProcRef{Namespace: nspace, Rank: pmix.Rank(rank)}

	appNamespace, err := sc.PMIx.QueryNamespaces(ctx, sc.LauncherIdentity)
	if err != nil {
		return &PMIxError{Op: "query_namespaces", Status: pmix.StatusError, Message: err.Error()}
	}
	if appNamespace == "" {
		return newFatal("attach target's launcher has not spawned an application namespace")
	}

	sc.SetAppIdentity(pmix.ProcRef{Namespace: appNamespace, Rank: pmix.RankWildcard})
	return nil
}

// ResolveProcTable implements the mode-independent half of C5: it queries the
// application's proc table and publishes it through the MPIR ABI (C9),
// completing the debugger-visible acquisition handshake.
func ResolveProcTable(ctx context.Context, sc *Context) error {
	appIdentity, ready := sc.AppIdentityReady()
	if !ready {
		return newFatal("proc table requested before the application namespace was known")
	}

	records, err := sc.PMIx.QueryProcTable(ctx, appIdentity.Namespace)
	if err != nil {
		return &PMIxError{Op: "query_proc_table", Status: pmix.StatusError, Message: err.Error()}
	}
	if len(records) == 0 {
		return newFatal("proc table query for namespace %q returned no rows", appIdentity.Namespace)
	}

	descs := make([]mpir.ProcDesc, len(records))
	for _, rec := range records {
		if rec.Hostname == "" || rec.ExecutableName == "" || rec.Pid <= 0 {
			return newFatal("malformed proc table row for namespace %q rank %d", appIdentity.Namespace, rec.Proc.Rank)
		}
		rank := int(rec.Proc.Rank)
		if rank < 0 || rank >= len(descs) {
			return newFatal("proc table row for namespace %q has out-of-range rank %d", appIdentity.Namespace, rank)
		}
		descs[rank] = mpir.ProcDesc{
			HostName:       rec.Hostname,
			ExecutableName: rec.ExecutableName,
			Pid:            rec.Pid,
		}
	}

	sc.SetDebugState(mpir.DebugStateSpawned)
	mpir.SetProcTable(descs)
	mpir.Breakpoint()

	return nil
}
