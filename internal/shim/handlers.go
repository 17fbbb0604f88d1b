package shim

import (
	"context"
	"fmt"
	"os"

	"github.com/smallnest/chanx"

	"github.com/microsoft/mpirshim/internal/mpir"
	"github.com/microsoft/mpirshim/internal/pmix"
	"github.com/microsoft/mpirshim/internal/telemetry"
	"github.com/microsoft/mpirshim/pkg/concurrency"
	"github.com/microsoft/mpirshim/pkg/syncmap"
)

// osExit is os.Exit, indirected so tests can observe the callback-safe
// termination path without killing the test binary.
var osExit = os.Exit

type queuedEvent struct {
	ctx      context.Context
	ev       pmix.EventNotification
	complete pmix.EventCompleteFunc
}

// Registry implements C3: it registers the five named handlers, serialising
// registration through the registration latch, and fans deliverered events
// out through a per-handler unbounded queue so a slow handler can never block
// the PMIx collaborator's own callback delivery goroutine.
type Registry struct {
	sc *Context

	// handlers tracks every handler this registry has successfully installed,
	// name to PMIx-assigned id, so DeregisterAll can unwind them at shutdown.
	handlers syncmap.Map[string, int]
}

func NewRegistry(sc *Context) *Registry {
	return &Registry{sc: sc}
}

// registrationResult is the payload the async completion callback hands to
// the goroutine blocked in register.
type registrationResult struct {
	id     int
	status pmix.Status
}

// register performs the two-step registration procedure from spec §4.3: call
// PMIx register, then wait on the registration latch for the asynchronous
// completion callback to run. The completion callback and the waiting
// goroutine rendezvous through a OneTimeJob rather than shared plain
// variables, so the handler id/status handoff itself is race-free; the latch
// additionally unblocks the wait early if the launcher is torn down before
// the callback ever fires.
func (r *Registry) register(ctx context.Context, name string, code pmix.EventCode, filter *pmix.ProcRef, fn func(ctx context.Context, ev pmix.EventNotification)) (int, error) {
	queue := chanx.NewUnboundedChan[queuedEvent](context.Background(), 16)
	go func() {
		for qe := range queue.Out {
			_ = telemetry.CallWithTelemetryNoResult(r.sc.Tracer, "shim.handler."+name, qe.ctx, func(spanCtx context.Context) error {
				fn(spanCtx, qe.ev)
				return nil
			})
			qe.complete(pmix.StatusSuccess)
		}
	}()

	wrapped := func(cbCtx context.Context, ev pmix.EventNotification, complete pmix.EventCompleteFunc) {
		queue.In <- queuedEvent{ctx: cbCtx, ev: ev, complete: complete}
	}

	job := concurrency.NewOneTimeJob[registrationResult]()

	err := r.sc.PMIx.RegisterEventHandler(ctx, name, code, filter, wrapped, func(handlerID int, status pmix.Status) {
		if job.TryTake() {
			job.Complete(registrationResult{id: handlerID, status: status})
		}
		r.sc.Latches.Registration.Post()
	})
	if err != nil {
		return 0, &PMIxError{Op: "register:" + name, Status: pmix.StatusError, Message: err.Error()}
	}

	r.sc.Latches.Registration.Wait(ctx)

	if !job.IsDone() {
		return 0, &PMIxError{Op: "register:" + name, Status: pmix.StatusError, Message: "registration aborted before the completion callback fired"}
	}

	result := job.WaitResult()
	if !result.status.OK() {
		return 0, &PMIxError{Op: "register:" + name, Status: result.status}
	}

	r.handlers.Store(name, result.id)
	return result.id, nil
}

// DeregisterAll unregisters every handler this registry installed. Called
// from a shutdown hook, ahead of tool finalize, so a real PMIx server never
// sees event callbacks fire after the tool session it belongs to is torn
// down. Best effort: one failed deregistration must not stop the others or
// block teardown.
func (r *Registry) DeregisterAll(ctx context.Context) {
	r.handlers.Range(func(name string, id int) bool {
		if err := r.sc.PMIx.DeregisterEventHandler(ctx, id); err != nil {
			r.sc.Log.Error(err, "failed to deregister event handler", "name", name)
		}
		return true
	})
}

// RegisterDefault registers the catch-all handler (spec §4.3, "Default").
func (r *Registry) RegisterDefault(ctx context.Context) (int, error) {
	return r.register(ctx, "default", pmix.EventAny, nil, r.handleDefault)
}

// RegisterLauncherComplete registers the LAUNCH_COMPLETE handler.
func (r *Registry) RegisterLauncherComplete(ctx context.Context) (int, error) {
	return r.register(ctx, "launcher-complete", pmix.EventLaunchComplete, nil, r.handleLaunchComplete)
}

// RegisterLauncherReady registers the READY_FOR_DEBUG handler, filtered to
// the launcher's own namespace.
func (r *Registry) RegisterLauncherReady(ctx context.Context) (int, error) {
	filter := r.sc.LauncherIdentity
	return r.register(ctx, "launcher-ready", pmix.EventReadyForDebug, &filter, r.handleLauncherReady)
}

// RegisterLauncherTerminated registers the JOB_TERMINATED handler filtered to
// the launcher.
func (r *Registry) RegisterLauncherTerminated(ctx context.Context) (int, error) {
	filter := r.sc.LauncherIdentity
	return r.register(ctx, "launcher-terminated", pmix.EventJobTerminated, &filter, r.handleLauncherTerminated)
}

// RegisterApplicationTerminated registers the JOB_TERMINATED handler filtered
// to the application (PROXY only, per spec §4.10).
func (r *Registry) RegisterApplicationTerminated(ctx context.Context) (int, error) {
	filter := r.sc.AppIdentity
	return r.register(ctx, "application-terminated", pmix.EventJobTerminated, &filter, r.handleApplicationTerminated)
}

func (r *Registry) handleDefault(ctx context.Context, ev pmix.EventNotification) {
	if ev.Code != pmix.EventLostConnectionToServer {
		return
	}

	remaining := r.sc.DecrementSessionCount()
	if remaining <= 0 {
		// The event may have arrived inside a PMIx callback where calling
		// tool-finalize could deadlock; release every latch and terminate
		// immediately instead of routing through the normal shutdown path.
		r.sc.Log.Info("lost connection to pmix server with no sessions remaining, exiting immediately")
		r.sc.Latches.ReleaseAll()
		osExit(1)
	}
}

func (r *Registry) handleLaunchComplete(ctx context.Context, ev pmix.EventNotification) {
	var appNamespace string
	if ns, ok := ev.Info[pmix.AttrNspace].(string); ok && ns != "" {
		appNamespace = ns
	}

	if appNamespace == "" {
		r.sc.Log.Error(fmt.Errorf("no application namespace in LAUNCH_COMPLETE event"), "fatal: missing application namespace")
		osExit(1)
		return
	}

	r.sc.SetAppIdentity(pmix.ProcRef{Namespace: appNamespace, Rank: pmix.RankWildcard})
	r.sc.Latches.LaunchComplete.Post()
}

func (r *Registry) handleLauncherReady(ctx context.Context, ev pmix.EventNotification) {
	r.sc.Latches.ReadyForDebug.Post()
}

func (r *Registry) handleLauncherTerminated(ctx context.Context, ev pmix.EventNotification) {
	exitCode := extractExitCode(ev.Info)
	r.recordTermination("launcher", exitCode)
	r.sc.Latches.LaunchTerm.Post()
	r.sc.MarkLauncherTerminated(LauncherTerminatedDirect, exitCode)
}

func (r *Registry) handleApplicationTerminated(ctx context.Context, ev pmix.EventNotification) {
	exitCode := extractExitCode(ev.Info)
	r.recordTermination("application", exitCode)
	r.sc.MarkAppTerminated()
	r.sc.MarkLauncherTerminated(LauncherTerminatedViaApp, exitCode)
}

func (r *Registry) recordTermination(subject string, exitCode int) {
	if exitCode == 0 {
		return
	}
	r.sc.SetDebugState(mpir.DebugStateAborting)
	r.sc.SetAbortStringOnce(fmt.Sprintf("The %s exited with return code %d", subject, exitCode))
}

func extractExitCode(info map[string]any) int {
	if v, ok := info[pmix.AttrExitCode]; ok {
		if i, ok := v.(int); ok {
			return i
		}
	}
	if v, ok := info[pmix.AttrJobTermStatus]; ok {
		if i, ok := v.(int); ok {
			return i
		}
	}
	return 0
}
