package shim

import (
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/mpirshim/internal/mpir"
	"github.com/microsoft/mpirshim/internal/pmix"
)

// LauncherTerminatedBy records how the launcher was observed to have ended,
// preserved for logging/telemetry attribution only (spec Open Question #2):
// nothing in the driver branches on the distinction.
type LauncherTerminatedBy int32

const (
	LauncherTerminatedNone LauncherTerminatedBy = iota
	LauncherTerminatedDirect
	LauncherTerminatedViaApp
)

func (l LauncherTerminatedBy) String() string {
	switch l {
	case LauncherTerminatedDirect:
		return "launcher"
	case LauncherTerminatedViaApp:
		return "application"
	default:
		return "none"
	}
}

// Context is the single owned "shim context" value threaded through every
// component: it holds every piece of state that is not itself an exported
// MPIR symbol. It is passed by reference to event handlers via closures.
type Context struct {
	Options Options
	Log     logr.Logger
	Tracer  trace.Tracer
	PMIx    pmix.Client
	RunID   string

	ToolIdentity     pmix.ProcRef
	LauncherIdentity pmix.ProcRef
	AppIdentity      pmix.ProcRef

	Latches *LatchSet

	mu            sync.Mutex
	sessionCount  int
	initCount     int
	identityReady bool

	debugState         atomic.Int32
	abortString        atomic.Pointer[string]
	launcherTerminated atomic.Int32
	appTerminated      atomic.Bool
	launcherExitCode   atomic.Int32

	proctableSet atomic.Bool
}

// NewContext builds a fresh shim context for one run.
func NewContext(opts Options, log logr.Logger, tracer trace.Tracer, client pmix.Client) *Context {
	runID := uuid.NewString()
	return &Context{
		Options: opts,
		Log:     log.WithValues("runID", runID),
		Tracer:  tracer,
		PMIx:    client,
		RunID:   runID,
		Latches: newLatchSet(),
		ToolIdentity: pmix.ProcRef{
			Namespace: toolNamespace(),
			Rank:      0,
		},
	}
}

func toolNamespace() string {
	return "mpirshim." + pidString()
}

// IncrementSessionCount records a new PMIx-server connection held by this
// tool: once from Init in NONPROXY and ATTACH, once from ConnectToServer in
// PROXY.
func (c *Context) IncrementSessionCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionCount++
}

// DecrementSessionCount is called from the default event handler whenever a
// lost-connection event is observed, unconditionally, per spec Open Question
// #3 (preserve the ordering even when the count is already at its floor).
func (c *Context) DecrementSessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionCount > 0 {
		c.sessionCount--
	}
	return c.sessionCount
}

func (c *Context) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionCount
}

// MarkInitialized/MarkFinalized implement the idempotent init-count tracking
// backing C2's finalize idempotence guarantee.
func (c *Context) MarkInitialized() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initCount++
}

// TryConsumeInit returns true (and decrements) only if there is an
// outstanding init to finalize; a no-op call returns false.
func (c *Context) TryConsumeInit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initCount <= 0 {
		return false
	}
	c.initCount--
	return true
}

func (c *Context) SetAppIdentity(id pmix.ProcRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AppIdentity = id
	c.identityReady = true
}

func (c *Context) AppIdentityReady() (pmix.ProcRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.AppIdentity, c.identityReady
}

// SetDebugState publishes both the shared MPIR_debug_state symbol and this
// context's mirror of it, enforcing the NULL->SPAWNED->ABORTING monotonicity
// (an ABORTING write always wins regardless of current value; a SPAWNED write
// is a no-op once already ABORTING).
func (c *Context) SetDebugState(s mpir.DebugState) {
	for {
		cur := mpir.DebugState(c.debugState.Load())
		if cur == mpir.DebugStateAborting {
			return
		}
		if s <= cur {
			return
		}
		if c.debugState.CompareAndSwap(int32(cur), int32(s)) {
			mpir.SetDebugState(s)
			return
		}
	}
}

func (c *Context) DebugState() mpir.DebugState {
	return mpir.DebugState(c.debugState.Load())
}

// SetAbortStringOnce implements the "first writer wins" resolution of spec
// Open Question #1: an atomic compare-and-swap on a pointer, rather than the
// original's unsynchronized volatile-pointer write.
func (c *Context) SetAbortStringOnce(reason string) {
	if c.abortString.CompareAndSwap(nil, &reason) {
		mpir.SetAbortString(reason)
	}
}

func (c *Context) AbortString() (string, bool) {
	p := c.abortString.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// MarkLauncherTerminated records how the launcher ended and releases every
// latch so the driver goroutine cannot hang (spec §4.7, §4.3).
func (c *Context) MarkLauncherTerminated(by LauncherTerminatedBy, exitCode int) {
	c.launcherTerminated.Store(int32(by))
	c.launcherExitCode.Store(int32(exitCode))
	c.Latches.ReleaseAll()
}

func (c *Context) LauncherTerminatedBy() LauncherTerminatedBy {
	return LauncherTerminatedBy(c.launcherTerminated.Load())
}

func (c *Context) LauncherExitCode() int {
	return int(c.launcherExitCode.Load())
}

func (c *Context) MarkAppTerminated() {
	c.appTerminated.Store(true)
}

func (c *Context) AppTerminated() bool {
	return c.appTerminated.Load()
}
