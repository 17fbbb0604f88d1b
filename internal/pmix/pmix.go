// Package pmix models the PMIx tool API as an interface: init/finalize, spawn,
// query, event registration, and notify. The real PMIx client library (libpmix)
// is an external collaborator and is never linked here; production wiring is
// expected to satisfy Client with a cgo adapter over libpmix, while this module
// exercises the coordination core against the fake in pmixfake.
package pmix

import "context"

// Status mirrors the small set of pmix_status_t values the coordination core
// actually branches on.
type Status int

const (
	StatusSuccess Status = iota
	StatusOperationSucceeded
	StatusError
)

// OK reports whether the status represents a successful PMIx call. Both
// PMIX_SUCCESS and PMIX_OPERATION_SUCCEEDED are treated as success throughout
// this package, matching the spawn and release protocol acceptance rules.
func (s Status) OK() bool {
	return s == StatusSuccess || s == StatusOperationSucceeded
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "PMIX_SUCCESS"
	case StatusOperationSucceeded:
		return "PMIX_OPERATION_SUCCEEDED"
	default:
		return "PMIX_ERROR"
	}
}

// Rank is a PMIx rank. RankWildcard addresses every rank in a namespace.
type Rank int32

const RankWildcard Rank = -1

// ProcRef identifies a namespace/rank pair.
type ProcRef struct {
	Namespace string
	Rank      Rank
}

// EventCode enumerates the PMIx notifications the shim's registry cares about.
type EventCode int

const (
	// EventAny matches every event; used only by the default handler.
	EventAny EventCode = iota
	EventLaunchComplete
	EventReadyForDebug
	EventJobTerminated
	EventLostConnectionToServer
)

func (c EventCode) String() string {
	switch c {
	case EventLaunchComplete:
		return "PMIX_LAUNCH_COMPLETE"
	case EventReadyForDebug:
		return "PMIX_READY_FOR_DEBUG"
	case EventJobTerminated:
		return "PMIX_JOB_TERMINATED"
	case EventLostConnectionToServer:
		return "PMIX_ERR_LOST_CONNECTION_TO_SERVER"
	default:
		return "PMIX_EVENT_ANY"
	}
}

// EventNotification is what an event handler receives.
type EventNotification struct {
	Code   EventCode
	Source ProcRef
	Info   map[string]any
}

// EventCompleteFunc is the continuation a handler must invoke once it has
// finished processing a notification, per the PMIx event chaining contract.
type EventCompleteFunc func(Status)

// EventHandlerFunc is a registered event handler.
type EventHandlerFunc func(ctx context.Context, ev EventNotification, complete EventCompleteFunc)

// InitOptions bundles the attributes passed to tool init.
type InitOptions struct {
	ToolIdentity ProcRef
	Attrs        map[string]any
	Prefix       string
}

// AppContext describes one spawned application context (here, always the
// launcher: a single process with argv/cwd/env).
type AppContext struct {
	Command  string
	Argv     []string
	Cwd      string
	Env      []string
	MaxProcs int
}

// SpawnDirectives carries the job- and launch-level attributes attached to a
// spawn call (mapby, forwarding, notification, and nested launch directives).
type SpawnDirectives map[string]any

// ProcRecord is one row of a PMIX_QUERY_PROC_TABLE response.
type ProcRecord struct {
	Proc           ProcRef
	Hostname       string
	ExecutableName string
	Pid            int
	ExitCode       int
	State          string
}

// Client is the PMIx tool collaborator interface. Every method may block and
// takes a context so the driver can bound how long it waits.
type Client interface {
	ToolInit(ctx context.Context, opts InitOptions) error
	ToolFinalize(ctx context.Context) error

	// Spawn launches app and returns the resulting namespace.
	Spawn(ctx context.Context, app AppContext, directives SpawnDirectives) (namespace string, err error)

	// ConnectToServer waits for the tool to complete a deferred connection to
	// the PMIx server (used after a PROXY-mode spawn with DO_NOT_CONNECT).
	ConnectToServer(ctx context.Context) error

	// RegisterEventHandler asks PMIx to register handler for code (and,
	// if filter is non-nil, only for events whose source matches it). This
	// mirrors PMIx_Register_event_handler's asynchronous completion contract:
	// the call itself may return before registration is complete, and
	// onRegistered is invoked exactly once, later, with the assigned handler
	// id and the registration status.
	RegisterEventHandler(ctx context.Context, name string, code EventCode, filter *ProcRef, handler EventHandlerFunc, onRegistered func(handlerID int, status Status)) error
	DeregisterEventHandler(ctx context.Context, handlerID int) error

	// QueryNamespaces resolves the application namespace spawned by launcher.
	QueryNamespaces(ctx context.Context, launcher ProcRef) (string, error)

	// QueryProcTable resolves the per-rank process table for appNamespace.
	QueryProcTable(ctx context.Context, appNamespace string) ([]ProcRecord, error)

	// GetServerInfo looks up a single-valued attribute from the tool's own
	// keystore (SERVER_NSPACE, SERVER_RANK, SERVER_URI, MYSERVER_URI, ...).
	GetServerInfo(ctx context.Context, key string) (string, bool)

	// Notify sends a job-control event (used for PMIX_DEBUGGER_RELEASE).
	Notify(ctx context.Context, event string, target ProcRef, info map[string]any) error
}
