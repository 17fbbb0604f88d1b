// Package mpir implements the MPIR Process Acquisition Interface v1.1 symbol
// surface: the well-known globals and the MPIR_Breakpoint trap function that
// an external debugger reads and hooks via the process's symbol table.
//
// A pure Go build exposes no C-visible symbols for these names, so this
// package uses cgo purely as a stub to give MPIR_being_debugged,
// MPIR_proctable, and friends real, exported, debugger-visible symbols. No
// PMIx or coordination logic belongs here; internal/shim owns all of that and
// only calls into this package to publish results.
package mpir

/*
#include <stdlib.h>

// MPIR_PROCDESC layout is part of the external MPIR contract: field order and
// sizes must not change.
typedef struct {
	char *host_name;
	char *executable_name;
	int  pid;
} MPIR_PROCDESC;

volatile int MPIR_being_debugged = 0;
MPIR_PROCDESC *MPIR_proctable = NULL;
int MPIR_proctable_size = 0;
volatile int MPIR_debug_state = 0;
char *MPIR_debug_abort_string = NULL;
int MPIR_i_am_starter = 0;
int MPIR_force_to_main = 0;
int MPIR_partial_attach_ok = 0;
int MPIR_ignore_queues = 0;

__attribute__((noinline)) void MPIR_Breakpoint(void) {
	// Intentionally empty. Its only purpose is to be a stable symbol for the
	// debugger to set a breakpoint on.
}
*/
import "C"

import "unsafe"

// DebugState mirrors the MPIR_debug_state enum.
type DebugState int32

const (
	DebugStateNull     DebugState = 0
	DebugStateSpawned  DebugState = 1
	DebugStateAborting DebugState = 2
)

// ProcDesc mirrors one row of MPIR_PROCDESC, in Go-friendly form.
type ProcDesc struct {
	HostName       string
	ExecutableName string
	Pid            int
}

// breakpointHook, when non-nil, is invoked after MPIR_Breakpoint returns.
// It exists only so tests can observe that the breakpoint fired without
// attaching a real debugger; it is never set outside _test.go files.
var breakpointHook func()

// SetBreakpointHook installs (or clears, with nil) the test-only breakpoint
// observer. Not for use outside tests.
func SetBreakpointHook(hook func()) {
	breakpointHook = hook
}

// Breakpoint calls the exported MPIR_Breakpoint trap function.
func Breakpoint() {
	C.MPIR_Breakpoint()
	if breakpointHook != nil {
		breakpointHook()
	}
}

// SetDebugState publishes MPIR_debug_state. Per the MPIR contract this is the
// only field mutated after MPIR_being_debugged is read by the debugger.
func SetDebugState(s DebugState) {
	C.MPIR_debug_state = C.int(s)
}

// DebugStateValue reads back the current MPIR_debug_state, mostly useful for
// tests asserting monotonicity.
func DebugStateValue() DebugState {
	return DebugState(C.MPIR_debug_state)
}

// SetAbortString publishes MPIR_debug_abort_string. The caller (internal/shim)
// is responsible for ensuring this is only ever called once per process, via
// its own atomic compare-and-swap guard — this function itself performs a raw
// overwrite of the C global.
func SetAbortString(s string) {
	if MPIRDebugAbortStringSet() {
		C.free(unsafe.Pointer(C.MPIR_debug_abort_string))
	}
	C.MPIR_debug_abort_string = C.CString(s)
}

// MPIRDebugAbortStringSet reports whether MPIR_debug_abort_string has already
// been populated.
func MPIRDebugAbortStringSet() bool {
	return C.MPIR_debug_abort_string != nil
}

// SetProcTable allocates MPIR_proctable from descs and publishes
// MPIR_proctable_size. Ownership of the allocated C memory passes to this
// package; FreeProcTable releases it.
func SetProcTable(descs []ProcDesc) {
	n := len(descs)
	if n == 0 {
		C.MPIR_proctable = nil
		C.MPIR_proctable_size = 0
		return
	}

	size := C.size_t(n) * C.size_t(unsafe.Sizeof(C.MPIR_PROCDESC{}))
	table := (*C.MPIR_PROCDESC)(C.malloc(size))
	slice := unsafe.Slice(table, n)
	for i, d := range descs {
		slice[i].host_name = C.CString(d.HostName)
		slice[i].executable_name = C.CString(d.ExecutableName)
		slice[i].pid = C.int(d.Pid)
	}

	C.MPIR_proctable = table
	C.MPIR_proctable_size = C.int(n)
}

// FreeProcTable releases the proctable allocated by SetProcTable. Called
// exactly once, from the shutdown hook.
func FreeProcTable() {
	if C.MPIR_proctable == nil {
		return
	}

	n := int(C.MPIR_proctable_size)
	slice := unsafe.Slice(C.MPIR_proctable, n)
	for i := range slice {
		C.free(unsafe.Pointer(slice[i].host_name))
		C.free(unsafe.Pointer(slice[i].executable_name))
	}
	C.free(unsafe.Pointer(C.MPIR_proctable))
	C.MPIR_proctable = nil
	C.MPIR_proctable_size = 0
}

// ProcTableSize returns the currently published MPIR_proctable_size.
func ProcTableSize() int {
	return int(C.MPIR_proctable_size)
}

// ProcTableEntry returns a copy of the published proctable row at index i,
// for callers (mainly tests) that need to verify rank-to-slot placement
// without reaching into the C array themselves.
func ProcTableEntry(i int) ProcDesc {
	slice := unsafe.Slice(C.MPIR_proctable, int(C.MPIR_proctable_size))
	e := slice[i]
	return ProcDesc{
		HostName:       C.GoString(e.host_name),
		ExecutableName: C.GoString(e.executable_name),
		Pid:            int(e.pid),
	}
}

// SetIAmStarter, SetForceToMain, SetPartialAttachOk and SetIgnoreQueues
// publish the corresponding presence-flag symbols; the MPIR contract declares
// these as "presence flags", not assigned meaningfully, but this module
// exposes setters for completeness and testability.
func SetIAmStarter(v bool)       { C.MPIR_i_am_starter = boolToC(v) }
func SetForceToMain(v bool)      { C.MPIR_force_to_main = boolToC(v) }
func SetPartialAttachOk(v bool)  { C.MPIR_partial_attach_ok = boolToC(v) }
func SetIgnoreQueues(v bool)     { C.MPIR_ignore_queues = boolToC(v) }

func boolToC(v bool) C.int {
	if v {
		return 1
	}
	return 0
}

// BeingDebugged reads MPIR_being_debugged. The shim never writes this symbol
// itself; only an attached debugger sets it.
func BeingDebugged() bool {
	return C.MPIR_being_debugged != 0
}
