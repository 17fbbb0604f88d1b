package pmix

// Attribute and info-key names used throughout the coordination core. Values
// match the PMIx v4/v5 standard's attribute names; grounded on
// original_source/src/mpirshim.c and original_source/src/include/mpirshim.h.
const (
	AttrToolDoNotConnect     = "PMIX_TOOL_DO_NOT_CONNECT"
	AttrLauncher             = "PMIX_LAUNCHER"
	AttrConnectSystemFirst   = "PMIX_CONNECT_SYSTEM_FIRST"
	AttrServerPidinfo        = "PMIX_SERVER_PIDINFO"
	AttrPrefix               = "PMIX_PREFIX"
	AttrMapBy                = "PMIX_MAPBY"
	AttrFwdStdout            = "PMIX_FWD_STDOUT"
	AttrFwdStderr            = "PMIX_FWD_STDERR"
	AttrNotifyCompletion     = "PMIX_NOTIFY_COMPLETION"
	AttrNotifyJobEvents      = "PMIX_NOTIFY_JOB_EVENTS"
	AttrLaunchDirectives     = "PMIX_LAUNCH_DIRECTIVES"
	AttrDebugStopInInit      = "PMIX_DEBUG_STOP_IN_INIT"
	AttrEventNonDefault      = "PMIX_EVENT_NON_DEFAULT"
	AttrServerNspace         = "PMIX_SERVER_NSPACE"
	AttrServerRank           = "PMIX_SERVER_RANK"
	AttrServerURI            = "PMIX_SERVER_URI"
	AttrMyServerURI          = "PMIX_MYSERVER_URI"
	AttrQueryNamespaces      = "PMIX_QUERY_NAMESPACES"
	AttrQueryProcTable       = "PMIX_QUERY_PROC_TABLE"
	AttrExitCode             = "PMIX_EXIT_CODE"
	AttrJobTermStatus        = "PMIX_JOB_TERM_STATUS"
	AttrNspace               = "PMIX_NSPACE"
	AttrDebuggerRelease      = "PMIX_DEBUGGER_RELEASE"
	AttrEventActionComplete  = "PMIX_EVENT_ACTION_COMPLETE"
	EnvLauncherRendezvousURI = "LAUNCHER_RNDZ_URI"
)
