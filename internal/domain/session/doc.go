// Package session owns the runtime session state machine.
//
// One session is one execution attempt of an untrusted capsule bundle:
//
//	idle --Start--> loading --manifest + ready handshake--> ready
//	any state --timeout or error--> error
//	error/ready --Stop--> idle
//	any state --Dispose--> disposed (terminal)
//
// The session is the sole owner and sole mutator of its state; consumers
// receive immutable snapshots. All failures funnel through one internal
// error transition, and the system fails closed: ambiguous or
// unverifiable states resolve to error, never to ready.
//
// Two budget timers bound every attempt. The boot timer terminates a
// bundle that never signals readiness; the run timer bounds total
// wall-clock execution even for a healthy session. Once ready is reached
// the boot timer is cleared, so the two timeouts are mutually exclusive
// for a given run ID. Stop and Dispose deterministically clear both
// timers before returning.
package session
