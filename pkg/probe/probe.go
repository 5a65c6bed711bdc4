// Package probe implements the health probe strategies used by the monitor
// supervisor. Two strategies share one contract: the A2S probe queries the
// server's query endpoint and requires sustained failures before declaring
// the server down, while the process probe inspects the remote process and
// treats a single bad result as authoritative.
//
// The asymmetry is intentional: per-call process checks are assumed
// reliable, A2S queries over UDP are not, so only the latter is debounced.
// Do not unify the two policies.
package probe

import (
	"context"
	"fmt"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// Verdict is the outcome of one health probe invocation.
type Verdict struct {
	// Down is true when the probe considers the server down.
	Down bool

	// Severity classifies the verdict for the event log.
	Severity types.Severity

	// Message is the diagnostic text recorded with the verdict.
	Message string
}

// HealthProbe is the strategy contract shared by all probe implementations.
// Probe never panics or returns an error: any internal failure is converted
// into a failed verdict carrying the failure text.
type HealthProbe interface {
	// Probe checks the server and returns a verdict.
	Probe(ctx context.Context, server *types.GameServer) Verdict

	// Category is the event log category verdicts are recorded under.
	Category() types.EventCategory

	// Forget discards any per-server state kept between probe calls.
	// The supervisor calls it when a server's monitor loop terminates so
	// state never outlives the loop that produced it.
	Forget(serverID string)
}

// ForMode returns the probe matching the server's monitor mode, or nil when
// the mode has no probe (disabled or unknown).
func ForMode(mode types.MonitorMode, a2s *A2SProbe, process *ProcessProbe) HealthProbe {
	switch mode {
	case types.MonitorModeA2S:
		return a2s
	case types.MonitorModeProcess:
		return process
	}
	return nil
}

// recoverVerdict converts a panic into a failed verdict. Used via defer by
// the probe implementations so nothing escapes the probe boundary.
func recoverVerdict(v *Verdict) {
	if r := recover(); r != nil {
		*v = Verdict{
			Down:     true,
			Severity: types.SeverityFailed,
			Message:  fmt.Sprintf("probe panicked: %v", r),
		}
	}
}
