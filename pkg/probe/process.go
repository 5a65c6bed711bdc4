package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// ProcessProbe checks liveness by running a remote status command and looking
// for the server process. A failed execution or a result showing no matching
// process is immediately authoritative: the server is reported down on the
// very first bad result, with no counter.
type ProcessProbe struct {
	newExecutor types.ExecutorFactory
	timeout     time.Duration
}

// NewProcessProbe creates a ProcessProbe. Each probe invocation gets its own
// executor from the factory, so probes for different servers never share a
// connection. timeout bounds each remote status command.
func NewProcessProbe(factory types.ExecutorFactory, timeout time.Duration) *ProcessProbe {
	return &ProcessProbe{
		newExecutor: factory,
		timeout:     timeout,
	}
}

// Category implements HealthProbe.
func (p *ProcessProbe) Category() types.EventCategory {
	return types.CategoryStatusCheck
}

// Forget implements HealthProbe. The process probe keeps no per-server
// state.
func (p *ProcessProbe) Forget(serverID string) {}

// Probe implements HealthProbe.
func (p *ProcessProbe) Probe(ctx context.Context, server *types.GameServer) (v Verdict) {
	defer recoverVerdict(&v)

	executor := p.newExecutor()
	if err := executor.Connect(ctx, server); err != nil {
		return Verdict{
			Down:     true,
			Severity: types.SeverityFailed,
			Message:  fmt.Sprintf("failed to connect to %s: %v", server.SSHAddress, err),
		}
	}
	defer func() {
		if err := executor.Disconnect(); err != nil {
			// The verdict stands; a failed teardown is not a health signal.
			v.Message += fmt.Sprintf(" (disconnect: %v)", err)
		}
	}()

	result, err := executor.Run(ctx, statusCommand(server), p.timeout)
	if err != nil {
		return Verdict{
			Down:     true,
			Severity: types.SeverityFailed,
			Message:  fmt.Sprintf("status command failed: %v", err),
		}
	}

	pids := strings.TrimSpace(result.Stdout)
	if !result.ExitOK || pids == "" {
		return Verdict{
			Down:     true,
			Severity: types.SeverityFailed,
			Message:  fmt.Sprintf("no server process matching %q", server.ProcessPattern),
		}
	}

	return Verdict{
		Down:     false,
		Severity: types.SeveritySuccess,
		Message:  fmt.Sprintf("server process running (pid %s)", firstLine(pids)),
	}
}

// statusCommand builds the remote command that looks for the server process.
func statusCommand(server *types.GameServer) string {
	return fmt.Sprintf("pgrep -f -- %s", shellQuote(server.ProcessPattern))
}

// shellQuote wraps s in single quotes, escaping embedded single quotes, so
// patterns pass through the remote shell verbatim.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// firstLine returns the first line of s.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
