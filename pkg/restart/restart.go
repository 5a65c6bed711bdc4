// Package restart implements the remediation action invoked when a monitored
// server is down and restart policy allows acting on it.
package restart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/supporttools/gameserver-doctor/pkg/logger"
	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// DefaultCommandTimeout bounds the restart command itself.
const DefaultCommandTimeout = 60 * time.Second

// DefaultVerifyTimeout bounds the post-restart process verification,
// including retries while the process comes up.
const DefaultVerifyTimeout = 30 * time.Second

// CommandRestarter restarts a game server by running its configured restart
// command over a command executor, then verifying the process is back with a
// retried pgrep check. Each restart uses its own executor from the factory,
// so concurrent restarts of different servers never share a connection.
type CommandRestarter struct {
	newExecutor    types.ExecutorFactory
	commandTimeout time.Duration
	verifyTimeout  time.Duration
}

// NewCommandRestarter creates a CommandRestarter.
func NewCommandRestarter(factory types.ExecutorFactory) (*CommandRestarter, error) {
	if factory == nil {
		return nil, fmt.Errorf("restarter requires an executor factory")
	}
	return &CommandRestarter{
		newExecutor:    factory,
		commandTimeout: DefaultCommandTimeout,
		verifyTimeout:  DefaultVerifyTimeout,
	}, nil
}

// Restart runs the server's restart command and waits for its process to
// reappear. It returns a human-readable outcome message on success.
func (r *CommandRestarter) Restart(ctx context.Context, server *types.GameServer) (string, error) {
	if server.RestartCommand == "" {
		return "", fmt.Errorf("server %s has no restart command configured", server.ID)
	}

	log := logger.Get().WithFields(logrus.Fields{
		"server": server.ID,
		"host":   server.SSHAddress,
	})

	executor := r.newExecutor()
	if err := executor.Connect(ctx, server); err != nil {
		return "", fmt.Errorf("failed to connect for restart: %w", err)
	}
	defer func() {
		if err := executor.Disconnect(); err != nil {
			log.WithError(err).Debug("Error disconnecting after restart")
		}
	}()

	log.WithField("command", server.RestartCommand).Info("Executing restart command")

	result, err := executor.Run(ctx, server.RestartCommand, r.commandTimeout)
	if err != nil {
		return "", fmt.Errorf("restart command failed to run: %w", err)
	}
	if !result.ExitOK {
		return "", fmt.Errorf("restart command exited non-zero: %s", firstLine(result.Stderr))
	}

	if server.ProcessPattern == "" {
		// Nothing to verify against; trust the command's exit status.
		return fmt.Sprintf("restart command completed on %s", server.SSHAddress), nil
	}

	pid, err := r.waitForProcess(ctx, executor, server, log)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("server restarted on %s (pid %s)", server.SSHAddress, pid), nil
}

// waitForProcess polls for the server process with exponential backoff until
// it appears or the verification window elapses.
func (r *CommandRestarter) waitForProcess(ctx context.Context, executor types.CommandExecutor, server *types.GameServer, log *logrus.Entry) (string, error) {
	command := fmt.Sprintf("pgrep -f -- %s", shellQuote(server.ProcessPattern))

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = r.verifyTimeout

	var pid string
	operation := func() error {
		result, err := executor.Run(ctx, command, r.commandTimeout)
		if err != nil {
			return err
		}
		if !result.ExitOK || strings.TrimSpace(result.Stdout) == "" {
			return fmt.Errorf("process not found")
		}
		pid = firstLine(result.Stdout)
		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Debug("Waiting for server process after restart")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return "", fmt.Errorf("server process did not come back within %v: %w", r.verifyTimeout, err)
	}
	return pid, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

// shellQuote wraps s in single quotes for safe use in a remote shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ types.Restarter = (*CommandRestarter)(nil)
