package restart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// scriptedExecutor records commands and answers them from a script keyed by
// command prefix.
type scriptedExecutor struct {
	connectErr    error
	connected     bool
	connectedAddr string
	disconnects   int
	commands      []string

	// restart result
	restartResult types.CommandResult
	restartErr    error

	// pgrep results, consumed in order; the last repeats
	pgrepResults []types.CommandResult
	pgrepCalls   int
}

func (e *scriptedExecutor) Connect(ctx context.Context, server *types.GameServer) error {
	if e.connectErr != nil {
		return e.connectErr
	}
	e.connected = true
	e.connectedAddr = server.SSHAddress
	return nil
}

func (e *scriptedExecutor) Run(ctx context.Context, command string, timeout time.Duration) (types.CommandResult, error) {
	e.commands = append(e.commands, command)
	if len(command) >= 5 && command[:5] == "pgrep" {
		idx := e.pgrepCalls
		if idx >= len(e.pgrepResults) {
			idx = len(e.pgrepResults) - 1
		}
		e.pgrepCalls++
		return e.pgrepResults[idx], nil
	}
	return e.restartResult, e.restartErr
}

func (e *scriptedExecutor) Disconnect() error {
	e.connected = false
	e.disconnects++
	return nil
}

func testServer() *types.GameServer {
	return &types.GameServer{
		ID:             "srv-1",
		Name:           "arena-eu-1",
		SSHAddress:     "198.51.100.1:22",
		SSHUser:        "gameadmin",
		SSHPassword:    "secret",
		RestartCommand: "systemctl restart arena",
		ProcessPattern: "arena_server",
	}
}

func fastRestarter(t *testing.T, e types.CommandExecutor) *CommandRestarter {
	t.Helper()

	r, err := NewCommandRestarter(func() types.CommandExecutor { return e })
	require.NoError(t, err)
	r.verifyTimeout = 200 * time.Millisecond
	return r
}

func TestRestartSuccess(t *testing.T) {
	exec := &scriptedExecutor{
		restartResult: types.CommandResult{ExitOK: true},
		pgrepResults:  []types.CommandResult{{ExitOK: true, Stdout: "4321\n"}},
	}

	msg, err := fastRestarter(t, exec).Restart(context.Background(), testServer())
	require.NoError(t, err)
	assert.Contains(t, msg, "pid 4321")
	assert.Equal(t, "systemctl restart arena", exec.commands[0])
	assert.Equal(t, 1, exec.disconnects, "executor must be disconnected after restart")
}

func TestRestartWaitsForProcess(t *testing.T) {
	// Process is absent on the first two checks, then appears.
	exec := &scriptedExecutor{
		restartResult: types.CommandResult{ExitOK: true},
		pgrepResults: []types.CommandResult{
			{ExitOK: false},
			{ExitOK: true, Stdout: ""},
			{ExitOK: true, Stdout: "999\n1001\n"},
		},
	}

	r := fastRestarter(t, exec)
	r.verifyTimeout = 5 * time.Second

	msg, err := r.Restart(context.Background(), testServer())
	require.NoError(t, err)
	assert.Contains(t, msg, "pid 999")
	assert.GreaterOrEqual(t, exec.pgrepCalls, 3)
}

func TestRestartCommandFailure(t *testing.T) {
	exec := &scriptedExecutor{
		restartResult: types.CommandResult{ExitOK: false, Stderr: "unit not found\n"},
	}

	_, err := fastRestarter(t, exec).Restart(context.Background(), testServer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unit not found")
	assert.Equal(t, 1, exec.disconnects, "executor must be disconnected on failure too")
}

func TestRestartProcessNeverReturns(t *testing.T) {
	exec := &scriptedExecutor{
		restartResult: types.CommandResult{ExitOK: true},
		pgrepResults:  []types.CommandResult{{ExitOK: false}},
	}

	_, err := fastRestarter(t, exec).Restart(context.Background(), testServer())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not come back")
}

func TestRestartConnectFailure(t *testing.T) {
	exec := &scriptedExecutor{connectErr: errors.New("connection refused")}

	_, err := fastRestarter(t, exec).Restart(context.Background(), testServer())
	require.Error(t, err)
	assert.Empty(t, exec.commands)
}

func TestRestartWithoutCommandRejected(t *testing.T) {
	server := testServer()
	server.RestartCommand = ""

	_, err := fastRestarter(t, &scriptedExecutor{}).Restart(context.Background(), server)
	require.Error(t, err)
}

func TestRestartUsesFreshExecutorPerCall(t *testing.T) {
	var executors []*scriptedExecutor
	factory := types.ExecutorFactory(func() types.CommandExecutor {
		e := &scriptedExecutor{
			restartResult: types.CommandResult{ExitOK: true},
			pgrepResults:  []types.CommandResult{{ExitOK: true, Stdout: "77\n"}},
		}
		executors = append(executors, e)
		return e
	})
	r, err := NewCommandRestarter(factory)
	require.NoError(t, err)
	r.verifyTimeout = 200 * time.Millisecond

	serverA := testServer()
	serverA.SSHAddress = "198.51.100.1:22"
	serverB := testServer()
	serverB.ID = "srv-2"
	serverB.SSHAddress = "198.51.100.2:22"
	serverB.RestartCommand = "systemctl restart arena-2"

	_, err = r.Restart(context.Background(), serverA)
	require.NoError(t, err)
	_, err = r.Restart(context.Background(), serverB)
	require.NoError(t, err)

	require.Len(t, executors, 2, "each restart must get its own executor")
	assert.Equal(t, "198.51.100.1:22", executors[0].connectedAddr)
	assert.Equal(t, "systemctl restart arena", executors[0].commands[0])
	assert.Equal(t, "198.51.100.2:22", executors[1].connectedAddr)
	assert.Equal(t, "systemctl restart arena-2", executors[1].commands[0])
	assert.Equal(t, 1, executors[0].disconnects)
	assert.Equal(t, 1, executors[1].disconnects)
}

func TestRestartWithoutPatternSkipsVerification(t *testing.T) {
	exec := &scriptedExecutor{restartResult: types.CommandResult{ExitOK: true}}
	server := testServer()
	server.ProcessPattern = ""

	msg, err := fastRestarter(t, exec).Restart(context.Background(), server)
	require.NoError(t, err)
	assert.Contains(t, msg, "restart command completed")
	assert.Equal(t, 0, exec.pgrepCalls)
}
