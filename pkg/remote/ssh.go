// Package remote implements command execution on game server hosts over SSH.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/supporttools/gameserver-doctor/pkg/types"
)

// DefaultConnectTimeout bounds the TCP dial and SSH handshake.
const DefaultConnectTimeout = 10 * time.Second

// DefaultCommandTimeout bounds a single command when the caller passes none.
const DefaultCommandTimeout = 30 * time.Second

// SSHExecutor runs commands on a remote host over SSH. One executor holds at
// most one connection and serves one connect/run/disconnect session; callers
// that work with multiple hosts concurrently create one executor per session
// through an ExecutorFactory rather than sharing a single instance.
type SSHExecutor struct {
	connectTimeout time.Duration

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHExecutor creates an SSHExecutor.
func NewSSHExecutor() *SSHExecutor {
	return &SSHExecutor{connectTimeout: DefaultConnectTimeout}
}

// Connect establishes an SSH session to the server's host. Key file
// authentication is preferred when configured, falling back to password auth.
func (e *SSHExecutor) Connect(ctx context.Context, server *types.GameServer) error {
	if server.SSHAddress == "" {
		return fmt.Errorf("server %s has no ssh address configured", server.ID)
	}
	if server.SSHUser == "" {
		return fmt.Errorf("server %s has no ssh user configured", server.ID)
	}

	auth, err := authMethods(server)
	if err != nil {
		return err
	}

	config := &ssh.ClientConfig{
		User:            server.SSHUser,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.connectTimeout,
	}

	client, err := dial(ctx, server.SSHAddress, config, e.connectTimeout)
	if err != nil {
		return fmt.Errorf("ssh connect to %s failed: %w", server.SSHAddress, err)
	}

	e.mu.Lock()
	old := e.client
	e.client = client
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// Run executes a command within the connected session and captures its
// output. A non-zero exit status is reported through CommandResult.ExitOK,
// not as an error; errors mean the command could not be run at all.
func (e *SSHExecutor) Run(ctx context.Context, command string, timeout time.Duration) (types.CommandResult, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	if client == nil {
		return types.CommandResult{}, fmt.Errorf("not connected")
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	session, err := client.NewSession()
	if err != nil {
		return types.CommandResult{}, fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err = <-done:
	case <-timer.C:
		session.Close()
		return types.CommandResult{}, fmt.Errorf("command timed out after %v", timeout)
	case <-ctx.Done():
		session.Close()
		return types.CommandResult{}, ctx.Err()
	}

	result := types.CommandResult{
		ExitOK: err == nil,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		if _, ok := err.(*ssh.ExitError); ok {
			// Command ran but exited non-zero.
			return result, nil
		}
		return result, fmt.Errorf("command execution failed: %w", err)
	}
	return result, nil
}

// Disconnect tears down the connection. Safe to call when not connected.
func (e *SSHExecutor) Disconnect() error {
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func authMethods(server *types.GameServer) ([]ssh.AuthMethod, error) {
	if server.SSHKeyFile != "" {
		key, err := os.ReadFile(server.SSHKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key file %s: %w", server.SSHKeyFile, err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key file %s: %w", server.SSHKeyFile, err)
		}
		return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
	}
	if server.SSHPassword != "" {
		return []ssh.AuthMethod{ssh.Password(server.SSHPassword)}, nil
	}
	return nil, fmt.Errorf("server %s has no ssh credentials configured", server.ID)
}

// dial performs the TCP dial and SSH handshake under the context so a hung
// host cannot stall a caller past its deadline.
func dial(ctx context.Context, addr string, config *ssh.ClientConfig, timeout time.Duration) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

var _ types.CommandExecutor = (*SSHExecutor)(nil)
