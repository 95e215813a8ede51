// Package cluster implements the C7 Cluster Job Controller: submitting,
// supervising, and reaping batch-queue jobs ("workers") over multiplexed
// SSH sessions to a Slurm-style scheduler (spec §4.7).
//
// Grounded on original_source/blob_idx_server/src/ssh.rs (the Ssh/SshFactory
// trait split, direct vs jump-host connect, mutex-serialized run_command
// with reconnect-on-transport-error retries) and job/worker.rs (the worker
// state machine and squeue/scancel command shapes).
package cluster

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
)

// maxRunRetries bounds how many times run_command reconnects after a
// transport-level (not command-exit) failure, matching ssh.rs's `tries >= 3`.
const maxRunRetries = 3

// CommandError reports a remote command that ran but exited non-zero,
// distinct from a transport failure (which run_command retries instead of
// returning).
type CommandError struct {
	Cmd    string
	Stderr string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("cluster: command %q exited non-zero: %s", e.Cmd, e.Stderr)
}

// Ssh is a single multiplexed SSH session: every RunCommand call is
// serialized against the others (spec §4.7: "concurrent commands on one
// session are not supported").
type Ssh interface {
	RunCommand(ctx context.Context, cmd string) (stdout string, err error)
	Close() error
}

// Factory opens new Ssh sessions, direct or jumped through a head node.
type Factory interface {
	Spawn(ctx context.Context) (Ssh, error)
	SpawnJumped(ctx context.Context, jumpTo string) (Ssh, error)
}

// SessionFactory is the production Factory, dialing real hosts.
type SessionFactory struct {
	// UserHost is "user@host" for the default (non-jumped) target.
	UserHost string
	// Config carries auth and host-key verification settings shared by
	// every session this factory opens.
	Config *ssh.ClientConfig
}

func NewSessionFactory(userHost string, config *ssh.ClientConfig) *SessionFactory {
	return &SessionFactory{UserHost: userHost, Config: config}
}

func (f *SessionFactory) Spawn(ctx context.Context) (Ssh, error) {
	return connect(ctx, f.UserHost, f.Config)
}

// SpawnJumped dials f.UserHost first, then tunnels a connection from there
// to jumpTo, mirroring ssh.rs's connect_jumped: when jumpTo carries no
// user, the original session's user is reused.
func (f *SessionFactory) SpawnJumped(ctx context.Context, jumpTo string) (Ssh, error) {
	user := f.UserHost
	if at := strings.IndexByte(f.UserHost, '@'); at >= 0 {
		user = f.UserHost[:at]
	}
	if !strings.Contains(jumpTo, "@") {
		jumpTo = user + "@" + jumpTo
	}
	return connectJumped(ctx, f.UserHost, jumpTo, f.Config)
}

// session is the production Ssh implementation over golang.org/x/crypto/ssh.
type session struct {
	mu       sync.Mutex
	client   *ssh.Client
	userHost string
	config   *ssh.ClientConfig
	// redial reconnects to the same endpoint this session was originally
	// opened against (direct or via a jump host); set by connect/connectJumped.
	redial func() (*ssh.Client, error)
}

func connect(ctx context.Context, userHost string, config *ssh.ClientConfig) (*session, error) {
	host, cfg := splitUserHost(userHost, config)
	client, err := dial(ctx, host, cfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: failed to connect to %q: %w", userHost, err)
	}
	s := &session{client: client, userHost: userHost, config: config}
	s.redial = func() (*ssh.Client, error) { return dial(ctx, host, cfg) }
	return s, nil
}

func connectJumped(ctx context.Context, userHost, jumpTo string, config *ssh.ClientConfig) (*session, error) {
	jumpHost, jumpCfg := splitUserHost(userHost, config)
	jumpClient, err := dial(ctx, jumpHost, jumpCfg)
	if err != nil {
		return nil, fmt.Errorf("cluster: failed to connect to jump host %q: %w", userHost, err)
	}
	targetHost, targetCfg := splitUserHost(jumpTo, config)
	client, err := dialThrough(jumpClient, targetHost, targetCfg)
	if err != nil {
		jumpClient.Close()
		return nil, fmt.Errorf("cluster: failed to connect to %q via jump host %q: %w", jumpTo, userHost, err)
	}
	s := &session{client: client, userHost: jumpTo, config: config}
	s.redial = func() (*ssh.Client, error) {
		jc, err := dial(ctx, jumpHost, jumpCfg)
		if err != nil {
			return nil, err
		}
		c, err := dialThrough(jc, targetHost, targetCfg)
		if err != nil {
			jc.Close()
			return nil, err
		}
		return c, nil
	}
	return s, nil
}

func dial(ctx context.Context, host string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, host, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func dialThrough(via *ssh.Client, host string, config *ssh.ClientConfig) (*ssh.Client, error) {
	conn, err := via.Dial("tcp", host)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, host, config)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func splitUserHost(userHost string, config *ssh.ClientConfig) (host string, cfg *ssh.ClientConfig) {
	user := config.User
	host = userHost
	if at := strings.IndexByte(userHost, '@'); at >= 0 {
		user, host = userHost[:at], userHost[at+1:]
	}
	if !strings.Contains(host, ":") {
		host += ":22"
	}
	cfgCopy := *config
	cfgCopy.User = user
	return host, &cfgCopy
}

// RunCommand runs cmd via "bash -c" and returns trimmed stdout. On a
// transport error it reconnects and retries up to maxRunRetries times
// before giving up (ssh.rs's run_command loop); a non-zero exit is
// returned immediately as *CommandError, never retried.
func (s *session) RunCommand(ctx context.Context, cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for tries := 0; ; tries++ {
		out, exitErr, transportErr := s.runOnce(ctx, cmd)
		if transportErr == nil {
			if exitErr != nil {
				return "", exitErr
			}
			return strings.TrimRight(out, "\n"), nil
		}
		if tries >= maxRunRetries {
			return "", fmt.Errorf("cluster: command %q failed after %d tries: %w", cmd, tries+1, transportErr)
		}
		client, err := s.redial()
		if err != nil {
			return "", fmt.Errorf("cluster: reconnect failed: %w", err)
		}
		s.client.Close()
		s.client = client
	}
}

func (s *session) runOnce(ctx context.Context, cmd string) (stdout string, exitErr error, transportErr error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", nil, err
	}
	defer sess.Close()

	var outBuf, errBuf bytes.Buffer
	sess.Stdout = &outBuf
	sess.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- sess.Run(fmt.Sprintf("bash -c %q", cmd)) }()

	select {
	case <-ctx.Done():
		sess.Signal(ssh.SIGKILL) //nolint:errcheck
		return "", nil, ctx.Err()
	case err := <-done:
		if err == nil {
			return outBuf.String(), nil, nil
		}
		if _, ok := err.(*ssh.ExitError); ok {
			return "", &CommandError{Cmd: cmd, Stderr: strings.TrimRight(errBuf.String(), "\n")}, nil
		}
		return "", nil, err
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.Close()
}
