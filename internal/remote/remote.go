// Package remote backs a session with an interactive shell channel on a
// remote host over SSH, plus a lazily opened SFTP subsystem for file
// operations.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ehrlich-b/gangway/internal/hosts"
	"github.com/ehrlich-b/gangway/internal/logger"
)

// ErrAuthFailed classifies a transport-level authentication rejection.
// The gateway routes it to the password-prompt path instead of closing
// the session.
var ErrAuthFailed = errors.New("ssh authentication failed")

const dialTimeout = 15 * time.Second

// Backend is one live SSH connection with at most one interactive shell
// channel and at most one file-transfer channel. It is owned by exactly
// one session; password retry discards the whole Backend and dials a new
// one.
type Backend struct {
	params hosts.Params
	client *ssh.Client

	shell *shellChannel

	sftpMu sync.Mutex
	sftpC  *sftp.Client

	closeOnce sync.Once
}

type shellChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	cb      callbacks

	mu   sync.Mutex
	cols uint16
	rows uint16
}

// Dial establishes the SSH transport and authenticates. password is
// empty on the first attempt; the key/agent chain runs first and an
// interactive-password method is offered only when a password has been
// supplied. An authentication rejection comes back wrapped in
// ErrAuthFailed.
func Dial(ctx context.Context, params hosts.Params, password string) (*Backend, error) {
	cfg := &ssh.ClientConfig{
		User:            params.User,
		Auth:            authMethods(params, password),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", params.Address())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", params.Address(), err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, params.Address(), cfg)
	if err != nil {
		conn.Close()
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		return nil, fmt.Errorf("connect %s: %w", params.Address(), err)
	}

	logger.Debug("ssh connected", "host", params.Name, "user", params.User)
	return &Backend{
		params: params,
		client: ssh.NewClient(clientConn, chans, reqs),
	}, nil
}

// OpenShell opens the interactive shell channel at the given dimensions.
// Called once per Backend, after authentication succeeds.
func (b *Backend) OpenShell(cols, rows uint16) error {
	session, err := b.client.NewSession()
	if err != nil {
		return fmt.Errorf("open shell channel: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("xterm-256color", int(rows), int(cols), modes); err != nil {
		session.Close()
		return fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("shell stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return fmt.Errorf("shell stdout: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return fmt.Errorf("start shell: %w", err)
	}

	sc := &shellChannel{
		session: session,
		stdin:   stdin,
		cols:    cols,
		rows:    rows,
	}
	b.shell = sc

	go sc.readLoop(stdout)
	go sc.waitLoop()

	logger.Debug("shell channel open", "host", b.params.Name, "cols", cols, "rows", rows)
	return nil
}

func (sc *shellChannel) readLoop(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			sc.cb.emit(data)
		}
		if err != nil {
			return
		}
	}
}

func (sc *shellChannel) waitLoop() {
	exitCode := 0
	if err := sc.session.Wait(); err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitStatus()
		} else {
			exitCode = 1
		}
	}
	sc.cb.finish(exitCode)
}

// Write sends keystrokes to the remote shell.
func (b *Backend) Write(p []byte) (int, error) {
	if b.shell == nil {
		return 0, errors.New("shell channel not open")
	}
	return b.shell.stdin.Write(p)
}

// Resize sends a window-change request for the shell channel and records
// the dimensions. Redundant calls are harmless.
func (b *Backend) Resize(cols, rows uint16) error {
	if b.shell == nil {
		return nil
	}
	b.shell.mu.Lock()
	b.shell.cols, b.shell.rows = cols, rows
	b.shell.mu.Unlock()
	return b.shell.session.WindowChange(int(rows), int(cols))
}

// Size reports the dimensions from the most recent Resize (or OpenShell).
func (b *Backend) Size() (uint16, uint16) {
	if b.shell == nil {
		return 0, 0
	}
	b.shell.mu.Lock()
	defer b.shell.mu.Unlock()
	return b.shell.cols, b.shell.rows
}

// OnData registers the shell output callback.
func (b *Backend) OnData(fn func([]byte)) { b.shell.cb.onData(fn) }

// OnExit registers the shell close callback. A closed shell channel is
// fatal for the whole session.
func (b *Backend) OnExit(fn func(int)) { b.shell.cb.onExit(fn) }

// Kill tears the backend down; the remote side sees the channels and the
// connection drop.
func (b *Backend) Kill() error {
	b.Close()
	return nil
}

// Files returns the file-transfer channel, opening it on first use. The
// channel is cached only on success: a failed open fails that one file
// operation and the next one retries, with the shell untouched.
func (b *Backend) Files() (*sftp.Client, error) {
	b.sftpMu.Lock()
	defer b.sftpMu.Unlock()
	if b.sftpC != nil {
		return b.sftpC, nil
	}
	c, err := sftp.NewClient(b.client)
	if err != nil {
		return nil, fmt.Errorf("open sftp channel: %w", err)
	}
	logger.Debug("sftp channel open", "host", b.params.Name)
	b.sftpC = c
	return c, nil
}

// Close ends every channel and the transport-level connection. Safe to
// call more than once and from any goroutine.
func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		b.sftpMu.Lock()
		if b.sftpC != nil {
			b.sftpC.Close()
			b.sftpC = nil
		}
		b.sftpMu.Unlock()
		if b.shell != nil {
			b.shell.stdin.Close()
			b.shell.session.Close()
		}
		b.client.Close()
		logger.Debug("ssh connection closed", "host", b.params.Name)
	})
}
