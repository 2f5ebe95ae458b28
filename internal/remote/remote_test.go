package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/ehrlich-b/gangway/internal/hosts"
)

// startSSHServer runs a minimal in-process sshd: password auth (or none
// when password is empty), an echoing session channel, and a real sftp
// subsystem.
func startSSHServer(t *testing.T, password string) hosts.Params {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	cfg := &ssh.ServerConfig{}
	if password == "" {
		cfg.NoClientAuth = true
	} else {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("wrong password for %s", c.User())
		}
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSHConn(conn, cfg)
		}
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return hosts.Params{Name: "testhost", Addr: "127.0.0.1", Port: port, User: "tester"}
}

func serveSSHConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go serveSession(ch, requests)
	}
}

func serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req", "window-change", "env":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			go func() {
				io.Copy(ch, ch)
				ch.Close()
			}()
		case "subsystem":
			if len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp" {
				if req.WantReply {
					req.Reply(true, nil)
				}
				go func() {
					if srv, err := sftp.NewServer(ch); err == nil {
						srv.Serve()
					}
					// A real sshd closes the channel when the
					// subsystem exits; the client's Close waits
					// for that.
					ch.Close()
				}()
			} else if req.WantReply {
				req.Reply(false, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// isolateCredentials keeps the real ~/.ssh and a live agent out of the
// auth chain.
func isolateCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SSH_AUTH_SOCK", "")
}

func TestDialNoCredentialsIsAuthFailed(t *testing.T) {
	isolateCredentials(t)
	params := startSSHServer(t, "sekrit")

	_, err := Dial(context.Background(), params, "")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestDialWrongPasswordIsAuthFailed(t *testing.T) {
	isolateCredentials(t)
	params := startSSHServer(t, "sekrit")

	_, err := Dial(context.Background(), params, "not-it")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestDialUnreachableIsNotAuthFailed(t *testing.T) {
	isolateCredentials(t)
	// Port 1 on localhost: refused, not an auth rejection.
	params := hosts.Params{Name: "dead", Addr: "127.0.0.1", Port: 1, User: "tester"}

	_, err := Dial(context.Background(), params, "")
	if err == nil {
		t.Fatal("dial succeeded against a closed port")
	}
	if errors.Is(err, ErrAuthFailed) {
		t.Fatalf("connection refusal classified as auth failure: %v", err)
	}
}

func TestShellEchoAndResize(t *testing.T) {
	isolateCredentials(t)
	params := startSSHServer(t, "sekrit")

	b, err := Dial(context.Background(), params, "sekrit")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer b.Close()

	if err := b.OpenShell(90, 30); err != nil {
		t.Fatalf("OpenShell: %v", err)
	}

	var mu sync.Mutex
	var out strings.Builder
	b.OnData(func(data []byte) {
		mu.Lock()
		out.Write(data)
		mu.Unlock()
	})

	if _, err := b.Write([]byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		got := out.String()
		mu.Unlock()
		if strings.Contains(got, "ping") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	got := out.String()
	mu.Unlock()
	if !strings.Contains(got, "ping") {
		t.Fatalf("no echo, got %q", got)
	}

	if err := b.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if c, r := b.Size(); c != 120 || r != 40 {
		t.Errorf("Size() = %dx%d, want 120x40", c, r)
	}
	// Redundant resize must be harmless.
	if err := b.Resize(120, 40); err != nil {
		t.Fatalf("redundant Resize: %v", err)
	}
}

func TestFilesLazyAndReused(t *testing.T) {
	isolateCredentials(t)
	params := startSSHServer(t, "")

	b, err := Dial(context.Background(), params, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer b.Close()

	c1, err := b.Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	c2, err := b.Files()
	if err != nil {
		t.Fatalf("Files again: %v", err)
	}
	if c1 != c2 {
		t.Error("file-transfer channel not reused")
	}

	// The subsystem serves the test process's own filesystem, so a
	// round trip through it is observable with plain os calls.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f.txt"), []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	infos, err := c1.ReadDir(dir)
	if err != nil {
		t.Fatalf("sftp ReadDir: %v", err)
	}
	if len(infos) != 1 || infos[0].Name() != "f.txt" {
		t.Fatalf("sftp listing = %v", infos)
	}
}

func TestWriteWithoutShell(t *testing.T) {
	isolateCredentials(t)
	params := startSSHServer(t, "")

	b, err := Dial(context.Background(), params, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer b.Close()

	if _, err := b.Write([]byte("x")); err == nil {
		t.Fatal("Write before OpenShell succeeded")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	isolateCredentials(t)
	params := startSSHServer(t, "")

	b, err := Dial(context.Background(), params, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	b.Close()
	b.Close()
	b.Kill()
}

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"ssh: unable to authenticate, attempted methods [none]", true},
		{"ssh: handshake failed: no supported methods remain", true},
		{"permission denied (publickey)", true},
		{"dial tcp 10.0.0.1:22: connection refused", false},
		{"", false},
	}
	for _, tc := range cases {
		var err error
		if tc.msg != "" {
			err = errors.New(tc.msg)
		}
		if got := isAuthError(err); got != tc.want {
			t.Errorf("isAuthError(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}
