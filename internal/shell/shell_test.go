package shell

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPTYRoundTrip(t *testing.T) {
	if !ptyAvailable() {
		t.Skip("no pty device")
	}

	b, err := Spawn("/bin/cat", nil, Options{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer b.Kill()

	var mu sync.Mutex
	var out strings.Builder
	b.OnData(func(data []byte) {
		mu.Lock()
		out.Write(data)
		mu.Unlock()
	})

	if _, err := b.Write([]byte("hello\r")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(out.String(), "hello")
	})
}

func TestPTYResizeReportsLast(t *testing.T) {
	if !ptyAvailable() {
		t.Skip("no pty device")
	}

	b, err := Spawn("/bin/cat", nil, Options{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer b.Kill()

	for _, dims := range [][2]uint16{{100, 40}, {80, 24}, {80, 24}} {
		if err := b.Resize(dims[0], dims[1]); err != nil {
			t.Fatalf("Resize(%v): %v", dims, err)
		}
		if c, r := b.Size(); c != dims[0] || r != dims[1] {
			t.Errorf("Size() = %dx%d, want %dx%d", c, r, dims[0], dims[1])
		}
	}
}

func TestPTYKillFiresExit(t *testing.T) {
	if !ptyAvailable() {
		t.Skip("no pty device")
	}

	b, err := Spawn("/bin/cat", nil, Options{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exited := make(chan int, 1)
	b.OnExit(func(code int) { exited <- code })

	if err := b.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired after Kill")
	}
}

func TestPTYExitCode(t *testing.T) {
	if !ptyAvailable() {
		t.Skip("no pty device")
	}

	b, err := Spawn("/bin/sh", []string{"-c", "exit 3"}, Options{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exited := make(chan int, 1)
	b.OnExit(func(code int) { exited <- code })

	select {
	case code := <-exited:
		if code != 3 {
			t.Errorf("exit code = %d, want 3", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback never fired")
	}
}

func TestSpawnFailure(t *testing.T) {
	if !ptyAvailable() {
		t.Skip("no pty device")
	}
	if _, err := Spawn("/no/such/interpreter", nil, Options{}); err == nil {
		t.Fatal("Spawn of missing binary succeeded")
	}
}

// The wrapped fallback only records dimensions; there is no PTY to
// renegotiate. Reported size must still follow the last Resize.
func TestWrappedResizeStoresOnly(t *testing.T) {
	b := &wrappedBackend{cols: 80, rows: 24}
	if err := b.Resize(132, 50); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if c, r := b.Size(); c != 132 || r != 50 {
		t.Errorf("Size() = %dx%d, want 132x50", c, r)
	}
}

func TestWrapperArgs(t *testing.T) {
	inner := "/bin/bash"
	desktop := wrapperArgs(inner)
	if desktop[0] != "-qefc" {
		t.Errorf("desktop args = %v", desktop)
	}

	t.Setenv("TERMUX_VERSION", "0.118")
	mobile := wrapperArgs(inner)
	if mobile[0] != "-q" || mobile[1] != "/dev/null" {
		t.Errorf("mobile args = %v", mobile)
	}
}

func TestCallbacksReplayEarlyOutput(t *testing.T) {
	var cb callbacks
	cb.emit([]byte("early "))
	cb.emit([]byte("output"))

	var got string
	cb.onData(func(data []byte) { got += string(data) })
	if got != "early output" {
		t.Errorf("replayed = %q", got)
	}

	cb.emit([]byte(" more"))
	if got != "early output more" {
		t.Errorf("streamed = %q", got)
	}
}

func TestCallbacksExitBeforeRegistration(t *testing.T) {
	var cb callbacks
	cb.finish(42)

	got := make(chan int, 1)
	cb.onExit(func(code int) { got <- code })
	select {
	case code := <-got:
		if code != 42 {
			t.Errorf("code = %d, want 42", code)
		}
	default:
		t.Fatal("exit not delivered at registration")
	}
}

func TestDefaultCommand(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	if got := DefaultCommand(); got != "/bin/zsh" {
		t.Errorf("DefaultCommand = %q", got)
	}
	os.Unsetenv("SHELL")
	if got := DefaultCommand(); got != "/bin/bash" {
		t.Errorf("DefaultCommand fallback = %q", got)
	}
}
