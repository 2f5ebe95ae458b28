// Package shell spawns interactive command interpreters for local
// sessions and exposes them as duplex byte streams with a resize
// operation.
//
// The primary implementation allocates a native pseudo-terminal. When the
// platform has no PTY allocator the shell is wrapped in the script(1)
// utility instead; a wrapped session interleaves stderr with stdout and
// cannot renegotiate its terminal size after start. Both limitations are
// accepted, not worked around.
package shell

import (
	"os"
	"sync"
)

// Options configure a spawned shell.
type Options struct {
	Cols uint16
	Rows uint16
	Dir  string
	Env  []string
}

// Backend is a live interactive shell owned by exactly one session.
type Backend interface {
	// Write sends keystrokes to the shell.
	Write(p []byte) (int, error)

	// Resize updates the terminal dimensions. Redundant calls are
	// harmless. The wrapped fallback only records the values.
	Resize(cols, rows uint16) error

	// Size reports the dimensions from the most recent Resize (or spawn).
	Size() (cols, rows uint16)

	// OnData registers the output callback. Output produced before
	// registration is buffered and replayed to the first callback.
	OnData(fn func(data []byte))

	// OnExit registers the exit callback, invoked once with the shell's
	// exit code.
	OnExit(fn func(code int))

	// Kill sends SIGHUP to the shell process.
	Kill() error
}

// Spawn starts command under a native PTY, falling back to a script(1)
// wrapper when the platform has no PTY device. A spawn failure is fatal
// for the session; there is no retry.
func Spawn(command string, args []string, opts Options) (Backend, error) {
	if opts.Cols == 0 {
		opts.Cols = 80
	}
	if opts.Rows == 0 {
		opts.Rows = 24
	}
	if ptyAvailable() {
		return spawnPTY(command, args, opts)
	}
	return spawnWrapped(command, args, opts)
}

func ptyAvailable() bool {
	_, err := os.Stat("/dev/ptmx")
	return err == nil
}

// DefaultCommand returns the user's shell, or /bin/bash when $SHELL is
// unset.
func DefaultCommand() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/bash"
}

// callbacks is the shared OnData/OnExit registration and replay logic
// used by both backend implementations. Early output lands in pending
// until a data callback is registered; an exit observed before OnExit is
// delivered at registration time.
type callbacks struct {
	mu       sync.Mutex
	data     func([]byte)
	exit     func(int)
	pending  []byte
	exited   bool
	exitCode int
}

const maxPending = 64 * 1024

func (c *callbacks) emit(p []byte) {
	c.mu.Lock()
	fn := c.data
	if fn == nil {
		if len(c.pending) < maxPending {
			c.pending = append(c.pending, p...)
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(p)
}

func (c *callbacks) finish(code int) {
	c.mu.Lock()
	c.exited = true
	c.exitCode = code
	fn := c.exit
	c.mu.Unlock()
	if fn != nil {
		fn(code)
	}
}

func (c *callbacks) onData(fn func([]byte)) {
	c.mu.Lock()
	c.data = fn
	buffered := c.pending
	c.pending = nil
	c.mu.Unlock()
	if len(buffered) > 0 {
		fn(buffered)
	}
}

func (c *callbacks) onExit(fn func(int)) {
	c.mu.Lock()
	c.exit = fn
	done := c.exited
	code := c.exitCode
	c.mu.Unlock()
	if done {
		fn(code)
	}
}
