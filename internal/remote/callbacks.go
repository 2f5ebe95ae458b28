package remote

import "sync"

// callbacks buffers shell-channel output that arrives before the session
// wires up its data handler, and holds an exit observed before OnExit.
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
