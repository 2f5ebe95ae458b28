package shell

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// ptyBackend runs the shell under a native pseudo-terminal.
type ptyBackend struct {
	cmd  *exec.Cmd
	ptmx *os.File
	cb   callbacks

	mu   sync.Mutex
	cols uint16
	rows uint16
}

func spawnPTY(command string, args []string, opts Options) (Backend, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = opts.Dir
	cmd.Env = sessionEnv(opts.Env)

	size := &pty.Winsize{Cols: opts.Cols, Rows: opts.Rows}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	b := &ptyBackend{
		cmd:  cmd,
		ptmx: ptmx,
		cols: opts.Cols,
		rows: opts.Rows,
	}

	go b.readLoop()
	go b.waitLoop()
	return b, nil
}

func (b *ptyBackend) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			b.cb.emit(data)
		}
		if err != nil {
			return
		}
	}
}

func (b *ptyBackend) waitLoop() {
	exitCode := 0
	if err := b.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	b.ptmx.Close()
	b.cb.finish(exitCode)
}

func (b *ptyBackend) Write(p []byte) (int, error) {
	return b.ptmx.Write(p)
}

func (b *ptyBackend) Resize(cols, rows uint16) error {
	b.mu.Lock()
	b.cols, b.rows = cols, rows
	b.mu.Unlock()
	return pty.Setsize(b.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

func (b *ptyBackend) Size() (uint16, uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cols, b.rows
}

func (b *ptyBackend) OnData(fn func([]byte)) { b.cb.onData(fn) }
func (b *ptyBackend) OnExit(fn func(int))    { b.cb.onExit(fn) }

func (b *ptyBackend) Kill() error {
	if b.cmd.Process == nil {
		return nil
	}
	return b.cmd.Process.Signal(unix.SIGHUP)
}

func sessionEnv(extra []string) []string {
	env := os.Environ()
	env = append(env, "TERM=xterm-256color")
	return append(env, extra...)
}
