package shell

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/kballard/go-shellquote"
	"golang.org/x/sys/unix"
)

// wrappedBackend runs the shell inside script(1) when no PTY device
// exists. stdout and stderr are both routed into the data callback, so
// the two streams interleave. Resize only records the dimensions; the
// wrapped process keeps the size it started with. Both are documented
// fidelity gaps of the fallback, not bugs.
type wrappedBackend struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	cb    callbacks

	mu   sync.Mutex
	cols uint16
	rows uint16
}

func spawnWrapped(command string, args []string, opts Options) (Backend, error) {
	inner := shellquote.Join(append([]string{command}, args...)...)
	cmd := exec.Command("script", wrapperArgs(inner)...)
	cmd.Dir = opts.Dir
	cmd.Env = append(sessionEnv(opts.Env),
		fmt.Sprintf("COLUMNS=%d", opts.Cols),
		fmt.Sprintf("LINES=%d", opts.Rows),
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("wrapped stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("wrapped stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("wrapped stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start wrapped shell: %w", err)
	}

	b := &wrappedBackend{
		cmd:   cmd,
		stdin: stdin,
		cols:  opts.Cols,
		rows:  opts.Rows,
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go b.readLoop(stdout, &readers)
	go b.readLoop(stderr, &readers)
	go func() {
		readers.Wait()
		exitCode := 0
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = 1
			}
		}
		b.cb.finish(exitCode)
	}()
	return b, nil
}

// wrapperArgs selects script(1) flags for the platform. The util-linux
// variant on desktop systems takes the command via -c and the transcript
// file last; the toybox variant shipped on Android phones wants the
// transcript before the command.
func wrapperArgs(inner string) []string {
	if runtime.GOOS == "android" || os.Getenv("TERMUX_VERSION") != "" {
		return []string{"-q", "/dev/null", "-c", inner}
	}
	return []string{"-qefc", inner, "/dev/null"}
}

func (b *wrappedBackend) readLoop(r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
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

func (b *wrappedBackend) Write(p []byte) (int, error) {
	return b.stdin.Write(p)
}

func (b *wrappedBackend) Resize(cols, rows uint16) error {
	b.mu.Lock()
	b.cols, b.rows = cols, rows
	b.mu.Unlock()
	return nil
}

func (b *wrappedBackend) Size() (uint16, uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cols, b.rows
}

func (b *wrappedBackend) OnData(fn func([]byte)) { b.cb.onData(fn) }
func (b *wrappedBackend) OnExit(fn func(int))    { b.cb.onExit(fn) }

func (b *wrappedBackend) Kill() error {
	if b.cmd.Process == nil {
		return nil
	}
	return b.cmd.Process.Signal(unix.SIGHUP)
}
