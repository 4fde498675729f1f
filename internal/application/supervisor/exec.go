package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

// execProcess is a child OS process whose stdout and stderr go to an
// append-only log file.
type execProcess struct {
	cmd  *exec.Cmd
	log  *os.File
	done chan struct{}

	mu   sync.Mutex
	code int
	err  error
}

// ExecLauncher returns a Launch func that starts binary with args. The child
// appends its output to logPath and is signalled by the kernel if the
// supervisor itself dies, where the platform supports it.
func ExecLauncher(binary string, args []string, logPath string, env []string) func(ctx context.Context) (Process, error) {
	return func(ctx context.Context) (Process, error) {
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, fmt.Errorf("supervisor.exec: log dir: %w", err)
		}
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("supervisor.exec: open log: %w", err)
		}

		// no CommandContext: the supervisor decides when to stop, not ctx
		cmd := exec.Command(binary, args...)
		cmd.Stdout = logFile
		cmd.Stderr = logFile
		cmd.Env = append(os.Environ(), env...)
		configureCmd(cmd)

		if err := cmd.Start(); err != nil {
			logFile.Close()
			return nil, fmt.Errorf("supervisor.exec: start %s: %w", binary, err)
		}

		p := &execProcess{cmd: cmd, log: logFile, done: make(chan struct{})}
		go p.reap()
		return p, nil
	}
}

func (p *execProcess) reap() {
	err := p.cmd.Wait()
	code := p.cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// a non-zero exit is already in code
		err = nil
	}

	p.mu.Lock()
	p.code, p.err = code, err
	p.mu.Unlock()
	p.log.Close()
	close(p.done)
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.err
}

func (p *execProcess) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return terminate(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
