//go:build linux

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// configureCmd puts the child in its own process group so terminal signals
// reach only the supervisor, and asks the kernel to kill it if the
// supervisor dies first.
func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
