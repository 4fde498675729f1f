//go:build !linux

package supervisor

import (
	"os"
	"os/exec"
)

func configureCmd(*exec.Cmd) {}

func terminate(p *os.Process) error {
	if err := p.Signal(os.Interrupt); err != nil {
		return p.Kill()
	}
	return nil
}
