//go:build windows

package server

import (
	"errors"
	"os"
	"syscall"
)

const createNewProcessGroup = 0x00000200

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}

// terminate has no cooperative signal to send on Windows; it kills.
func terminate(p *os.Process) error {
	return forceKill(p)
}

func forceKill(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
