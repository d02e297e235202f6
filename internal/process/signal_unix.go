//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// terminateGroup asks the whole process group to exit.
func terminateGroup(_ *exec.Cmd, pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killGroup(_ *exec.Cmd, pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
