//go:build windows

package process

import "os/exec"

// Windows has no SIGTERM for console-less children; both steps terminate.
func terminateGroup(cmd *exec.Cmd, _ int) error {
	return cmd.Process.Kill()
}

func killGroup(cmd *exec.Cmd, _ int) error {
	return cmd.Process.Kill()
}
