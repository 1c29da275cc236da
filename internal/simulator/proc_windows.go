//go:build windows

package simulator

import "os/exec"

func configureCommandProcess(cmd *exec.Cmd) {}

// signalCommandProcess has no graceful variant on Windows
func signalCommandProcess(cmd *exec.Cmd) error {
	terminateCommandProcess(cmd)
	return nil
}

func terminateCommandProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
