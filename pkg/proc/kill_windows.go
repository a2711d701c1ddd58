//go:build windows

package proc

import (
	"os/exec"
	"strconv"
)

func configureProcessGroup(cmd *exec.Cmd) {
	// Windows has no process groups to set up here; killTree uses taskkill /T instead
}

func killTree(cmd *exec.Cmd) error {
	kill := exec.Command("taskkill", "/F", "/T", "/PID", strconv.Itoa(cmd.Process.Pid))

	if err := kill.Run(); err == nil {
		return nil
	}

	return cmd.Process.Kill()
}
