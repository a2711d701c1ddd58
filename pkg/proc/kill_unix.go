//go:build !windows

package proc

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcessGroup gives the child its own process group, so killTree can signal the
// whole tree through the negative pgid
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(cmd *exec.Cmd) error {
	pgid, err := unix.Getpgid(cmd.Process.Pid)

	if err == nil {
		if err := unix.Kill(-pgid, unix.SIGTERM); err == nil {
			return nil
		}
	}

	return cmd.Process.Kill()
}
