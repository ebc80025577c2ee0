//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// killProcessGroup starts the program in its own process group and kills the
// whole group on timeout, so shell wrappers do not leave children running.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
