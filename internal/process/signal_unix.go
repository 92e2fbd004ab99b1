//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so that
// wrappers like gradle or npm can be signalled together with their children.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminate(pid int) error { return signalGroup(pid, syscall.SIGTERM) }

func kill(pid int) error { return signalGroup(pid, syscall.SIGKILL) }

// signalGroup signals the whole group, falling back to the leader alone.
// ESRCH means the process is already gone and is not an error.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err2 := syscall.Kill(pid, sig); err2 != nil && !errors.Is(err2, syscall.ESRCH) {
		return err2
	}
	return nil
}
