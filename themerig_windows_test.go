//go:build windows

package themerig

import "os"

func syscallKill0(pid int) error {
	_, err := os.FindProcess(pid)
	return err
}
