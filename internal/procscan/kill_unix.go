//go:build !windows

package procscan

import (
	"fmt"
	"syscall"
	"time"
)

// killProcess sends SIGTERM and escalates to SIGKILL after killGrace,
// matching shmifparent.Server.Kill's escalation policy for processes this
// package only knows about by pid, not by *os.Process.
func killProcess(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("procscan: sigterm pid %d: %w", pid, err)
	}
	deadline := time.Now().Add(killGrace)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err == syscall.ESRCH {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("procscan: sigkill pid %d: %w", pid, err)
	}
	return nil
}
