package procscan

import (
	"fmt"
	"time"
)

// killGrace mirrors shmifparent.killGrace: SIGTERM, then escalate to
// SIGKILL if the process hasn't exited within the grace period (spec §5
// "kill"). This path exists for frameservers discovered externally (not
// ones this process spawned and already holds an *os.Process for).
const killGrace = 3 * time.Second

// Kill terminates the frameserver with the given pid, first confirming via
// Discover that the pid belongs to a discovered frameserver, so callers can
// refer to a PID without having watched it get spawned.
func Kill(pid int) error {
	servers, err := Discover()
	if err != nil {
		return fmt.Errorf("procscan: discovering frameservers: %w", err)
	}
	for _, s := range servers {
		if s.PID != pid {
			continue
		}
		return killProcess(pid)
	}
	return &NotFoundError{PID: pid}
}

// NotFoundError is returned when no frameserver is found with the given pid.
type NotFoundError struct {
	PID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no frameserver found with pid %d", e.PID)
}
