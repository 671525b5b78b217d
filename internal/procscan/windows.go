//go:build windows

package procscan

import "fmt"

// discoverProcesses is not implemented on Windows: SHMIF itself is a
// POSIX-socket/shared-memory protocol (spec §1), so there is no frameserver
// population to discover on this platform.
func discoverProcesses() ([]Frameserver, error) {
	return nil, fmt.Errorf("process discovery is not supported on Windows")
}
