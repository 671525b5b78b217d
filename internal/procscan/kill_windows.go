//go:build windows

package procscan

import "fmt"

func killProcess(pid int) error {
	return fmt.Errorf("process kill is not supported on Windows")
}
