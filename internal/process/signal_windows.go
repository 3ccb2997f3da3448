//go:build windows

package process

import (
	"os"
	"syscall"
)

// killGroup terminates the process. Windows has no SIGTERM equivalent for
// console children, so every signal becomes a hard kill.
func killGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
