//go:build !windows

package process

import "syscall"

// killGroup signals the whole process group led by pid. It falls back to the
// single process when the group is already gone.
func killGroup(pid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pid, sig); err != nil {
		return syscall.Kill(pid, sig)
	}
	return nil
}
