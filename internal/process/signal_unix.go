//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// signalGroup signals the whole process group, falling back to the direct
// child when the group is already gone.
func signalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	err := syscall.Kill(-p.Pid, sig)
	if err == nil {
		return nil
	}
	if err := p.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// killGroup removes whatever is left of the group led by pid once the leader
// has been reaped.
func killGroup(pid int) {
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
}

func terminate(p *os.Process) error { return signalGroup(p, syscall.SIGTERM) }

func kill(p *os.Process) error { return signalGroup(p, syscall.SIGKILL) }

func exitInfo(ps *os.ProcessState, err error) ExitInfo {
	info := ExitInfo{Code: -1, Err: err}
	if ps == nil {
		return info
	}
	info.Code = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		info.Signal = ws.Signal().String()
	}
	return info
}
