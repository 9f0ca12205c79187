//go:build windows

package process

import (
	"errors"
	"os"
)

// Windows has no SIGTERM; both paths terminate the process.
func terminate(p *os.Process) error { return kill(p) }

func kill(p *os.Process) error {
	if p == nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func exitInfo(ps *os.ProcessState, err error) ExitInfo {
	info := ExitInfo{Code: -1, Err: err}
	if ps != nil {
		info.Code = ps.ExitCode()
	}
	return info
}

// killGroup is a no-op: descendants started without a job object cannot be
// addressed as a group.
func killGroup(int) {}
