//go:build !windows

package process

import "os/exec"

// shellCommand runs script under /bin/sh. The absolute path keeps it working
// when the child's PATH is overridden.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}
