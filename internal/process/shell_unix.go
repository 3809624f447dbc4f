//go:build !windows

package process

import (
	"fmt"
	"os/exec"
)

var defaultShells = []string{"/bin/bash", "/bin/sh"}

// resolveShell returns preferred when it can be found, otherwise the first
// available default shell.
func resolveShell(preferred string) (string, error) {
	if preferred != "" {
		p, err := exec.LookPath(preferred)
		if err != nil {
			return "", fmt.Errorf("shell %s: %w", preferred, err)
		}
		return p, nil
	}
	for _, sh := range defaultShells {
		if p, err := exec.LookPath(sh); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no shell found (tried %v)", defaultShells)
}
