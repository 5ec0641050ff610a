// Package testutil provides small stdlib-only helpers shared by the E2E
// suite and other tests.
package testutil

import (
	"net"
	"os"
	"path/filepath"
)

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// FreePort reserves a loopback port and releases it, returning the
// host:port string. The port can be handed to a process that binds it
// shortly after; the window between release and rebind is small enough
// for single-machine test runs.
func FreePort() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		return "", err
	}
	return addr, nil
}
