// Package util provides shared utility functions.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// FindBinary resolves an external tool such as yt-dlp or ffmpeg. name comes
// from configuration and may be a bare command name or an explicit path.
// Resolution order:
//  1. envVar override (if envVar is non-empty and set)
//  2. name used as a path, when it contains a path separator
//  3. ./name (current directory, useful for development)
//  4. name on PATH (via exec.LookPath)
//
// Each candidate is verified to exist and be executable before being
// returned.
func FindBinary(name string, envVar string) (string, error) {
	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" {
			if isExecutable(envPath) {
				return envPath, nil
			}
		}
	}

	if strings.ContainsRune(name, os.PathSeparator) {
		if isExecutable(name) {
			return name, nil
		}
		return "", fmt.Errorf("binary %s not found or not executable", name)
	}

	localPath := "./" + name
	if isExecutable(localPath) {
		return localPath, nil
	}

	// LookPath already verifies executability.
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

// isExecutable reports whether path is a regular file with any executable
// bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
