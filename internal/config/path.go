// Package config resolves paths supplied through flags, environment
// variables, and the config file.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath resolves a user-supplied path the way a shell would: a leading
// ~ becomes the home directory and $VAR references are filled in from the
// environment. Paths needing no expansion pass through unchanged.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return os.ExpandEnv(path)
}
