package testutil

import (
	"path/filepath"
	"testing"
)

// TempDBPath returns a database path inside a per-test temp dir.
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "higgsfield.db")
}
