package cleanup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	old := now.Add(-10 * time.Minute)

	mk := func(name string, mod time.Time) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Join(p, "Default"), 0755))
		require.NoError(t, os.Chtimes(p, mod, mod))
		return p
	}
	stale := mk(".org.chromium.Chromium.abc123", old)
	fresh := mk(".org.chromium.Chromium.def456", now)
	other := mk("lighthouse.xyz", old)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".org.chromium.Chromium.file"), []byte("x"), 0644))

	removed := Sweep(dir, 5*time.Minute, now, zerolog.Nop())
	assert.Equal(t, 1, removed)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, other)
	assert.FileExists(t, filepath.Join(dir, ".org.chromium.Chromium.file"))
}

func TestSweepMissingDir(t *testing.T) {
	assert.Zero(t, Sweep(filepath.Join(t.TempDir(), "missing"), time.Minute, time.Now(), zerolog.Nop()))
}
