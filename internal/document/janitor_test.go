package document

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// touch creates name in dir with the given modification time.
func touch(t *testing.T, dir, name string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestJanitorSweep(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	touch(t, dir, "1_old.pdf", now.Add(-48*time.Hour))
	touch(t, dir, "2_fresh.pdf", now.Add(-time.Hour))
	touch(t, dir, "keep me.txt", now.Add(-48*time.Hour)) // not a stored name
	require.NoError(t, os.Mkdir(filepath.Join(dir, "3_dir"), 0o755))

	j := &Janitor{Dir: dir, MaxAge: 24 * time.Hour}
	n, err := j.Sweep(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(filepath.Join(dir, "1_old.pdf"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	for _, kept := range []string{"2_fresh.pdf", "keep me.txt", "3_dir"} {
		_, err := os.Stat(filepath.Join(dir, kept))
		assert.NoError(t, err, kept)
	}
}

func TestJanitorDisabled(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "1_old.pdf", time.Unix(0, 0))

	j := &Janitor{Dir: dir}
	n, err := j.Sweep(time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = os.Stat(filepath.Join(dir, "1_old.pdf"))
	assert.NoError(t, err)
}

func TestJanitorRun(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "1_old.pdf", time.Now().Add(-time.Hour))

	j := &Janitor{Dir: dir, MaxAge: time.Minute, Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, "1_old.pdf"))
		return os.IsNotExist(err)
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
