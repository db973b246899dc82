package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/mutker/devperf/internal/errors"
	"codeberg.org/mutker/devperf/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	serial := "test-serial-" + strconv.Itoa(os.Getpid())
	t.Cleanup(func() { _ = pid.Remove(serial) })

	require.NoError(t, pid.Write(serial))

	data, err := os.ReadFile(filepath.Join(os.TempDir(), "devperf-"+serial+".pid"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	// our own live process holds the lock
	err = pid.Write(serial)
	assert.True(t, errors.IsCode(err, errors.ErrAlreadyRunning))

	require.NoError(t, pid.Remove(serial))
	require.NoError(t, pid.Remove(serial), "removing an absent file is not an error")
}

func TestWriteReclaimsStaleFile(t *testing.T) {
	serial := "test-stale-" + strconv.Itoa(os.Getpid())
	t.Cleanup(func() { _ = pid.Remove(serial) })

	path := filepath.Join(os.TempDir(), "devperf-"+serial+".pid")
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o600))

	require.NoError(t, pid.Write(serial), "a dead holder's file is reclaimed")
}
