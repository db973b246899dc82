// Package pid guards against two measurement runs driving the same
// device at once: the counters and capture flags they touch are
// device-global. The guard is scoped per device serial, so runs
// against different devices may overlap.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	"codeberg.org/mutker/devperf/internal/errors"
)

func pidPath(serial string) string {
	name := "devperf.pid"
	if serial != "" {
		name = "devperf-" + serial + ".pid"
	}

	return filepath.Join(os.TempDir(), name)
}

// Write writes the current process ID to the device's PID file. It
// fails with ErrAlreadyRunning when another live process holds the
// same device.
func Write(serial string) error {
	errFactory := errors.New()
	path := pidPath(serial)

	if _, err := os.Stat(path); err == nil {
		// PID file exists, check if the process is running
		bytes, err := os.ReadFile(path)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		pid, err := strconv.Atoi(string(bytes))
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return errFactory.Wrap(errors.ErrInternal, err)
		}

		if err := process.Signal(syscall.Signal(0)); err == nil {
			return errFactory.WithData(errors.ErrAlreadyRunning, serial)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the device's PID file.
func Remove(serial string) error {
	errFactory := errors.New()
	path := pidPath(serial)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}
