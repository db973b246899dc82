package shell

import (
	"context"
	"os/exec"
	"strings"

	"codeberg.org/mutker/devperf/internal/errors"
)

const (
	ErrCommandFailed = errors.ErrorCode("shell_command_failed")
	ErrNoDevice      = errors.ErrorCode("shell_no_device")
)

// ADB runs device commands through a locally installed adb binary.
// The adb server owns the wire protocol; we only shell out to it.
type ADB struct {
	path   string
	serial string
}

// NewADB resolves the adb binary and returns a Runner bound to the
// given device serial. An empty serial targets the only connected
// device, matching adb's own behavior.
func NewADB(serial string) (*ADB, error) {
	errFactory := errors.New()

	path, err := exec.LookPath("adb")
	if err != nil {
		return nil, errFactory.Wrap(ErrNoDevice, err)
	}

	return &ADB{path: path, serial: serial}, nil
}

func (a *ADB) Run(ctx context.Context, cmd string) (string, error) {
	errFactory := errors.New()

	args := make([]string, 0, 4)
	if a.serial != "" {
		args = append(args, "-s", a.serial)
	}
	args = append(args, "shell", cmd)

	out, err := exec.CommandContext(ctx, a.path, args...).CombinedOutput()
	if err != nil {
		return "", errFactory.Wrap(ErrCommandFailed, err).WithData(cmd)
	}

	return strings.TrimRight(string(out), " \t\r\n"), nil
}
