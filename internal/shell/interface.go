package shell

import "context"

// Runner is the base remote-command capability. Every device-side
// capability module takes a Runner as its only dependency; higher
// layers never issue raw commands themselves.
type Runner interface {
	// Run executes a shell command on the device and returns its
	// combined output with trailing whitespace trimmed.
	Run(ctx context.Context, cmd string) (string, error)
}

// The RunnerFunc type is an adapter to allow the use of ordinary
// functions as Runners.
type RunnerFunc func(ctx context.Context, cmd string) (string, error)

func (f RunnerFunc) Run(ctx context.Context, cmd string) (string, error) {
	return f(ctx, cmd)
}
