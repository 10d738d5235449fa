package converter

import (
	"bytes"
	"context"
	"os/exec"
	"time"
)

// stderrLimit caps how much converter stderr is kept for error reports.
const stderrLimit = 4 << 10

// waitDelay bounds how long Wait blocks on output pipes after a kill.
const waitDelay = 2 * time.Second

// Runner abstracts process execution so the engine can be tested without a
// real converter installed.
type Runner interface {
	// Run executes name with args in dir and returns its stderr. It must
	// terminate the process (and its children) when ctx is done and then
	// return ctx.Err().
	Run(ctx context.Context, dir, name string, args ...string) (stderr string, err error)
}

// ExecRunner runs commands in their own process group so that a timeout kills
// the converter together with any helper processes it spawned.
type ExecRunner struct{}

var _ Runner = ExecRunner{}

func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cmd := exec.Command(name, args...) // #nosec G204 -- binary comes from operator config
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return "", err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return tail(stderr.Bytes()), err
	case <-ctx.Done():
		killProcessGroup(cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
		return tail(stderr.Bytes()), ctx.Err()
	}
}

func tail(b []byte) string {
	if len(b) > stderrLimit {
		b = b[len(b)-stderrLimit:]
	}
	return string(bytes.TrimSpace(b))
}
