package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks on output pipes held open by
// grandchildren after the process itself was killed.
const waitDelay = 2 * time.Second

type invocation struct {
	output   []byte
	err      error
	timedOut bool
}

// invoke runs argv in dir with stdout and stderr merged. The timeout is the
// only way to interrupt the program: cancellation of ctx is not propagated to
// a process that has already started.
func invoke(ctx context.Context, dir string, argv []string, timeout time.Duration) invocation {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	err := cmd.Run()
	inv := invocation{output: out.Bytes(), err: err}
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		inv.timedOut = true
	}
	return inv
}
