//go:build windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

func (r *Runner) execute(ctx context.Context, command string) (*Result, error) {
	cmd := exec.CommandContext(ctx, "cmd", "/C", command)
	cmd.Dir = r.cfg.WorkDir
	cmd.Env = r.policy.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, err
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}
