// Package tools runs the external CLIs the orchestrator shells out to
// (rke, kubectl).
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"clusterswarm/internal/logging"

	"go.uber.org/zap"
)

// Runner runs an external command and returns its stdout
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local machine
type ExecRunner struct{}

// Run implements Runner. dir may be empty for the current directory.
func (ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	commandLine := strings.TrimSpace(name + " " + strings.Join(args, " "))
	logging.Logger().Debug("running external tool",
		zap.String("command", logging.Truncate(commandLine)),
		zap.String("dir", dir))

	err := cmd.Run()

	logging.Logger().Info("external tool finished",
		zap.String("command", logging.Truncate(commandLine)),
		zap.String("stderr", logging.Truncate(stderr.String())),
		zap.Bool("success", err == nil))

	if err != nil {
		return stdout.Bytes(), fmt.Errorf("%s failed: %w (stderr: %s)", name, err, logging.TruncateN(strings.TrimSpace(stderr.String()), 256))
	}
	return stdout.Bytes(), nil
}
