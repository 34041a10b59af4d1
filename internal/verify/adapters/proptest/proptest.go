// Package proptest runs a crate's property tests through plain cargo
// test as a fuzzing fallback when no verification tool is available.
package proptest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/proofbench/proofbench/internal/logging"
	"github.com/proofbench/proofbench/internal/verify"
)

// Backend drives cargo test directly; there is no bitcode stage and
// the whole crate is one job.
type Backend struct {
	Options verify.Options
	Logger  *slog.Logger
}

var _ verify.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return verify.BackendProptest }

// Features selects the same shim library SeaHorn uses; under plain
// cargo the shims fall back to randomized testing.
func (b *Backend) Features() []string { return []string{"verifier-seahorn"} }

func (b *Backend) UsesBitcode() bool { return false }

func (b *Backend) CheckInstalled(ctx context.Context) error {
	if _, err := exec.LookPath("cargo"); err != nil {
		return fmt.Errorf("%w: %v", verify.ErrNotInstalled, err)
	}
	return nil
}

// Verify runs the crate's tests and classifies the run from cargo's
// exit status, distinguishing arithmetic overflow from other failures.
func (b *Backend) Verify(ctx context.Context, job verify.Job) (verify.Report, error) {
	logger := b.logger().With("package", job.Name)
	logger.Info("running cargo test")

	stdout, stderr, err := verify.RunTool(ctx, logger, job.CrateDir, nil, "cargo", b.cargoArgs(job)...)
	if err == nil {
		return verify.Report{Status: verify.StatusVerified}, nil
	}
	var exit *exec.ExitError
	if !errors.As(err, &exit) {
		return verify.Report{}, fmt.Errorf("run cargo: %w", err)
	}

	verify.LogLines(logger, "cargo stderr", string(stderr))
	verify.LogLines(logger, "cargo stdout", string(stdout))
	for _, l := range verify.Lines(string(stderr)) {
		if strings.Contains(l, "with overflow") {
			return verify.Report{Status: verify.StatusOverflow}, nil
		}
	}
	return verify.Report{Status: verify.StatusError}, nil
}

func (b *Backend) cargoArgs(job verify.Job) []string {
	args := []string{"test"}
	for i := 0; i < b.Options.Verbosity; i++ {
		args = append(args, "-v")
	}
	args = append(args, "--features", strings.Join(b.Features(), ","))
	if b.Options.Tests {
		args = append(args, "--tests")
	}
	for _, t := range b.Options.TestNames {
		args = append(args, "--test", t)
	}
	if b.Options.Replay > 0 {
		args = append(args, "--", "--nocapture")
	} else if len(job.Args) > 0 {
		args = append(args, "--")
		args = append(args, job.Args...)
	}
	return args
}

func (b *Backend) logger() *slog.Logger {
	return logging.Ensure(b.Logger)
}
