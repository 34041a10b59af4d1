// Package seahorn runs verification jobs through the SeaHorn model
// checker's bounded model checking pipeline.
package seahorn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/proofbench/proofbench/internal/logging"
	"github.com/proofbench/proofbench/internal/verify"
)

// baseArgs is the sea bpf flag set lifted from the sea_base.yaml
// recipe: aggressive inlining and devirtualization so the bounded
// model checker sees one flat program.
var baseArgs = []string{
	"bpf",
	"-O3",
	"--inline",
	"--enable-loop-idiom",
	"--enable-indvar",
	"--no-lower-gv-init-struct",
	"--externalize-addr-taken-functions",
	"--no-kill-vaarg",
	"--with-arith-overflow=true",
	"--horn-unify-assumes=true",
	"--horn-gsa",
	"--no-fat-fns=bcmp,memcpy,assert_bytes_match,ensure_linked_list_is_allocated,sea_aws_linked_list_is_valid",
	"--dsa=sea-cs-t",
	"--devirt-functions=types",
	"--bmc=opsem",
	"--horn-vcgen-use-ite",
	"--horn-vcgen-only-dataflow=true",
	"--horn-bmc-coi=true",
	"--sea-opsem-allocator=static",
	"--horn-explicit-sp0=false",
	"--horn-bv2-lambdas",
	"--horn-bv2-simplify=true",
	"--horn-bv2-extra-widemem",
	"--horn-stats=true",
	"--keep-temps",
}

// Backend drives the sea binary. Each job gets a fresh seaout-<name>
// temp directory under the crate root.
type Backend struct {
	Options verify.Options
	Logger  *slog.Logger

	// Output receives sea log lines that clear the verbosity filter.
	// Defaults to os.Stdout.
	Output io.Writer
}

var _ verify.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return verify.BackendSeahorn }

func (b *Backend) Features() []string { return []string{"verifier-seahorn"} }

func (b *Backend) UsesBitcode() bool { return true }

func (b *Backend) CheckInstalled(ctx context.Context) error {
	if _, err := exec.LookPath("sea"); err != nil {
		return fmt.Errorf("%w: %v", verify.ErrNotInstalled, err)
	}
	return nil
}

// Verify model-checks one entry point. SeaHorn reports sat for a
// reachable assertion failure and unsat for a proof.
func (b *Backend) Verify(ctx context.Context, job verify.Job) (verify.Report, error) {
	logger := b.logger().With("test", job.Name)

	outDir := filepath.Join(job.CrateDir, "seaout-"+job.Name)
	if err := os.RemoveAll(outDir); err != nil {
		logger.Error("cannot clear output directory", "dir", outDir, "error", err)
		return verify.Report{Status: verify.StatusUnknown}, nil
	}

	logger.Info("running seahorn", "bitcode", job.Bitcode, "entry", job.Entry, "results", outDir)

	stdoutB, stderrB, err := verify.RunTool(ctx, logger, job.CrateDir, nil, "sea", seaArgs(job, outDir)...)
	var exit *exec.ExitError
	if err != nil && !errors.As(err, &exit) {
		return verify.Report{}, fmt.Errorf("run sea: %w", err)
	}
	stdout := string(stdoutB)
	stderr := string(stderrB)

	stderrLines := verify.Lines(stderr)
	stdoutLines := verify.Lines(stdout)
	expect := verify.ScanExpectation(stderrLines)
	status := b.classify(logger, append(append([]string{}, stderrLines...), stdoutLines...), expect, job.Name)
	logger.Info("seahorn finished", "status", status, "expected_panic", expect.Set)

	// TODO: parse the --horn-stats block into Report.Stats.

	verify.LogLines(logger, "sea stdout", stdout)
	out := b.output()
	for _, l := range stderrLines {
		if importance(l, expect) < b.Options.Verbosity {
			fmt.Fprintln(out, l)
		}
	}

	return verify.Report{Status: status}, nil
}

func seaArgs(job verify.Job, outDir string) []string {
	args := append([]string{}, baseArgs...)
	args = append(args, "--temp-dir="+outDir, "--entry="+job.Entry)
	args = append(args, job.Flags...)
	args = append(args, job.Bitcode)
	return args
}

// classify scans stderr then stdout for the solver verdict; the first
// matching line wins.
func (b *Backend) classify(logger *slog.Logger, lines []string, expect verify.Expectation, name string) verify.Status {
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "VERIFIER_EXPECT:"):
			// not a verdict, just the marker echoed back
			continue
		case expect.MatchesPanic(l):
			logger.Debug("expected panic seen", "line", l)
			return verify.StatusVerified
		case l == "sat":
			return verify.StatusError
		case l == "unsat":
			if expect.Set {
				// expected a panic, proved there is none
				return verify.StatusError
			}
			return verify.StatusVerified
		}
	}
	logger.Info("unable to determine status", "test", name)
	return verify.StatusUnknown
}

// importance ranks a sea output line; lower is more important. The
// verdict itself ranks 1, known-noisy warnings 4, everything the
// program printed 3.
func importance(line string, expect verify.Expectation) int {
	switch {
	case strings.HasPrefix(line, "VERIFIER_EXPECT:"):
		return 4
	case line == "sat":
		return 1
	case strings.HasPrefix(line, "Warning: Externalizing function:"),
		strings.HasPrefix(line, "Warning: not lowering an initializer for a global struct:"):
		return 4
	case expect.MatchesPanic(line), line == "unsat":
		return 5
	case strings.HasPrefix(line, "Warning:"):
		// surface uncategorized warnings until a rule exists
		return 0
	default:
		return 3
	}
}

func (b *Backend) logger() *slog.Logger {
	return logging.Ensure(b.Logger)
}

func (b *Backend) output() io.Writer {
	if b.Output == nil {
		return os.Stdout
	}
	return b.Output
}
