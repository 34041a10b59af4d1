// Package klee runs verification jobs under the KLEE symbolic executor
// and classifies its findings from the log output.
package klee

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/proofbench/proofbench/internal/logging"
	"github.com/proofbench/proofbench/internal/verify"
)

var (
	doneLine  = regexp.MustCompile(`^KLEE: done:\s+(.*)= (\d+)`)
	errFile   = regexp.MustCompile(`test.*\.err$`)
	ktestFile = regexp.MustCompile(`test.*\.ktest$`)
)

// Backend drives the klee binary. Each job gets a fresh
// kleeout-<name> directory under the crate root.
type Backend struct {
	Options verify.Options
	Logger  *slog.Logger

	// Output receives KLEE log lines that clear the verbosity filter
	// and replayed test input. Defaults to os.Stdout.
	Output io.Writer
}

var _ verify.Backend = (*Backend)(nil)

func (b *Backend) Name() string { return verify.BackendKlee }

func (b *Backend) Features() []string { return []string{"verifier-klee"} }

func (b *Backend) UsesBitcode() bool { return true }

func (b *Backend) CheckInstalled(ctx context.Context) error {
	if _, err := exec.LookPath("klee"); err != nil {
		return fmt.Errorf("%w: %v", verify.ErrNotInstalled, err)
	}
	return nil
}

// Verify symbolically executes one entry point and classifies the
// outcome from KLEE's stderr.
func (b *Backend) Verify(ctx context.Context, job verify.Job) (verify.Report, error) {
	logger := b.logger().With("test", job.Name)

	outDir := filepath.Join(job.CrateDir, "kleeout-"+job.Name)
	if err := os.RemoveAll(outDir); err != nil {
		logger.Error("cannot clear output directory", "dir", outDir, "error", err)
		return verify.Report{Status: verify.StatusUnknown}, nil
	}

	logger.Info("running klee", "bitcode", job.Bitcode, "entry", job.Entry, "results", outDir)

	stdoutB, stderrB, err := verify.RunTool(ctx, logger, job.CrateDir, nil, "klee", kleeArgs(job, outDir)...)
	var exit *exec.ExitError
	if err != nil && !errors.As(err, &exit) {
		return verify.Report{}, fmt.Errorf("run klee: %w", err)
	}
	stdout := verify.DecodeLatin1(stdoutB)
	stderr := verify.DecodeLatin1(stderrB)

	lines := verify.Lines(stderr)
	expect := verify.ScanExpectation(lines)
	status := b.classify(logger, lines, expect, job.Name)
	stats := scanStats(lines)
	if paths, ok := stats["completed paths"]; ok {
		logger.Warn("paths explored", "paths", paths)
		logger.Debug("klee statistics", "stats", stats)
	}

	verify.LogLines(logger, "klee stdout", stdout)
	out := b.output()
	for _, l := range lines {
		if importance(l, expect) < b.Options.Verbosity {
			fmt.Fprintln(out, l)
		}
	}

	failures := b.failingTests(logger, outDir)
	if b.Options.Replay > 0 {
		b.replay(ctx, logger, job, outDir, failures)
	}

	return verify.Report{Status: status, Stats: stats}, nil
}

func kleeArgs(job verify.Job, outDir string) []string {
	args := []string{
		"--exit-on-error",
		"--entry-point", job.Entry,
		"--libc=klee",
		"--silent-klee-assume",
		"--output-dir", outDir,
		"--disable-verify", // workaround https://github.com/klee/klee/issues/937
	}
	args = append(args, job.Flags...)
	args = append(args, job.Bitcode)
	args = append(args, job.Args...)
	return args
}

// classify maps KLEE's stderr onto a status; the first matching line
// wins. An expectation marker inverts the meaning of a clean exit.
func (b *Backend) classify(logger *slog.Logger, lines []string, expect verify.Expectation, name string) verify.Status {
	for _, l := range lines {
		switch {
		case strings.HasPrefix(l, "KLEE: HaltTimer invoked"):
			return verify.StatusTimeout
		case strings.HasPrefix(l, "KLEE: halting execution, dumping remaining states"):
			return verify.StatusTimeout
		case strings.HasPrefix(l, "KLEE: ERROR: Could not link"):
			return verify.StatusUnknown
		case strings.HasPrefix(l, "KLEE: ERROR: Unable to load symbol"):
			return verify.StatusUnknown
		case strings.HasPrefix(l, "KLEE: ERROR:") && strings.Contains(l, "unreachable"):
			return verify.StatusReachable
		case strings.HasPrefix(l, "KLEE: ERROR:") && strings.Contains(l, "overflow"):
			return verify.StatusOverflow
		case strings.HasPrefix(l, "KLEE: ERROR:"):
			return verify.StatusError
		case strings.HasPrefix(l, "VERIFIER_EXPECT:"):
			// not an error, just the marker echoed back
			continue
		case expect.MatchesPanic(l):
			logger.Debug("expected panic seen", "line", l)
			return verify.StatusVerified
		case strings.Contains(l, "assertion failed"):
			return verify.StatusError
		case strings.Contains(l, "verification failed"):
			return verify.StatusError
		case strings.Contains(l, "with overflow"):
			return verify.StatusOverflow
		case strings.Contains(l, "note: run with `RUST_BACKTRACE=1`"):
			return verify.StatusError
		case strings.Contains(l, "KLEE: done:"):
			if expect.Set {
				// expected a panic, got a clean exit
				return verify.StatusError
			}
			return verify.StatusVerified
		}
	}
	logger.Info("unable to determine status", "test", name)
	return verify.StatusUnknown
}

// scanStats collects the counters KLEE prints on completion.
func scanStats(lines []string) map[string]int {
	stats := make(map[string]int)
	for _, l := range lines {
		m := doneLine.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		stats[strings.TrimSpace(m[1])] = n
	}
	return stats
}

// importance ranks a KLEE output line. Lower is more important:
//
//	-1 driver errors, always shown
//	 1 brief description of an error
//	 2 error details
//	 3 output from the program under test
//	 4 warnings
//	 5 routine KLEE chatter
//
// Uncategorized KLEE lines rank 0 so they surface until a rule exists.
func importance(line string, expect verify.Expectation) int {
	switch {
	case strings.HasPrefix(line, "VERIFIER_EXPECT:"):
		return 4
	case expect.MatchesPanic(line):
		// reported through the status instead
		return 5
	case strings.Contains(line, "assertion failed"):
		return 1
	case strings.Contains(line, "verification failed"):
		return 1
	case strings.Contains(line, "with overflow"):
		return 1
	case strings.HasPrefix(line, "KLEE: ERROR: Could not link"):
		return -1
	case strings.HasPrefix(line, "KLEE: ERROR: Unable to load symbol"):
		return -1
	case strings.HasPrefix(line, "KLEE: ERROR:"):
		return 2
	case strings.HasPrefix(line, "warning: Linking two modules of different data layouts"):
		return 4
	case strings.Contains(line, "KLEE: WARNING:"):
		return 4
	case strings.Contains(line, "KLEE: WARNING ONCE:"):
		return 4
	case strings.HasPrefix(line, "KLEE: output directory"):
		return 5
	case strings.HasPrefix(line, "KLEE: Using"):
		return 5
	case strings.HasPrefix(line, "KLEE: NOTE: Using POSIX model"):
		return 5
	case strings.HasPrefix(line, "KLEE: done:"):
		return 5
	case strings.HasPrefix(line, "KLEE: HaltTimer invoked"):
		return 5
	case strings.HasPrefix(line, "KLEE: halting execution, dumping remaining states"):
		return 5
	case strings.HasPrefix(line, "KLEE: NOTE: now ignoring this error at this location"):
		return 5
	case strings.HasPrefix(line, "KLEE:"):
		return 0
	default:
		return 3
	}
}

// failingTests lists the test*.err files KLEE left behind, one per
// path that hit an error.
func (b *Backend) failingTests(logger *slog.Logger, outDir string) []string {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		logger.Debug("no output directory to scan", "dir", outDir, "error", err)
		return nil
	}
	var failures []string
	for _, e := range entries {
		if e.Type().IsRegular() && errFile.MatchString(e.Name()) {
			failures = append(failures, filepath.Join(outDir, e.Name()))
		}
	}
	if len(failures) > 0 {
		logger.Info("failing tests", "files", failures)
	}
	return failures
}

// replay reruns concrete inputs through cargo so the user sees the
// values that drove each path. Level one replays failing inputs,
// higher levels replay every input.
func (b *Backend) replay(ctx context.Context, logger *slog.Logger, job verify.Job, outDir string, failures []string) {
	var ktests []string
	if b.Options.Replay > 1 {
		entries, err := os.ReadDir(outDir)
		if err != nil {
			logger.Debug("no output directory to scan", "dir", outDir, "error", err)
			return
		}
		for _, e := range entries {
			if e.Type().IsRegular() && ktestFile.MatchString(e.Name()) {
				ktests = append(ktests, filepath.Join(outDir, e.Name()))
			}
		}
	} else {
		for _, f := range failures {
			ktests = append(ktests, ktestForFailure(f))
		}
	}
	sort.Strings(ktests)

	for _, ktest := range ktests {
		fmt.Fprintf(b.output(), "    Test input %s\n", ktest)
		b.replayInput(ctx, logger, job, ktest)
	}
}

// ktestForFailure maps kleeout/test000001.abort.err onto the
// kleeout/test000001.ktest holding its input.
func ktestForFailure(errPath string) string {
	base := strings.TrimSuffix(errPath, ".err")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return base + ".ktest"
}

func (b *Backend) replayInput(ctx context.Context, logger *slog.Logger, job verify.Job, ktest string) {
	features := strings.Join(b.Features(), ",")
	var args []string
	if b.Options.Tests || len(b.Options.TestNames) > 0 {
		args = []string{"test", "--features", features, job.Name, "--", "--nocapture"}
	} else {
		args = []string{"run", "--features", features}
		if len(job.Args) > 0 {
			args = append(args, "--")
			args = append(args, job.Args...)
		}
	}

	cmd := exec.CommandContext(ctx, "cargo", args...)
	cmd.Dir = job.CrateDir
	cmd.Env = append(os.Environ(),
		"RUSTFLAGS="+verify.MergeRustFlags("--cfg=verify"),
		"KTEST_FILE="+ktest,
	)
	cmd.Stdout = b.output()
	cmd.Stderr = b.output()
	logger.Debug("replaying input", "ktest", ktest, "command", "cargo "+strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		logger.Warn("replay failed", "ktest", ktest, "error", err)
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
