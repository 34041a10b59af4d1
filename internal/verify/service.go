// Package verify drives external verification tools over a Rust crate:
// it compiles the crate to LLVM bitcode, finds the entry points to
// check, and hands each one to a backend for classification.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/proofbench/proofbench/internal/logging"
)

// Driver orchestrates one crate verification from source to verdict.
type Driver struct {
	Logger  *slog.Logger
	Backend Backend

	// Output receives the user-facing per-test result lines. Defaults
	// to os.Stdout.
	Output io.Writer
}

// testCase pairs a test's display name with the symbol the backend
// starts execution at.
type testCase struct {
	Name  string
	Entry string
}

// Verify checks the crate selected by opts and reports the aggregate
// outcome. Failures the tools themselves diagnose come back as a
// Summary status; an error means verification could not be carried
// out.
func (d *Driver) Verify(ctx context.Context, opts Options) (Summary, error) {
	if d.Backend == nil {
		return Summary{}, errors.New("verify: no backend configured")
	}
	logger := d.logger().With("backend", d.Backend.Name())

	if err := validateOptions(d.Backend.Name(), opts); err != nil {
		return Summary{}, err
	}
	if err := d.Backend.CheckInstalled(ctx); err != nil {
		return Summary{}, err
	}

	crateDir := opts.crateDir()
	if opts.Clean {
		cargoClean(ctx, logger, crateDir)
	}

	pkg, targetDir, err := crateMetadata(ctx, logger, crateDir)
	if err != nil {
		return Summary{}, err
	}
	logger.Info("checking crate", "package", pkg)

	if !d.Backend.UsesBitcode() {
		report, err := d.Backend.Verify(ctx, Job{
			CrateDir: crateDir,
			Name:     pkg,
			Flags:    SplitFlags(opts.BackendFlags),
			Args:     opts.Args,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("verify %s: %w", pkg, err)
		}
		return Summary{Status: report.Status}, nil
	}

	target, err := defaultHost(ctx, logger, crateDir)
	if err != nil {
		return Summary{}, err
	}
	logger.Info("resolved build target", "target", target)

	return d.verifyBitcode(ctx, logger, opts, pkg, target, targetDir)
}

// verifyBitcode is the whole-program path: compile once, locate the
// entry points, then run the backend per entry point.
func (d *Driver) verifyBitcode(ctx context.Context, logger *slog.Logger, opts Options, pkg, target, targetDir string) (Summary, error) {
	crateDir := opts.crateDir()
	features := d.Backend.Features()

	logger.Info("compiling crate", "package", pkg)
	bcFiles, objects, err := compileCrate(ctx, logger, compileSpec{
		CrateDir:  crateDir,
		Package:   pkg,
		Features:  features,
		Target:    target,
		TargetDir: targetDir,
		Tests:     opts.testsRequested(),
		Verbosity: opts.Verbosity,
		OptLevel:  d.Backend.Name() != BackendSeahorn,
	})
	if err != nil {
		logger.Error("compiling crate failed", "error", err)
		return Summary{Status: StatusUnknown}, nil
	}

	// LTO leaves one bitcode file per linkable product; the one with a
	// main function is the program under verification.
	var candidates []string
	for _, bc := range bcFiles {
		n, err := countSymbols(ctx, logger, bc, []string{"main", "_main"})
		if err != nil {
			return Summary{}, err
		}
		if n > 0 {
			candidates = append(candidates, bc)
		}
	}
	var rustBC string
	switch len(candidates) {
	case 1:
		rustBC = candidates[0]
	case 0:
		if opts.testsRequested() {
			logger.Error("no test harness bitcode found", "package", pkg)
		} else {
			logger.Error("no bitcode with a main function found", "package", pkg)
		}
		return Summary{Status: StatusUnknown}, nil
	default:
		logger.Error("ambiguous bitcode candidates", "package", pkg, "files", candidates)
		return Summary{Status: StatusUnknown}, nil
	}

	bcFile := rustBC
	if len(objects) > 0 {
		linked := filepath.Join(crateDir, "linked.bc")
		if err := linkBitcode(ctx, logger, crateDir, linked, append([]string{rustBC}, objects...)); err != nil {
			logger.Error("linking build script objects failed", "error", err)
			return Summary{Status: StatusUnknown}, nil
		}
		bcFile = linked
	}

	if d.Backend.Name() == BackendSeahorn {
		logger.Info("patching bitcode for seahorn")
		patched := patchedName(bcFile, "patch")
		if err := patchBitcode(ctx, logger, []string{"--seahorn"}, bcFile, patched); err != nil {
			logger.Error("patching bitcode failed", "error", err)
			return Summary{Status: StatusUnknown}, nil
		}
		bcFile = patched
	}

	tests, done, err := d.selectTests(ctx, logger, opts, pkg, rustBC)
	if err != nil {
		return Summary{}, err
	}
	if done != nil {
		return *done, nil
	}

	// Programs that read argv need their initializers run before main.
	if len(opts.Args) > 0 {
		logger.Info("patching bitcode for initializers")
		patched := patchedName(bcFile, "init")
		if err := patchBitcode(ctx, logger, []string{"--initializers"}, bcFile, patched); err != nil {
			logger.Error("patching bitcode failed", "error", err)
			return Summary{Status: StatusUnknown}, nil
		}
		bcFile = patched
	}

	return d.runTests(ctx, logger, opts, tests, bcFile)
}

// selectTests decides which entry points to verify: the listed tests,
// the crate's mangled main for SeaHorn, or plain main. A non-nil
// summary short-circuits the run.
func (d *Driver) selectTests(ctx context.Context, logger *slog.Logger, opts Options, pkg, rustBC string) ([]testCase, *Summary, error) {
	switch {
	case opts.testsRequested():
		logger.Info("listing tests", "package", pkg)
		names, err := listTests(ctx, logger, opts.crateDir(), d.Backend.Features())
		if err != nil {
			return nil, nil, err
		}
		names = filterTests(names, opts.TestNames)
		if len(names) == 0 {
			logger.Error("no tests found", "package", pkg)
			return nil, &Summary{Status: StatusUnknown}, nil
		}
		logger.Info("resolving test entry points", "count", len(names))
		tests, err := lookupSymbols(ctx, logger, rustBC, names)
		if err != nil {
			return nil, nil, err
		}
		return tests, nil, nil

	case d.Backend.Name() == BackendSeahorn:
		// SeaHorn needs the mangled main; the unmangled alias is
		// stripped during patching. Symbol names are matched without
		// the crate segment, so plain "main" selects the crate's own.
		mains, err := lookupSymbols(ctx, logger, rustBC, []string{"main"})
		if err != nil {
			return nil, nil, err
		}
		if len(mains) > 1 {
			logger.Error("found more than one main function", "package", pkg)
			return nil, &Summary{Status: StatusUnknown}, nil
		}
		return []testCase{{Name: "main", Entry: mains[0].Entry}}, nil, nil

	default:
		return []testCase{{Name: "main", Entry: "main"}}, nil, nil
	}
}

// runTests drives the backend over every entry point and prints the
// cargo test style result lines.
func (d *Driver) runTests(ctx context.Context, logger *slog.Logger, opts Options, tests []testCase, bcFile string) (Summary, error) {
	out := d.output()
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	logger.Info("running verification", "tests", len(tests), "jobs", jobs)

	results := make([]TestResult, len(tests))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, tc := range tests {
		i, tc := i, tc
		g.Go(func() error {
			report, err := d.Backend.Verify(gctx, Job{
				CrateDir: opts.crateDir(),
				Name:     tc.Name,
				Entry:    tc.Entry,
				Bitcode:  bcFile,
				Flags:    SplitFlags(opts.BackendFlags),
				Args:     opts.Args,
			})
			if err != nil {
				return fmt.Errorf("verify %s: %w", tc.Name, err)
			}
			results[i] = TestResult{Name: tc.Name, Status: report.Status}

			mu.Lock()
			defer mu.Unlock()
			if report.Status == StatusVerified {
				fmt.Fprintf(out, "test %s ... ok\n", tc.Name)
			} else {
				fmt.Fprintf(out, "test %s ... %s\n", tc.Name, report.Status)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{Status: StatusVerified, Results: results}
	for _, r := range results {
		if r.Status == StatusVerified {
			summary.Passed++
		} else {
			summary.Failed++
			summary.Status = r.Status
		}
	}
	msg := "ok"
	if summary.Failed > 0 {
		msg = string(summary.Status)
	}
	fmt.Fprintf(out, "test result: %s. %d passed; %d failed\n", msg, summary.Passed, summary.Failed)
	return summary, nil
}

func (d *Driver) logger() *slog.Logger {
	return logging.Ensure(d.Logger)
}

func (d *Driver) output() io.Writer {
	if d.Output == nil {
		return os.Stdout
	}
	return d.Output
}

// SyncWriter serializes writes from concurrent verification jobs so
// their output lines do not interleave.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSyncWriter(w io.Writer) *SyncWriter {
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
