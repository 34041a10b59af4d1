package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/proofbench/proofbench/internal/build"
	"github.com/proofbench/proofbench/internal/build/adapters/docker"
	"github.com/proofbench/proofbench/internal/build/repositories/runs"
	"github.com/proofbench/proofbench/internal/logging"
	"github.com/proofbench/proofbench/internal/verify"
	"github.com/proofbench/proofbench/internal/verify/adapters/klee"
	"github.com/proofbench/proofbench/internal/verify/adapters/proptest"
	"github.com/proofbench/proofbench/internal/verify/adapters/seahorn"
)

const (
	defaultLogLevel = "info"

	// defaultPipelineFile is picked up from the working directory when no
	// --pipeline flag is given; the embedded document is the fallback.
	defaultPipelineFile = "proofbench.yaml"

	// backendEnv overrides the container CLI binary.
	backendEnv = "PROOFBENCH_BACKEND"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	logLevel := defaultLogLevel
	jsonLogs := false

	root := &cobra.Command{
		Use:           "proofbench",
		Short:         "Build the verification toolchain images and verify Rust crates with them",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Emit logs as JSON records")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		if jsonLogs {
			slog.SetDefault(logging.NewJSON(os.Stderr, levelVar))
		}
		return nil
	}

	root.AddCommand(
		newBuildCommand(logger),
		newMkimageCommand(logger),
		newVerifyCommand(logger),
		newImagesCommand(logger),
		newRunsCommand(logger),
	)
	return root
}

func newBuildCommand(logger *slog.Logger) *cobra.Command {
	var (
		pipelinePath string
		backendBin   string
		runsDir      string
		watch        bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Args:  cobra.NoArgs,
		Short: "Build the full image chain in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "build")

			doc, err := loadPipeline(pipelinePath, cmdLogger)
			if err != nil {
				return err
			}

			service := &build.PipelineService{
				Logger:  cmdLogger,
				Backend: newBackend(backendBin, doc, cmdLogger),
				Runs:    &runs.LocalRunStore{BaseDir: runsDir},
			}

			runOnce := func(ctx context.Context) error {
				record, err := service.Run(ctx, doc)
				if err != nil {
					return err
				}
				cmdLogger.Info("pipeline completed", "run", record.ID, "steps", len(record.Steps))
				return nil
			}

			ctx := cmd.Context()
			if !watch {
				return runOnce(ctx)
			}

			// In watch mode a failing build is reported and the loop keeps
			// going; the next change gets another chance.
			if err := runOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return err
				}
				cmdLogger.Error("initial build failed", "error", err)
			}

			paths, excluded := build.WatchPaths(doc)
			watcher := &build.Watcher{Logger: cmdLogger}
			cmdLogger.Info("entering watch mode; press Ctrl+C to stop")
			return watcher.Watch(ctx, paths, excluded, runOnce)
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "Path to the pipeline document (defaults to ./"+defaultPipelineFile+", then the embedded pipeline)")
	cmd.Flags().StringVar(&backendBin, "backend", "", "Container CLI to build with (docker, podman)")
	cmd.Flags().StringVar(&runsDir, "runs-dir", defaultRunsDir(), "Directory where run records are stored")
	cmd.Flags().BoolVar(&watch, "watch", false, "Rebuild whenever a Dockerfile or snapshot source changes")

	return cmd
}

func newMkimageCommand(logger *slog.Logger) *cobra.Command {
	var (
		pipelinePath string
		backendBin   string
		contextDir   string
	)

	cmd := &cobra.Command{
		Use:   "mkimage <image> <dockerfile>",
		Args:  cobra.ExactArgs(2),
		Short: "Build a single image with the pipeline's build arguments",
		RunE: func(cmd *cobra.Command, args []string) error {
			image := strings.TrimSpace(args[0])
			dockerfile := args[1]

			cmdLogger := logger.With("command", "mkimage", "image", image)

			doc, err := loadPipeline(pipelinePath, cmdLogger)
			if err != nil {
				return err
			}

			builder := &build.ImageBuilder{
				Logger:  cmdLogger,
				Backend: newBackend(backendBin, doc, cmdLogger),
				Tag:     doc.ImageTag(),
			}

			step := build.Step{
				Image:      image,
				Dockerfile: dockerfile,
				Context:    contextDir,
			}
			identity := build.ResolveIdentity(nil)
			if err := builder.Build(cmd.Context(), step, doc.Arguments(identity)); err != nil {
				cmdLogger.Error("build failed", "error", err)
				return err
			}

			cmdLogger.Info("build completed")
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "Path to the pipeline document supplying build arguments")
	cmd.Flags().StringVar(&backendBin, "backend", "", "Container CLI to build with (docker, podman)")
	cmd.Flags().StringVar(&contextDir, "context", "", "Build-context directory (defaults to the Dockerfile's directory)")

	return cmd
}

func newVerifyCommand(logger *slog.Logger) *cobra.Command {
	var (
		backendName  string
		crateDir     string
		tests        bool
		testNames    []string
		jobs         int
		replay       int
		verbosity    int
		clean        bool
		backendFlags string
	)

	cmd := &cobra.Command{
		Use:   "verify [-- program args]",
		Short: "Verify a Rust crate with a property-testing or formal backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "verify", "backend", backendName)

			opts := verify.Options{
				CrateDir:     crateDir,
				Tests:        tests,
				TestNames:    testNames,
				Jobs:         jobs,
				Replay:       replay,
				Verbosity:    verbosity,
				Clean:        clean,
				BackendFlags: backendFlags,
				Args:         args,
			}

			backend, err := newVerifyBackend(backendName, opts, cmdLogger)
			if err != nil {
				return err
			}

			driver := &verify.Driver{Logger: cmdLogger, Backend: backend}
			summary, err := driver.Verify(cmd.Context(), opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "VERIFICATION_RESULT: %s\n", summary.Status)
			if summary.Status != verify.StatusVerified {
				return fmt.Errorf("verification failed: %s", summary.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", verify.BackendProptest, "Verification backend (proptest, klee, seahorn)")
	cmd.Flags().StringVar(&crateDir, "crate", ".", "Crate root containing Cargo.toml")
	cmd.Flags().BoolVar(&tests, "tests", false, "Verify all tests instead of main")
	cmd.Flags().StringArrayVar(&testNames, "test", nil, "Verify only tests whose names contain this string (repeatable)")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "Number of tests to verify in parallel (0: one per CPU)")
	cmd.Flags().CountVarP(&replay, "replay", "r", "Replay failing inputs to display concrete values (repeat to replay passing inputs too)")
	cmd.Flags().CountVarP(&verbosity, "verbose", "v", "Pass more of the backend tool's output through (repeatable)")
	cmd.Flags().BoolVar(&clean, "clean", false, "Run cargo clean before building")
	cmd.Flags().StringVar(&backendFlags, "backend-flags", "", "Comma-separated extra flags for the backend tool")

	return cmd
}

func newImagesCommand(logger *slog.Logger) *cobra.Command {
	var (
		pipelinePath string
		backendBin   string
	)

	cmd := &cobra.Command{
		Use:   "images",
		Short: "List the pipeline's images and whether they exist locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "images")

			doc, err := loadPipeline(pipelinePath, cmdLogger)
			if err != nil {
				return err
			}
			backend := newBackend(backendBin, doc, cmdLogger)

			out := cmd.OutOrStdout()
			tag := doc.ImageTag()
			for _, step := range doc.ResolvedSteps() {
				ref := build.ImageRef{Name: step.Image, Tag: tag}
				present, err := backend.Has(cmd.Context(), ref)
				if err != nil {
					return fmt.Errorf("probe %s: %w", ref, err)
				}
				fmt.Fprintf(out, "%s\t(built: %t)\n", ref, present)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pipelinePath, "pipeline", "", "Path to the pipeline document")
	cmd.Flags().StringVar(&backendBin, "backend", "", "Container CLI to probe (docker, podman)")

	return cmd
}

func newRunsCommand(logger *slog.Logger) *cobra.Command {
	var runsDir string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdLogger := logger.With("command", "runs")

			store := &runs.LocalRunStore{BaseDir: runsDir}
			records, err := store.List()
			if err != nil {
				cmdLogger.Error("listing runs failed", "error", err)
				return err
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "no recorded runs")
				return nil
			}
			for _, record := range records {
				duration := record.FinishedAt.Sub(record.StartedAt).Round(time.Second)
				line := fmt.Sprintf("%s\t%s\t%s\t%d steps", record.ID, record.StartedAt.Format("2006-01-02 15:04:05"), record.Status, len(record.Steps))
				if record.Status == build.RunStatusFailed && record.Error != "" {
					line += "\t" + record.Error
				}
				fmt.Fprintf(out, "%s\t%s\n", line, duration)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runsDir, "runs-dir", defaultRunsDir(), "Directory where run records are stored")

	return cmd
}

// loadPipeline resolves the pipeline document: an explicit path, then
// proofbench.yaml in the working directory, then the embedded default.
func loadPipeline(path string, logger *slog.Logger) (*build.Document, error) {
	if path != "" {
		return build.LoadDocument(path)
	}
	if _, err := os.Stat(defaultPipelineFile); err == nil {
		logger.Debug("using pipeline document from working directory", "path", defaultPipelineFile)
		return build.LoadDocument(defaultPipelineFile)
	}
	logger.Debug("using embedded pipeline document")
	return build.DefaultDocument()
}

// newBackend picks the container CLI: flag, then PROOFBENCH_BACKEND, then the
// document's choice, then docker.
func newBackend(flagBin string, doc *build.Document, logger *slog.Logger) build.Backend {
	binary := strings.TrimSpace(flagBin)
	if binary == "" {
		binary = strings.TrimSpace(os.Getenv(backendEnv))
	}
	if binary == "" {
		binary = doc.Backend
	}
	return &docker.CLIBackend{
		Binary: binary,
		Logger: logger.With("component", "backend"),
		Output: os.Stderr,
	}
}

func newVerifyBackend(name string, opts verify.Options, logger *slog.Logger) (verify.Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case verify.BackendProptest:
		return &proptest.Backend{Options: opts, Logger: logger}, nil
	case verify.BackendKlee:
		return &klee.Backend{Options: opts, Logger: logger}, nil
	case verify.BackendSeahorn:
		return &seahorn.Backend{Options: opts, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown verification backend %q", name)
	}
}

func defaultRunsDir() string {
	if cache, err := os.UserCacheDir(); err == nil {
		return filepath.Join(cache, "proofbench", "runs")
	}
	return filepath.Join(".proofbench", "runs")
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}
