package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/proofbench/proofbench/internal/logging"
)

// PipelineService builds every image of a pipeline document in document
// order, fail-fast. Earlier images are left in place when a later step fails;
// they are valid layers and the next run reuses them as cache.
type PipelineService struct {
	Logger   *slog.Logger
	Backend  Backend
	Identity IdentitySource

	// Runs persists run records. Runs may be nil; records are then discarded.
	Runs RunStore
}

// Run executes the pipeline once and returns the run record alongside the
// first error encountered.
func (s *PipelineService) Run(ctx context.Context, doc *Document) (RunRecord, error) {
	if doc == nil {
		return RunRecord{}, errors.New("pipeline document is required")
	}
	if s.Backend == nil {
		return RunRecord{}, errors.New("backend is not configured")
	}
	if err := doc.Validate(); err != nil {
		return RunRecord{}, err
	}

	identity := ResolveIdentity(s.Identity)
	args := doc.Arguments(identity)
	steps := doc.ResolvedSteps()
	tag := doc.ImageTag()

	record := RunRecord{
		ID:        uuid.New().String(),
		Status:    RunStatusPending,
		StartedAt: time.Now(),
		Steps:     make([]StepResult, len(steps)),
	}
	for i, step := range steps {
		record.Steps[i] = StepResult{Image: step.Image, Status: StepStatusPending}
	}

	logger := s.logger().With("run", record.ID)
	logger.Info("starting pipeline run",
		"steps", len(steps),
		"user", identity.Name,
		"uid", identity.UID,
	)

	fail := func(err error) (RunRecord, error) {
		record.Status = RunStatusFailed
		record.Error = err.Error()
		record.FinishedAt = time.Now()
		s.saveRecord(logger, record)
		return record, err
	}

	record.Status = RunStatusSnapshotting
	snapshotter := &Snapshotter{Logger: logger}
	for _, spec := range doc.Snapshots {
		if err := snapshotter.Prepare(ctx, spec, doc.Dir()); err != nil {
			return fail(err)
		}
	}

	record.Status = RunStatusBuilding
	builder := &ImageBuilder{Logger: logger, Backend: s.Backend, Tag: tag}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			markSkipped(record.Steps[i:])
			return fail(err)
		}

		if step.Base != "" {
			base := ImageRef{Name: step.Base, Tag: tag}
			present, err := s.Backend.Has(ctx, base)
			if err != nil {
				markSkipped(record.Steps[i:])
				return fail(fmt.Errorf("probe base %s: %w", base, err))
			}
			if !present {
				markSkipped(record.Steps[i:])
				return fail(fmt.Errorf("step %s: %w: %s", step.Image, ErrMissingBase, base))
			}
		}

		record.Steps[i].Status = StepStatusBuilding
		start := time.Now()
		err := builder.Build(ctx, step, args)
		record.Steps[i].Duration = time.Since(start).Round(time.Millisecond)

		if err != nil {
			record.Steps[i].Status = StepStatusFailed
			record.Steps[i].Error = err.Error()
			markSkipped(record.Steps[i+1:])
			return fail(err)
		}
		record.Steps[i].Status = StepStatusSucceeded
	}

	if alias, ok := doc.AliasRef(); ok && len(steps) > 0 {
		final := ImageRef{Name: steps[len(steps)-1].Image, Tag: tag}
		if alias != final {
			if err := s.Backend.Tag(ctx, final, alias); err != nil {
				return fail(fmt.Errorf("alias %s as %s: %w", final, alias, err))
			}
			logger.Info("final image aliased", "image", final.String(), "alias", alias.String())
		}
	}

	record.Status = RunStatusSucceeded
	record.FinishedAt = time.Now()
	if s.Runs != nil {
		if err := s.Runs.Save(record); err != nil {
			return record, fmt.Errorf("record run: %w", err)
		}
	}

	logger.Info("pipeline run succeeded", "duration", record.FinishedAt.Sub(record.StartedAt).Round(time.Millisecond))
	return record, nil
}

func (s *PipelineService) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

// saveRecord persists a failed run's record without masking the build error.
func (s *PipelineService) saveRecord(logger *slog.Logger, record RunRecord) {
	if s.Runs == nil {
		return
	}
	if err := s.Runs.Save(record); err != nil {
		logger.Warn("recording run failed", "error", err)
	}
}

func markSkipped(results []StepResult) {
	for i := range results {
		if results[i].Status == StepStatusPending {
			results[i].Status = StepStatusSkipped
		}
	}
}
