package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/proofbench/proofbench/internal/logging"
)

// ImageBuilder builds one tagged image through the container backend.
type ImageBuilder struct {
	Logger  *slog.Logger
	Backend Backend

	// Tag is applied to every image the builder produces. DefaultTag when empty.
	Tag string
}

// Build validates the step, probes for a previous image to reuse as layer
// cache, and asks the backend to build. An empty image name or a missing
// Dockerfile fails before the backend is touched.
func (b *ImageBuilder) Build(ctx context.Context, step Step, args Arguments) error {
	if strings.TrimSpace(step.Image) == "" {
		return ErrEmptyImageName
	}
	if b.Backend == nil {
		return errors.New("backend is not configured")
	}
	if _, err := os.Stat(step.Dockerfile); err != nil {
		return fmt.Errorf("dockerfile %s: %w", step.Dockerfile, err)
	}

	contextDir := step.Context
	if contextDir == "" {
		contextDir = filepath.Dir(step.Dockerfile)
	}

	ref := ImageRef{Name: step.Image, Tag: b.tag()}
	request := BuildRequest{
		Ref:        ref,
		Dockerfile: step.Dockerfile,
		Context:    contextDir,
		Args:       args,
	}

	cached, err := b.Backend.Has(ctx, ref)
	if err != nil {
		return fmt.Errorf("probe image %s: %w", ref, err)
	}
	if cached {
		request.CacheFrom = append(request.CacheFrom, ref)
	}

	logger := logging.Ensure(b.Logger).With("image", ref.String())
	logger.Info("building image", "dockerfile", step.Dockerfile, "cache", cached)

	start := time.Now()
	if err := b.Backend.Build(ctx, request); err != nil {
		return fmt.Errorf("build %s: %w", ref, err)
	}
	logger.Info("image built", "duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func (b *ImageBuilder) tag() string {
	if b.Tag != "" {
		return b.Tag
	}
	return DefaultTag
}
