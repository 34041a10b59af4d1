// Package docker drives a Docker-compatible CLI (docker, podman) as the
// container build backend.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/proofbench/proofbench/internal/build"
	"github.com/proofbench/proofbench/internal/logging"
)

// DefaultBinary is used when no backend binary is configured.
const DefaultBinary = "docker"

// CLIBackend shells out to a Docker-compatible CLI. Build output streams to
// Output so progress stays visible; inspect and tag output is captured.
type CLIBackend struct {
	// Binary is the CLI to invoke. DefaultBinary when empty.
	Binary string
	Logger *slog.Logger
	// Output receives the build's combined stdout and stderr. os.Stderr when nil.
	Output io.Writer
}

var _ build.Backend = (*CLIBackend)(nil)

// Has runs `image inspect` and reports whether the image exists locally.
func (b *CLIBackend) Has(ctx context.Context, ref build.ImageRef) (bool, error) {
	cmd := exec.CommandContext(ctx, b.binary(), "image", "inspect", "--format", "{{.Id}}", ref.String())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logCommand(cmd)
	err := cmd.Run()
	if err == nil {
		return true, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && imageNotFound(stderr.String()) {
		return false, nil
	}
	return false, fmt.Errorf("inspect image %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
}

// Build runs `build` with the request's Dockerfile, tag, build arguments, and
// cache sources.
func (b *CLIBackend) Build(ctx context.Context, req build.BuildRequest) error {
	cmd := exec.CommandContext(ctx, b.binary(), buildArgv(req)...)
	cmd.Stdout = b.output()
	cmd.Stderr = b.output()

	b.logCommand(cmd)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s build %s: %w", b.binary(), req.Ref, err)
	}
	return nil
}

// Tag records target as an additional name for ref.
func (b *CLIBackend) Tag(ctx context.Context, ref, target build.ImageRef) error {
	cmd := exec.CommandContext(ctx, b.binary(), "tag", ref.String(), target.String())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	b.logCommand(cmd)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tag %s as %s: %w: %s", ref, target, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func (b *CLIBackend) binary() string {
	if b.Binary != "" {
		return b.Binary
	}
	return DefaultBinary
}

func (b *CLIBackend) output() io.Writer {
	if b.Output != nil {
		return b.Output
	}
	return os.Stderr
}

func (b *CLIBackend) logCommand(cmd *exec.Cmd) {
	logging.Ensure(b.Logger).Debug("running backend command", "argv", strings.Join(cmd.Args, " "))
}

// buildArgv assembles the CLI arguments for a build. Build arguments are
// sorted by name so the argv is deterministic.
func buildArgv(req build.BuildRequest) []string {
	argv := []string{"build", "--file", req.Dockerfile, "--tag", req.Ref.String()}

	names := make([]string, 0, len(req.Args))
	for name := range req.Args {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		argv = append(argv, "--build-arg", name+"="+req.Args[name])
	}

	for _, cache := range req.CacheFrom {
		argv = append(argv, "--cache-from", cache.String())
	}

	contextDir := req.Context
	if contextDir == "" {
		contextDir = "."
	}
	return append(argv, contextDir)
}

// imageNotFound distinguishes a missing image from other inspect failures.
// Docker reports "No such image", podman "image not known".
func imageNotFound(stderr string) bool {
	lowered := strings.ToLower(stderr)
	return strings.Contains(lowered, "no such image") ||
		strings.Contains(lowered, "image not known") ||
		strings.Contains(lowered, "no such object")
}
