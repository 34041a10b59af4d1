package verify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var testListLine = regexp.MustCompile(`(\S+):\s+test\s*$`)

// crateMetadata resolves the crate's package name and cargo target
// directory. The name is sanitized the way rustc embeds it in symbol
// names.
func crateMetadata(ctx context.Context, logger *slog.Logger, crateDir string) (string, string, error) {
	manifest := filepath.Join(crateDir, "Cargo.toml")
	stdout, stderr, err := RunTool(ctx, logger, crateDir, nil,
		"cargo", "metadata", "--format-version", "1", "--manifest-path", manifest)
	if err != nil {
		return "", "", fmt.Errorf("cargo metadata: %w (%s)", err, firstLine(stderr))
	}
	name, targetDir, err := parseMetadata(stdout)
	if err != nil {
		return "", "", fmt.Errorf("cargo metadata: %w", err)
	}
	return sanitizePackage(name), targetDir, nil
}

func parseMetadata(raw []byte) (string, string, error) {
	var meta struct {
		Packages []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"packages"`
		Resolve *struct {
			Root string `json:"root"`
		} `json:"resolve"`
		TargetDirectory string `json:"target_directory"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", "", err
	}
	name := ""
	if meta.Resolve != nil && meta.Resolve.Root != "" {
		for _, p := range meta.Packages {
			if p.ID == meta.Resolve.Root {
				name = p.Name
				break
			}
		}
	}
	if name == "" && len(meta.Packages) > 0 {
		name = meta.Packages[0].Name
	}
	if name == "" {
		return "", "", errors.New("no root package reported")
	}
	if meta.TargetDirectory == "" {
		return "", "", errors.New("no target directory reported")
	}
	return name, meta.TargetDirectory, nil
}

// sanitizePackage maps a package name onto the identifier rustc uses
// in mangled symbols.
func sanitizePackage(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, name)
}

// defaultHost asks rustup for the host target triple builds are
// produced for.
func defaultHost(ctx context.Context, logger *slog.Logger, crateDir string) (string, error) {
	stdout, stderr, err := RunTool(ctx, logger, crateDir, nil, "rustup", "show")
	if err != nil {
		return "", fmt.Errorf("rustup show: %w (%s)", err, firstLine(stderr))
	}
	return parseDefaultHost(string(stdout))
}

func parseDefaultHost(output string) (string, error) {
	for _, l := range Lines(output) {
		if rest, ok := strings.CutPrefix(l, "Default host:"); ok {
			return strings.TrimSpace(rest), nil
		}
	}
	return "", errors.New("rustup show: no default host reported")
}

// listTests names the crate's tests by parsing the cargo test harness
// listing. A failing harness still yields whatever it printed.
func listTests(ctx context.Context, logger *slog.Logger, crateDir string, features []string) ([]string, error) {
	args := []string{"test"}
	if len(features) > 0 {
		args = append(args, "--features", strings.Join(features, ","))
	}
	args = append(args, "--", "--list")
	env := []string{"RUSTFLAGS=" + MergeRustFlags("--cfg=verify")}
	stdout, _, err := RunTool(ctx, logger, crateDir, env, "cargo", args...)
	var exit *exec.ExitError
	if err != nil && !errors.As(err, &exit) {
		return nil, fmt.Errorf("cargo test --list: %w", err)
	}
	var tests []string
	for _, l := range Lines(string(stdout)) {
		if m := testListLine.FindStringSubmatch(l); m != nil {
			tests = append(tests, m[1])
		}
	}
	return tests, nil
}

// filterTests keeps tests whose names contain any of the requested
// substrings. No filters keeps everything.
func filterTests(tests, filters []string) []string {
	if len(filters) == 0 {
		return tests
	}
	var kept []string
	for _, t := range tests {
		for _, f := range filters {
			if strings.Contains(t, f) {
				kept = append(kept, t)
				break
			}
		}
	}
	return kept
}

// cargoClean wipes previous build products. Failures only mean there
// was nothing to clean.
func cargoClean(ctx context.Context, logger *slog.Logger, crateDir string) {
	if _, _, err := RunTool(ctx, logger, crateDir, nil, "cargo", "clean"); err != nil {
		logger.Debug("cargo clean failed", "error", err)
	}
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
