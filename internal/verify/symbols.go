package verify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// countSymbols counts how many of the named functions the bitcode file
// defines in its text section. Files llvm-nm cannot read count as
// defining none.
func countSymbols(ctx context.Context, logger *slog.Logger, bcFile string, names []string) (int, error) {
	stdout, _, err := RunTool(ctx, logger, "", nil, "llvm-nm", "--defined-only", bcFile)
	var exit *exec.ExitError
	if err != nil && !errors.As(err, &exit) {
		return 0, fmt.Errorf("llvm-nm: %w", err)
	}
	count := 0
	for _, l := range Lines(string(stdout)) {
		fields := strings.Split(l, " ")
		if len(fields) != 3 || fields[1] != "T" {
			continue
		}
		for _, n := range names {
			if fields[2] == n {
				count++
				break
			}
		}
	}
	logger.Debug("counted entry symbols", "file", bcFile, "count", count)
	return count, nil
}

// lookupSymbols finds the mangled names of the given test paths in a
// bitcode file. The compiler appends a hash we cannot predict, so the
// defined symbols are demangled and matched instead of mangling the
// names directly. Returns ErrMissingSymbols when any name has no
// matching symbol.
func lookupSymbols(ctx context.Context, logger *slog.Logger, bcFile string, names []string) ([]testCase, error) {
	logger.Debug("looking up entry symbols", "file", bcFile, "names", names)

	stdout, stderr, err := RunTool(ctx, logger, "", nil, "llvm-nm", "--defined-only", bcFile)
	if err != nil {
		LogLines(logger, "llvm-nm stderr", string(stderr))
		return nil, fmt.Errorf("llvm-nm: %w", err)
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var found []testCase
	for _, l := range Lines(string(stdout)) {
		fields := strings.Split(l, " ")
		if len(fields) != 3 || strings.ToLower(fields[1]) != "t" {
			continue
		}
		symbol := fields[2]
		// Mach-O object files show an extra leading underscore.
		if strings.HasPrefix(symbol, "__ZN") {
			symbol = symbol[1:]
		} else if !strings.HasPrefix(symbol, "_ZN") {
			continue
		}
		demangled, ok := demangleLegacy(symbol)
		if !ok {
			continue
		}
		// The leading path element is the crate name; test listings
		// name tests without it.
		parts := strings.Split(demangled, "::")
		name := strings.Join(parts[1:], "::")
		if wanted[name] {
			found = append(found, testCase{Name: name, Entry: symbol})
		}
	}
	logger.Debug("matched entry symbols", "found", len(found))

	if missing := len(names) - len(found); missing > 0 {
		return nil, fmt.Errorf("%w: %d of %d not defined in %s", ErrMissingSymbols, missing, len(names), bcFile)
	}
	return found, nil
}
