package verify

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// RunTool executes an external tool and captures both output streams.
// A non-nil error alongside captured output means the tool ran but
// exited non-zero; callers that classify tool output inspect
// exec.ExitError themselves. Extra environment entries are appended to
// the ambient environment.
func RunTool(ctx context.Context, logger *slog.Logger, dir string, env []string, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if logger != nil {
		logger.Debug("running tool", "dir", dir, "command", name+" "+strings.Join(args, " "))
	}
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Lines splits captured tool output the way terminals display it:
// on newlines, dropping a trailing carriage return and the empty tail
// after a final newline.
func Lines(output string) []string {
	if output == "" {
		return nil
	}
	lines := strings.Split(output, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// LogLines records captured tool output one line at a time at debug
// level.
func LogLines(logger *slog.Logger, stream string, output string) {
	for _, l := range Lines(output) {
		logger.Debug(stream, "line", l)
	}
}

// DecodeLatin1 maps raw tool output bytes one-to-one onto runes.
// KLEE emits Latin-1, which would otherwise mangle into invalid UTF-8.
func DecodeLatin1(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// MergeRustFlags combines the caller's RUSTFLAGS environment value
// with extra flags, ambient flags first.
func MergeRustFlags(extra string) string {
	if env := os.Getenv("RUSTFLAGS"); env != "" {
		return env + " " + extra
	}
	return extra
}
