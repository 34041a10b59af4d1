package verify

import (
	"context"
	"regexp"
	"strings"
)

// Backend runs compiled verification jobs with an external tool and
// classifies the tool's findings.
type Backend interface {
	// Name identifies the backend on the command line.
	Name() string

	// Features lists the cargo features selecting the verifier shims
	// this backend understands.
	Features() []string

	// UsesBitcode reports whether jobs need a linked LLVM bitcode
	// file. A backend that drives cargo directly returns false and
	// receives a single job for the whole crate.
	UsesBitcode() bool

	// CheckInstalled reports whether the backend tool is runnable.
	CheckInstalled(ctx context.Context) error

	// Verify runs one job to completion. The returned error is for
	// tools that could not run at all; tool-reported failures are
	// expressed through the Report status.
	Verify(ctx context.Context, job Job) (Report, error)
}

var panickedAt = regexp.MustCompile(`panicked at '([^']*)'`)

// Expectation is a should_panic marker scanned from the harness
// output. Set distinguishes "expects some panic" from "expects none";
// Message narrows the expectation to panics containing it.
type Expectation struct {
	Set     bool
	Message string
}

// ScanExpectation extracts the last VERIFIER_EXPECT marker from tool
// output lines.
func ScanExpectation(lines []string) Expectation {
	var e Expectation
	for _, l := range lines {
		if l == "VERIFIER_EXPECT: should_panic" {
			e = Expectation{Set: true}
			continue
		}
		rest, ok := strings.CutPrefix(l, `VERIFIER_EXPECT: should_panic(expected = "`)
		if !ok {
			continue
		}
		if msg, ok := strings.CutSuffix(rest, `")`); ok {
			e = Expectation{Set: true, Message: msg}
		}
	}
	return e
}

// MatchesPanic reports whether the line is a panic message satisfying
// the expectation.
func (e Expectation) MatchesPanic(line string) bool {
	if !e.Set {
		return false
	}
	m := panickedAt.FindStringSubmatch(line)
	return m != nil && strings.Contains(m[1], e.Message)
}

// SplitFlags breaks a comma separated flag string into arguments.
// An empty string yields none.
func SplitFlags(flags string) []string {
	if flags == "" {
		return nil
	}
	return strings.Split(flags, ",")
}
