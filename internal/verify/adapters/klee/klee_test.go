package klee

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/proofbench/proofbench/internal/verify"
)

func testBackend() *Backend {
	return &Backend{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestKleeArgs(t *testing.T) {
	t.Parallel()

	job := verify.Job{
		CrateDir: "/work/crate",
		Name:     "main",
		Entry:    "main",
		Bitcode:  "/work/crate/linked.bc",
		Flags:    []string{"--max-time=60s"},
		Args:     []string{"--seed", "7"},
	}
	want := []string{
		"--exit-on-error",
		"--entry-point", "main",
		"--libc=klee",
		"--silent-klee-assume",
		"--output-dir", "/work/crate/kleeout-main",
		"--disable-verify",
		"--max-time=60s",
		"/work/crate/linked.bc",
		"--seed", "7",
	}
	assert.Equal(t, want, kleeArgs(job, "/work/crate/kleeout-main"))
}

func TestClassifyFirstMatchWins(t *testing.T) {
	t.Parallel()

	b := testBackend()
	logger := b.logger()

	cases := []struct {
		name  string
		lines []string
		want  verify.Status
	}{
		{
			name:  "clean run",
			lines: []string{"KLEE: output directory is \"kleeout-main\"", "KLEE: done: completed paths = 1"},
			want:  verify.StatusVerified,
		},
		{
			name:  "halt timer",
			lines: []string{"KLEE: HaltTimer invoked", "KLEE: done: completed paths = 9"},
			want:  verify.StatusTimeout,
		},
		{
			name:  "dumping states",
			lines: []string{"KLEE: halting execution, dumping remaining states"},
			want:  verify.StatusTimeout,
		},
		{
			name:  "link failure",
			lines: []string{"KLEE: ERROR: Could not link /lib/libkleeRuntest"},
			want:  verify.StatusUnknown,
		},
		{
			name:  "missing entry symbol",
			lines: []string{"KLEE: ERROR: Unable to load symbol(main) while initializing globals"},
			want:  verify.StatusUnknown,
		},
		{
			name:  "unreachable reached",
			lines: []string{"KLEE: ERROR: lib.rs:4: reached \"unreachable\" instruction"},
			want:  verify.StatusReachable,
		},
		{
			name:  "overflow error",
			lines: []string{"KLEE: ERROR: lib.rs:9: overflow on addition"},
			want:  verify.StatusOverflow,
		},
		{
			name:  "generic error",
			lines: []string{"KLEE: ERROR: lib.rs:2: memory error: out of bound pointer"},
			want:  verify.StatusError,
		},
		{
			name:  "assertion failure from program",
			lines: []string{"thread 'main' panicked at 'assertion failed: x < 3', src/main.rs:4"},
			want:  verify.StatusError,
		},
		{
			name:  "overflow panic from program",
			lines: []string{"thread 'main' panicked at 'attempt to add with overflow', src/main.rs:4"},
			want:  verify.StatusOverflow,
		},
		{
			name:  "backtrace hint",
			lines: []string{"note: run with `RUST_BACKTRACE=1` environment variable to display a backtrace"},
			want:  verify.StatusError,
		},
		{
			name:  "no verdict",
			lines: []string{"warming up"},
			want:  verify.StatusUnknown,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := b.classify(logger, tc.lines, verify.Expectation{}, "main")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyHonorsExpectation(t *testing.T) {
	t.Parallel()

	b := testBackend()
	logger := b.logger()

	lines := []string{
		"VERIFIER_EXPECT: should_panic(expected = \"out of range\")",
		"thread 'main' panicked at 'index out of range: 12', src/lib.rs:7",
		"KLEE: done: completed paths = 3",
	}
	expect := verify.ScanExpectation(lines)
	assert.Equal(t, verify.StatusVerified, b.classify(logger, lines, expect, "main"),
		"expected panic should verify")

	clean := []string{
		"VERIFIER_EXPECT: should_panic",
		"KLEE: done: completed paths = 1",
	}
	expect = verify.ScanExpectation(clean)
	assert.Equal(t, verify.StatusError, b.classify(logger, clean, expect, "main"),
		"clean exit with a pending expectation is a failure")
}

func TestScanStats(t *testing.T) {
	t.Parallel()

	lines := []string{
		"KLEE: done: total instructions = 3314",
		"KLEE: done: completed paths = 33",
		"KLEE: done: generated tests = 5",
		"KLEE: output directory is \"kleeout-main\"",
	}
	stats := scanStats(lines)
	assert.Equal(t, map[string]int{
		"total instructions": 3314,
		"completed paths":    33,
		"generated tests":    5,
	}, stats)
}

func TestImportanceThresholds(t *testing.T) {
	t.Parallel()

	none := verify.Expectation{}

	assert.Equal(t, -1, importance("KLEE: ERROR: Could not link archive", none))
	assert.Equal(t, 1, importance("panicked at 'assertion failed: a == b'", none))
	assert.Equal(t, 2, importance("KLEE: ERROR: main.rs:3: memory error", none))
	assert.Equal(t, 3, importance("program printed this", none))
	assert.Equal(t, 4, importance("KLEE: WARNING: undefined reference", none))
	assert.Equal(t, 5, importance("KLEE: done: completed paths = 1", none))
	assert.Equal(t, 0, importance("KLEE: something new", none))
}

func TestKtestForFailure(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "kleeout-main/test000001.ktest", ktestForFailure("kleeout-main/test000001.abort.err"))
	assert.Equal(t, "kleeout-main/test000002.ktest", ktestForFailure("kleeout-main/test000002.ptr.err"))
	assert.Equal(t, "out/test1.ktest", ktestForFailure("out/test1.err"))
}
