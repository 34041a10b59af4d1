package seahorn

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

func TestSeaArgs(t *testing.T) {
	t.Parallel()

	job := verify.Job{
		CrateDir: "/work/crate",
		Name:     "main",
		Entry:    "_ZN7mycrate4main17h00E",
		Bitcode:  "/work/crate/linked.patch.bc",
		Flags:    []string{"--horn-bmc-engine=mono"},
	}
	args := seaArgs(job, "/work/crate/seaout-main")

	assert.Equal(t, "bpf", args[0])
	assert.Contains(t, args, "--bmc=opsem")
	assert.Contains(t, args, "--temp-dir=/work/crate/seaout-main")
	assert.Contains(t, args, "--entry=_ZN7mycrate4main17h00E")
	assert.Contains(t, args, "--horn-bmc-engine=mono")
	assert.Equal(t, "/work/crate/linked.patch.bc", args[len(args)-1], "bitcode file comes last")
}

func TestSeaArgsDoesNotMutateBase(t *testing.T) {
	t.Parallel()

	before := len(baseArgs)
	_ = seaArgs(verify.Job{Entry: "main", Bitcode: "a.bc"}, "seaout-main")
	_ = seaArgs(verify.Job{Entry: "main", Bitcode: "b.bc", Flags: []string{"-x"}}, "seaout-main")
	assert.Len(t, baseArgs, before)
	assert.Equal(t, "--keep-temps", baseArgs[len(baseArgs)-1])
}

func TestClassifyVerdicts(t *testing.T) {
	t.Parallel()

	b := testBackend()
	logger := b.logger()

	cases := []struct {
		name   string
		lines  []string
		expect verify.Expectation
		want   verify.Status
	}{
		{
			name:  "unsat proves the program",
			lines: []string{"Warning: Externalizing function: malloc", "unsat"},
			want:  verify.StatusVerified,
		},
		{
			name:  "sat finds a counterexample",
			lines: []string{"sat"},
			want:  verify.StatusError,
		},
		{
			name:   "unsat with pending expectation",
			lines:  []string{"unsat"},
			expect: verify.Expectation{Set: true},
			want:   verify.StatusError,
		},
		{
			name:   "expected panic",
			lines:  []string{"thread 'main' panicked at 'boom', src/main.rs:2", "sat"},
			expect: verify.Expectation{Set: true, Message: "boom"},
			want:   verify.StatusVerified,
		},
		{
			name:  "marker line is not a verdict",
			lines: []string{"VERIFIER_EXPECT: should_panic", "unsat"},
			want:  verify.StatusVerified,
		},
		{
			name:  "no verdict",
			lines: []string{"loading bitcode"},
			want:  verify.StatusUnknown,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := b.classify(logger, tc.lines, tc.expect, "main")
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestImportance(t *testing.T) {
	t.Parallel()

	none := verify.Expectation{}

	assert.Equal(t, 1, importance("sat", none))
	assert.Equal(t, 5, importance("unsat", none))
	assert.Equal(t, 4, importance("Warning: Externalizing function: free", none))
	assert.Equal(t, 0, importance("Warning: something new", none))
	assert.Equal(t, 4, importance("VERIFIER_EXPECT: should_panic", none))
	assert.Equal(t, 3, importance("program output", none))
}
