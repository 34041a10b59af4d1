package proptest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/proofbench/proofbench/internal/verify"
)

func TestCargoArgs(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	job := verify.Job{CrateDir: "/work/crate", Name: "mypkg"}

	assert.Equal(t, []string{"test", "--features", "verifier-seahorn"}, b.cargoArgs(job))
}

func TestCargoArgsTestSelection(t *testing.T) {
	t.Parallel()

	b := &Backend{Options: verify.Options{Tests: true, TestNames: []string{"shrink", "sort"}, Verbosity: 2}}

	want := []string{
		"test", "-v", "-v",
		"--features", "verifier-seahorn",
		"--tests",
		"--test", "shrink",
		"--test", "sort",
	}
	assert.Equal(t, want, b.cargoArgs(verify.Job{}))
}

func TestCargoArgsReplayAndArgs(t *testing.T) {
	t.Parallel()

	replay := &Backend{Options: verify.Options{Replay: 1}}
	assert.Equal(t, []string{"test", "--features", "verifier-seahorn", "--", "--nocapture"},
		replay.cargoArgs(verify.Job{}))

	plain := &Backend{}
	assert.Equal(t, []string{"test", "--features", "verifier-seahorn", "--", "8", "12"},
		plain.cargoArgs(verify.Job{Args: []string{"8", "12"}}))
}

func TestBackendTraits(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	assert.Equal(t, verify.BackendProptest, b.Name())
	assert.False(t, b.UsesBitcode())
	assert.Equal(t, []string{"verifier-seahorn"}, b.Features())
}
