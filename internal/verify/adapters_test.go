package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanExpectation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		lines []string
		want  Expectation
	}{
		{
			name:  "no marker",
			lines: []string{"KLEE: done: completed paths = 1"},
			want:  Expectation{},
		},
		{
			name:  "bare should_panic",
			lines: []string{"VERIFIER_EXPECT: should_panic"},
			want:  Expectation{Set: true},
		},
		{
			name:  "with expected message",
			lines: []string{`VERIFIER_EXPECT: should_panic(expected = "index out of range")`},
			want:  Expectation{Set: true, Message: "index out of range"},
		},
		{
			name: "last marker wins",
			lines: []string{
				"VERIFIER_EXPECT: should_panic",
				`VERIFIER_EXPECT: should_panic(expected = "boom")`,
			},
			want: Expectation{Set: true, Message: "boom"},
		},
		{
			name:  "unterminated marker ignored",
			lines: []string{`VERIFIER_EXPECT: should_panic(expected = "boom`},
			want:  Expectation{},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ScanExpectation(tc.lines))
		})
	}
}

func TestExpectationMatchesPanic(t *testing.T) {
	t.Parallel()

	unset := Expectation{}
	if unset.MatchesPanic("thread 'main' panicked at 'boom', src/main.rs:3:5") {
		t.Fatal("unset expectation must not match")
	}

	any := Expectation{Set: true}
	if !any.MatchesPanic("thread 'main' panicked at 'boom', src/main.rs:3:5") {
		t.Fatal("bare expectation should match any panic")
	}
	if any.MatchesPanic("KLEE: done: completed paths = 1") {
		t.Fatal("non-panic line must not match")
	}

	narrowed := Expectation{Set: true, Message: "out of range"}
	if !narrowed.MatchesPanic("thread panicked at 'index out of range: 7', lib.rs:1") {
		t.Fatal("message substring should match")
	}
	if narrowed.MatchesPanic("thread panicked at 'boom', lib.rs:1") {
		t.Fatal("mismatched message must not match")
	}
}

func TestSplitFlags(t *testing.T) {
	t.Parallel()

	if got := SplitFlags(""); got != nil {
		t.Fatalf("SplitFlags(\"\") = %v, want nil", got)
	}
	assert.Equal(t, []string{"--max-time=60s"}, SplitFlags("--max-time=60s"))
	assert.Equal(t, []string{"--max-time=60s", "--search=dfs"}, SplitFlags("--max-time=60s,--search=dfs"))
}
