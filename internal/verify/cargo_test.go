package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadataPicksRootPackage(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"packages": [
			{"id": "dep 1.0.0", "name": "dep"},
			{"id": "mycrate 0.1.0", "name": "my-crate"}
		],
		"resolve": {"root": "mycrate 0.1.0"},
		"target_directory": "/work/mycrate/target"
	}`)
	name, targetDir, err := parseMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "my-crate", name)
	assert.Equal(t, "/work/mycrate/target", targetDir)
}

func TestParseMetadataFallsBackToFirstPackage(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"packages": [{"id": "solo 0.1.0", "name": "solo"}],
		"resolve": null,
		"target_directory": "/tmp/target"
	}`)
	name, _, err := parseMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, "solo", name)
}

func TestParseMetadataRejectsEmptyWorkspace(t *testing.T) {
	t.Parallel()

	_, _, err := parseMetadata([]byte(`{"packages": [], "target_directory": "/tmp"}`))
	assert.Error(t, err)

	_, _, err = parseMetadata([]byte(`{"packages": [{"id": "a", "name": "a"}]}`))
	assert.Error(t, err, "missing target directory must be rejected")
}

func TestSanitizePackage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "my_crate", sanitizePackage("my-crate"))
	assert.Equal(t, "plain_name_09", sanitizePackage("plain_name_09"))
	assert.Equal(t, "odd__name", sanitizePackage("odd.!name"))
}

func TestParseDefaultHost(t *testing.T) {
	t.Parallel()

	out := "Default host: x86_64-unknown-linux-gnu\nrustup home:  /root/.rustup\n\nnightly-2021-03-15 (default)\n"
	host, err := parseDefaultHost(out)
	require.NoError(t, err)
	assert.Equal(t, "x86_64-unknown-linux-gnu", host)

	_, err = parseDefaultHost("no toolchains installed\n")
	assert.Error(t, err)
}

func TestTestListLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		line string
		want string
	}{
		{"tests::add_one: test", "tests::add_one"},
		{"overflow_check: test  ", "overflow_check"},
		{"running 3 tests", ""},
		{"tests::bench_it: benchmark", ""},
		{"", ""},
	}
	for _, tc := range cases {
		m := testListLine.FindStringSubmatch(tc.line)
		if tc.want == "" {
			assert.Nil(t, m, "line %q must not match", tc.line)
			continue
		}
		require.NotNil(t, m, "line %q should match", tc.line)
		assert.Equal(t, tc.want, m[1])
	}
}

func TestFilterTests(t *testing.T) {
	t.Parallel()

	tests := []string{"tests::add", "tests::mul", "props::shrink"}

	assert.Equal(t, tests, filterTests(tests, nil))
	assert.Equal(t, []string{"tests::add", "tests::mul"}, filterTests(tests, []string{"tests::"}))
	assert.Equal(t, []string{"tests::add", "props::shrink"}, filterTests(tests, []string{"add", "shrink"}))
	assert.Nil(t, filterTests(tests, []string{"missing"}))
}
