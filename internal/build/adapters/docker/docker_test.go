package docker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/proofbench/proofbench/internal/build"
)

func TestBuildArgvIsDeterministic(t *testing.T) {
	t.Parallel()

	req := build.BuildRequest{
		Ref:        build.ImageRef{Name: "proofbench_base", Tag: "latest"},
		Dockerfile: "docker/base/Dockerfile",
		Context:    "docker/base",
		Args: build.Arguments{
			"Z3_VERSION":     "4.8.10",
			"UBUNTU_VERSION": "20.04",
			"USER_UID":       "1000",
		},
		CacheFrom: []build.ImageRef{{Name: "proofbench_base", Tag: "latest"}},
	}

	want := []string{
		"build",
		"--file", "docker/base/Dockerfile",
		"--tag", "proofbench_base:latest",
		"--build-arg", "UBUNTU_VERSION=20.04",
		"--build-arg", "USER_UID=1000",
		"--build-arg", "Z3_VERSION=4.8.10",
		"--cache-from", "proofbench_base:latest",
		"docker/base",
	}
	assert.Equal(t, want, buildArgv(req))
	assert.Equal(t, want, buildArgv(req), "repeated assembly must not reorder arguments")
}

func TestBuildArgvDefaultsContext(t *testing.T) {
	t.Parallel()

	req := build.BuildRequest{
		Ref:        build.ImageRef{Name: "img", Tag: "latest"},
		Dockerfile: "Dockerfile",
	}

	argv := buildArgv(req)
	assert.Equal(t, ".", argv[len(argv)-1])
}

func TestImageNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stderr string
		want   bool
	}{
		{
			name:   "docker missing image",
			stderr: "Error: No such image: proofbench_base:latest",
			want:   true,
		},
		{
			name:   "docker missing object",
			stderr: "Error: No such object: proofbench_base",
			want:   true,
		},
		{
			name:   "podman missing image",
			stderr: `Error: proofbench_base:latest: image not known`,
			want:   true,
		},
		{
			name:   "daemon unreachable",
			stderr: "Cannot connect to the Docker daemon at unix:///var/run/docker.sock",
			want:   false,
		},
		{
			name:   "permission denied",
			stderr: "permission denied while trying to connect to the Docker daemon socket",
			want:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, imageNotFound(tt.stderr))
		})
	}
}
