package build

import "context"

// Backend abstracts the container engine used to build, inspect, and tag
// images. Implementations are expected to keep images in a local store
// addressable by name and tag.
type Backend interface {
	// Has reports whether ref exists in the backend's image store.
	Has(ctx context.Context, ref ImageRef) (bool, error)
	// Build produces the image described by req and stores it under req.Ref.
	Build(ctx context.Context, req BuildRequest) error
	// Tag records target as an additional name for ref.
	Tag(ctx context.Context, ref, target ImageRef) error
}

// BuildRequest carries everything a backend needs for one image build.
type BuildRequest struct {
	Ref        ImageRef
	Dockerfile string
	Context    string
	Args       Arguments

	// CacheFrom lists images whose layers may satisfy cache lookups during
	// the build.
	CacheFrom []ImageRef
}
