// Package executor schedules a plan's entries across a bounded pool of
// workers, invoking a pluggable builder-client to do the actual building,
// tagging, and pushing, and draining to a clean stop on the first failure
// or cancellation.
package executor

import (
	"context"
	"io"
)

// BuildInput describes a single builder invocation: a tar stream
// containing the rendered Dockerfile plus any context files it needs.
type BuildInput struct {
	Context  io.Reader
	Tag      string
	Platform string
}

// Client is the builder-client contract every concrete builder (docker,
// buildx, podman, or a user-supplied custom command set) implements. It
// is the pluggable boundary between the executor's scheduling logic and
// whatever tool actually produces images.
type Client interface {
	// Build runs a single builder invocation and returns the digest of
	// the resulting image.
	Build(ctx context.Context, in BuildInput) (digest string, err error)
	Tag(ctx context.Context, src, dst string) error
	Push(ctx context.Context, image string) error
	Pull(ctx context.Context, image string) error
	Untag(ctx context.Context, image string) error
	Platform(ctx context.Context) (string, error)
}
