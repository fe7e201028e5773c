// Package graph builds the image-node DAG from a parsed Dockerfile: a
// tree-structured representation of the concrete build steps a rendered
// Dockerfile implies, ready for content hashing and planning.
package graph

import "github.com/tplbuild/tplbuild/src/dockerfile"

// Node is any vertex in the image DAG. The concrete types below form a
// closed set of variants, mirroring the tagged union in the data model:
// SourceImage, ContextImage, BuildStep, BaseImage, StageImage.
type Node interface {
	Kind() string
}

// SourceImage is an externally provided image: pulled from a registry,
// never built locally. Digest is populated by source-lock resolution
// before hashing can proceed.
type SourceImage struct {
	Repo     string
	Tag      string
	Platform string
	Digest   string
}

func (*SourceImage) Kind() string { return "source" }

// ContextImage is a virtual image standing for a build context's
// filtered file tree, identified by the tree's content hash.
type ContextImage struct {
	ContextName string
	FilesHash   string
}

func (*ContextImage) Kind() string { return "ctx" }

// BuildStep is an interior node: one Dockerfile instruction applied to
// its parent node. Context is non-nil only for COPY/ADD instructions
// that read from the local build context rather than another image.
// ExtraDeps holds any additional nodes referenced by a COPY --from=.
type BuildStep struct {
	Parent      Node
	Instruction dockerfile.Instruction
	Context     *ContextImage
	ExtraDeps   []Node
	Platform    string
}

func (*BuildStep) Kind() string { return "step" }

// BaseImage wraps a stage's terminal node when the stage is classified
// base: it is materialised and cached in the base-image repository,
// keyed by content hash.
type BaseImage struct {
	Parent         Node
	StageName      string
	Platform       string
	Profile        string
	ContentHash    string
	ResolvedDigest string
}

func (*BaseImage) Kind() string { return "base" }

// StageImage wraps a stage's terminal node when the stage is publishable
// (neither base nor anon). It is never content-hashed for caching
// purposes; it is always rebuilt from its parent chain.
//
// ImageTags and PushTags come from the stage's image_names and push_names
// config respectively (or the project-wide stage_image_name/stage_push_name
// fallback). Both get built and tagged locally; only PushTags is ever
// pushed to a registry, and only when the build is publishing.
type StageImage struct {
	Parent      Node
	StageName   string
	ImageTags   []string
	PushTags    []string
	Platform    string
	Profile     string
	ContentHash string
}

func (*StageImage) Kind() string { return "stage" }
