package tplbuild

import (
	"context"
	"errors"
	"strings"

	"github.com/tplbuild/tplbuild/src/graph"
	"github.com/tplbuild/tplbuild/src/planner"
	"github.com/tplbuild/tplbuild/src/registry"
)

// resolveSourceDigests walks every reachable node in g and resolves each
// SourceImage's digest, either from the state store's source lock or, on
// a miss or when force is set, from the registry. Resolved digests are
// written back to the state store so a subsequent build reuses them
// without another registry round trip.
func (p *Pipeline) resolveSourceDigests(ctx context.Context, g *graph.Graph, force bool) error {
	for n := range g.Reachable() {
		src, ok := n.(*graph.SourceImage)
		if !ok || src.Digest != "" {
			continue
		}
		if strings.Contains(src.Repo, "@") {
			// splitRepoTag left an already-pinned "repo@digest" reference
			// whole; the digest is the part after "@".
			if idx := strings.Index(src.Repo, "@"); idx != -1 {
				src.Digest = src.Repo[idx+1:]
			}
			continue
		}

		key := sourceLockKey(src.Repo, src.Tag, src.Platform)
		if !force {
			if d, ok := p.Store.SourceDigest(key); ok {
				src.Digest = d
				continue
			}
		}

		digest, err := p.Reg.ResolveDigest(ctx, src.Repo, src.Tag, src.Platform)
		if err != nil {
			return err
		}
		src.Digest = digest
		p.Store.SetSourceDigest(key, digest)
	}
	return nil
}

func sourceLockKey(repo, tag, platform string) string {
	return repo + ":" + tag + "@" + platform
}

// LookupSourceDigest returns the state store's locked digest for a
// source image, without touching the registry. Used by source-lookup to
// report what a build would currently resolve without a network call.
func (p *Pipeline) LookupSourceDigest(repo, tag, platform string) (string, bool) {
	return p.Store.SourceDigest(sourceLockKey(repo, tag, platform))
}

// UpdateSourceDigest force-resolves repo:tag's digest against the
// registry and writes it into the state store, returning the digest.
// Used by source-update to refresh a single source lock without a full
// build.
func (p *Pipeline) UpdateSourceDigest(ctx context.Context, repo, tag, platform string) (string, error) {
	digest, err := p.Reg.ResolveDigest(ctx, repo, tag, platform)
	if err != nil {
		return "", err
	}
	p.Store.SetSourceDigest(sourceLockKey(repo, tag, platform), digest)
	return digest, nil
}

// resolveBaseDigests hashes every reachable BaseImage node and, unless
// already resolved by the state store, probes the base image repository
// for a manifest matching its content hash. A cache miss leaves
// ResolvedDigest empty so the planner schedules a build for that node.
func (p *Pipeline) resolveBaseDigests(ctx context.Context, g *graph.Graph, hasher *graph.Hasher) error {
	for n := range g.Reachable() {
		b, ok := n.(*graph.BaseImage)
		if !ok {
			continue
		}
		if _, err := hasher.Hash(b); err != nil {
			return err
		}
		if d, ok := p.Store.BaseImageDigest(b.ContentHash, b.Platform); ok {
			b.ResolvedDigest = d
			continue
		}
		if p.Config.BaseImageRepo == "" {
			continue
		}
		tag := b.ContentHash
		if b.Platform != "" {
			tag += "-" + planner.SanitizeTag(b.Platform)
		}
		digest, err := p.Reg.Probe(ctx, p.Config.BaseImageRepo, tag, b.Platform)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				continue
			}
			return err
		}
		b.ResolvedDigest = digest
		p.Store.SetBaseImageDigest(b.ContentHash, b.Platform, digest)
	}
	return nil
}

// persistDigests records every digest a completed run produced for a
// BaseImage node into the state store, so a rebuild of the same content
// hash and platform is a cache hit next time.
func (p *Pipeline) persistDigests(digests map[graph.Node]string) {
	for n, digest := range digests {
		if b, ok := n.(*graph.BaseImage); ok {
			p.Store.SetBaseImageDigest(b.ContentHash, b.Platform, digest)
		}
	}
}
