package graph

import (
	"fmt"

	"github.com/tplbuild/tplbuild/src/hashing"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

// Hasher computes and memoizes content hashes over an image-node DAG.
// Memoization keys on node identity (pointer equality), so a node
// reached through multiple paths is hashed exactly once.
type Hasher struct {
	Salt string
	memo map[Node]string
}

// NewHasher returns a Hasher that mixes salt into every node hash it
// computes. Changing salt invalidates every previously computed hash.
func NewHasher(salt string) *Hasher {
	return &Hasher{Salt: salt, memo: map[Node]string{}}
}

// Hash computes n's content hash, recursing into its dependencies.
// StageImage nodes are never cached and return an error: callers that
// need a stable identifier for a StageImage should hash its parent.
func (h *Hasher) Hash(n Node) (string, error) {
	if v, ok := h.memo[n]; ok {
		return v, nil
	}

	var out string
	switch t := n.(type) {
	case *SourceImage:
		if t.Digest == "" {
			return "", &tplerr.GraphError{
				Kind: "unresolved_source",
				Msg:  fmt.Sprintf("source image %s:%s has no resolved digest", t.Repo, t.Tag),
			}
		}
		out = hashing.Node(h.Salt, "source", []string{t.Repo, t.Tag, t.Platform, t.Digest})

	case *ContextImage:
		out = hashing.Node(h.Salt, "ctx", []string{t.ContextName, t.FilesHash})

	case *BuildStep:
		parentHash, err := h.Hash(t.Parent)
		if err != nil {
			return "", err
		}
		deps := []string{parentHash}
		if t.Context != nil {
			ctxHash, err := h.Hash(t.Context)
			if err != nil {
				return "", err
			}
			deps = append(deps, ctxHash)
		}
		for _, d := range t.ExtraDeps {
			dh, err := h.Hash(d)
			if err != nil {
				return "", err
			}
			deps = append(deps, dh)
		}
		local := []string{t.Instruction.Canonical(), t.Platform}
		out = hashing.Node(h.Salt, "step", local, deps...)

	case *BaseImage:
		parentHash, err := h.Hash(t.Parent)
		if err != nil {
			return "", err
		}
		local := []string{t.StageName, t.Platform, t.Profile}
		out = hashing.Node(h.Salt, "base", local, parentHash)
		t.ContentHash = out

	case *StageImage:
		return "", fmt.Errorf("stage image %q is published, not cached, and has no content hash", t.StageName)

	default:
		return "", fmt.Errorf("graph: unknown node type %T", n)
	}

	h.memo[n] = out
	return out, nil
}
