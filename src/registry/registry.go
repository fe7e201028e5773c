// Package registry provides a single client abstraction over container
// registries, backed by the OCI distribution HTTP API rather than any
// vendor-specific REST surface: the same client talks to Docker Hub,
// GHCR, GitLab, Quay, JFrog, Harbor, and Gitea without per-vendor code.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"

	"github.com/tplbuild/tplbuild/src/tplerr"
)

// ErrNotFound is returned by Probe (never Resolve) when the requested
// tag or platform manifest does not exist.
var ErrNotFound = errors.New("registry: reference not found")

// TagInfo describes a single tag returned by ListTags.
type TagInfo struct {
	Name   string
	Digest string
}

// Registry is the client boundary the rest of tplbuild talks to; it
// covers everything the planner, executor, and base-prune command need.
type Registry interface {
	// ResolveDigest fetches the manifest (or index) for repo:tag and
	// returns the digest of the platform-specific manifest.
	ResolveDigest(ctx context.Context, repo, tag, platform string) (string, error)

	// Probe behaves like ResolveDigest but returns ErrNotFound instead
	// of failing when the reference does not exist.
	Probe(ctx context.Context, repo, tag, platform string) (string, error)

	// PushMultiarch assembles an OCI image index over the given
	// per-platform manifest digests and pushes it under repo:tag,
	// returning the index's own digest.
	PushMultiarch(ctx context.Context, repo, tag string, perPlatformDigests map[string]string) (string, error)

	// ListTags enumerates every tag in a repository, used by base-prune
	// to find base-image tags no longer referenced by any tracked
	// build-data snapshot.
	ListTags(ctx context.Context, repo string) ([]TagInfo, error)

	// DeleteTag removes a single tag, used by base-prune. Not every
	// registry vendor permits deletion; a permission or not-implemented
	// response surfaces as a RegistryError with Kind "delete_unsupported".
	DeleteTag(ctx context.Context, repo, tag string) error
}

// TLSConfig customises certificate trust for one registry host.
type TLSConfig struct {
	Insecure bool
	CAFile   string
}

// Options configures a Client.
type Options struct {
	// Keychain resolves credentials for a registry host. Defaults to
	// authn.DefaultKeychain (docker/podman config file, then env).
	Keychain authn.Keychain
	// TLS is keyed by registry host (e.g. "ghcr.io"); a missing entry
	// uses the system default trust store over HTTPS.
	TLS map[string]TLSConfig
	// Retry controls the backoff applied to transient errors.
	Retry RetryPolicy
}

// Client is the go-containerregistry-backed Registry implementation.
type Client struct {
	keychain authn.Keychain
	tls      map[string]TLSConfig
	retry    RetryPolicy
}

// New constructs a registry Client from Options, filling defaults.
func New(opts Options) *Client {
	kc := opts.Keychain
	if kc == nil {
		kc = authn.DefaultKeychain
	}
	retry := opts.Retry
	if retry.Attempts == 0 {
		retry = DefaultRetryPolicy
	}
	return &Client{keychain: kc, tls: opts.TLS, retry: retry}
}

func (c *Client) options(ctx context.Context, repo name.Repository) []remote.Option {
	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(c.keychain),
	}
	tlsCfg, ok := c.tls[repo.RegistryStr()]
	if !ok {
		// A user config with no per-host TLS keys still wants its
		// ssl_context block applied everywhere it talks to a registry.
		tlsCfg, ok = c.tls["*"]
	}
	if ok {
		if rt := newTransport(tlsCfg); rt != nil {
			opts = append(opts, remote.WithTransport(rt))
		}
	}
	return opts
}

func parseTag(repo, tag string) (name.Tag, error) {
	ref := repo + ":" + tag
	t, err := name.NewTag(ref, name.WeakValidation)
	if err != nil {
		return name.Tag{}, &tplerr.RegistryError{Kind: "invalid_reference", Err: fmt.Errorf("%s: %w", ref, err)}
	}
	return t, nil
}

// ResolveDigest implements Registry.
func (c *Client) ResolveDigest(ctx context.Context, repo, tag, platform string) (string, error) {
	ref, err := parseTag(repo, tag)
	if err != nil {
		return "", err
	}

	var digest string
	err = withRetry(ctx, c.retry, func() error {
		desc, ferr := remote.Get(ref, c.options(ctx, ref.Context())...)
		if ferr != nil {
			return classifyErr(ferr)
		}
		d, ferr := selectPlatformDigest(ctx, ref, desc, platform, c.options(ctx, ref.Context()))
		if ferr != nil {
			return ferr
		}
		digest = d
		return nil
	})
	if err != nil {
		return "", err
	}
	return digest, nil
}

// Probe implements Registry.
func (c *Client) Probe(ctx context.Context, repo, tag, platform string) (string, error) {
	digest, err := c.ResolveDigest(ctx, repo, tag, platform)
	if err != nil {
		var rerr *tplerr.RegistryError
		if errors.As(err, &rerr) && rerr.Status == 404 {
			return "", ErrNotFound
		}
		return "", err
	}
	return digest, nil
}

// selectPlatformDigest resolves desc to a concrete manifest digest for
// platform, descending into an image index when necessary.
func selectPlatformDigest(ctx context.Context, ref name.Tag, desc *remote.Descriptor, platform string, opts []remote.Option) (string, error) {
	if !desc.MediaType.IsIndex() {
		return desc.Digest.String(), nil
	}

	idx, err := desc.ImageIndex()
	if err != nil {
		return "", &tplerr.RegistryError{Kind: "bad_index", Err: err}
	}
	manifest, err := idx.IndexManifest()
	if err != nil {
		return "", &tplerr.RegistryError{Kind: "bad_index", Err: err}
	}

	wantOS, wantArch, wantVariant := splitPlatform(platform)
	for _, m := range manifest.Manifests {
		if m.Platform == nil {
			continue
		}
		if m.Platform.OS == wantOS && m.Platform.Architecture == wantArch &&
			(wantVariant == "" || m.Platform.Variant == wantVariant) {
			return m.Digest.String(), nil
		}
	}
	return "", &tplerr.RegistryError{Kind: "platform_not_found", Err: fmt.Errorf("no manifest for platform %q in index %s", platform, ref)}
}

// PushMultiarch implements Registry.
func (c *Client) PushMultiarch(ctx context.Context, repo, tag string, perPlatformDigests map[string]string) (string, error) {
	targetRef, err := parseTag(repo, tag)
	if err != nil {
		return "", err
	}

	var adds []mutateIndexAdd
	for platform, digest := range perPlatformDigests {
		manifestRef, rerr := name.NewDigest(repo+"@"+digest, name.WeakValidation)
		if rerr != nil {
			return "", &tplerr.RegistryError{Kind: "invalid_reference", Err: rerr}
		}
		desc, rerr := remote.Get(manifestRef, c.options(ctx, targetRef.Context())...)
		if rerr != nil {
			return "", classifyErr(rerr)
		}
		img, rerr := desc.Image()
		if rerr != nil {
			return "", &tplerr.RegistryError{Kind: "bad_manifest", Err: rerr}
		}
		osName, archName, variant := splitPlatform(platform)
		adds = append(adds, mutateIndexAdd{img: img, platform: v1.Platform{OS: osName, Architecture: archName, Variant: variant}})
	}

	idx := buildIndex(adds)

	var pushErr error
	err = withRetry(ctx, c.retry, func() error {
		pushErr = remote.WriteIndex(targetRef, idx, c.options(ctx, targetRef.Context())...)
		return classifyErr(pushErr)
	})
	if err != nil {
		return "", err
	}

	digest, err := idx.Digest()
	if err != nil {
		return "", &tplerr.RegistryError{Kind: "bad_index", Err: err}
	}
	return digest.String(), nil
}

// ListTags implements Registry.
func (c *Client) ListTags(ctx context.Context, repo string) ([]TagInfo, error) {
	repoRef, err := name.NewRepository(repo, name.WeakValidation)
	if err != nil {
		return nil, &tplerr.RegistryError{Kind: "invalid_reference", Err: err}
	}

	var tags []string
	err = withRetry(ctx, c.retry, func() error {
		t, ferr := remote.List(repoRef, c.options(ctx, repoRef)...)
		if ferr != nil {
			return classifyErr(ferr)
		}
		tags = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]TagInfo, 0, len(tags))
	for _, t := range tags {
		out = append(out, TagInfo{Name: t})
	}
	return out, nil
}

// DeleteTag implements Registry.
func (c *Client) DeleteTag(ctx context.Context, repo, tag string) error {
	ref, err := parseTag(repo, tag)
	if err != nil {
		return err
	}
	return withRetry(ctx, c.retry, func() error {
		ferr := remote.Delete(ref, c.options(ctx, ref.Context())...)
		if ferr != nil {
			var terr *transport.Error
			if errors.As(ferr, &terr) && (terr.StatusCode == 405 || terr.StatusCode == 501) {
				return &tplerr.RegistryError{Kind: "delete_unsupported", Status: terr.StatusCode, Err: ferr}
			}
			return classifyErr(ferr)
		}
		return nil
	})
}

// splitPlatform parses "os/arch[/variant]" into its parts.
func splitPlatform(platform string) (os, arch, variant string) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(platform); i++ {
		if platform[i] == '/' {
			parts = append(parts, platform[start:i])
			start = i + 1
		}
	}
	parts = append(parts, platform[start:])
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return platform, "", ""
	}
}

// classifyErr wraps a go-containerregistry transport error into a
// RegistryError, marking it Transient when it is safe to retry.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	var terr *transport.Error
	if errors.As(err, &terr) {
		return &tplerr.RegistryError{
			Kind:      "transport",
			Status:    terr.StatusCode,
			Transient: isTransientStatus(terr.StatusCode),
			Err:       err,
		}
	}
	return &tplerr.RegistryError{Kind: "transport", Transient: true, Err: err}
}

func isTransientStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// DefaultRetryPolicy matches the network-retry budget: three attempts,
// exponential backoff from 0.5s capped at 8s, with jitter.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Base:     500 * time.Millisecond,
	Cap:      8 * time.Second,
}
