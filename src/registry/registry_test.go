package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/tplbuild/tplbuild/src/tplerr"
)

func TestSplitPlatform(t *testing.T) {
	cases := []struct {
		in                          string
		os, arch, variant, wantVar string
	}{
		{"linux/amd64", "linux", "amd64", "", ""},
		{"linux/arm/v7", "linux", "arm", "v7", "v7"},
	}
	for _, c := range cases {
		gotOS, gotArch, gotVariant := splitPlatform(c.in)
		if gotOS != c.os || gotArch != c.arch || gotVariant != c.wantVar {
			t.Errorf("splitPlatform(%q) = (%q,%q,%q), want (%q,%q,%q)", c.in, gotOS, gotArch, gotVariant, c.os, c.arch, c.wantVar)
		}
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), RetryPolicy{Attempts: 3, Base: time.Millisecond, Cap: 4 * time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return &tplerr.RegistryError{Kind: "transport", Transient: true, Err: errors.New("boom")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetryStopsOnNonTransientError(t *testing.T) {
	attempts := 0
	permanent := &tplerr.RegistryError{Kind: "not_found", Status: 404, Transient: false, Err: errors.New("nope")}
	err := withRetry(context.Background(), RetryPolicy{Attempts: 5, Base: time.Millisecond, Cap: time.Millisecond}, func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) && err != permanent {
		t.Fatalf("expected the permanent error to surface unchanged, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly one attempt for a non-transient error, got %d", attempts)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, RetryPolicy{Attempts: 3, Base: time.Millisecond, Cap: time.Millisecond}, func() error {
		t.Fatalf("fn should not be called once context is already cancelled")
		return nil
	})
	var cerr *tplerr.Cancelled
	if !errors.As(err, &cerr) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestStaticKeychainResolvesConfiguredHost(t *testing.T) {
	kc := &staticKeychain{byHost: map[string]AuthEntry{
		"registry.example.com": {Username: "u", Password: "p"},
	}}
	auth, err := kc.Resolve(fakeResource{"registry.example.com"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	cfg, err := auth.Authorization()
	if err != nil {
		t.Fatalf("Authorization: %v", err)
	}
	if cfg.Username != "u" || cfg.Password != "p" {
		t.Fatalf("unexpected auth config: %+v", cfg)
	}
}

func TestStaticKeychainAnonymousForUnknownHost(t *testing.T) {
	kc := &staticKeychain{byHost: map[string]AuthEntry{}}
	auth, err := kc.Resolve(fakeResource{"other.example.com"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if auth != authn.Anonymous {
		t.Fatalf("expected anonymous auth for unconfigured host")
	}
}

type fakeResource struct{ host string }

func (f fakeResource) String() string      { return f.host }
func (f fakeResource) RegistryStr() string { return f.host }

func TestClassifyErrWrapsPlainError(t *testing.T) {
	err := classifyErr(errors.New("network reset"))
	var rerr *tplerr.RegistryError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RegistryError, got %v", err)
	}
	if !rerr.Transient {
		t.Fatalf("expected a bare non-transport error to be treated as transient (likely network-level)")
	}
}
