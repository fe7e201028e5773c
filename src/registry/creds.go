package registry

import (
	"github.com/google/go-containerregistry/pkg/authn"
)

// AuthEntry is one registry host's static credentials, as configured in
// the user config's auth map.
type AuthEntry struct {
	Username string
	Password string
	Token    string
}

// staticKeychain resolves credentials from a fixed host->AuthEntry map,
// configured explicitly by the user rather than read from a docker
// config file on disk.
type staticKeychain struct {
	byHost map[string]AuthEntry
}

func (k *staticKeychain) Resolve(res authn.Resource) (authn.Authenticator, error) {
	entry, ok := k.byHost[res.RegistryStr()]
	if !ok {
		return authn.Anonymous, nil
	}
	if entry.Token != "" {
		return &authn.Bearer{Token: entry.Token}, nil
	}
	return &authn.Basic{Username: entry.Username, Password: entry.Password}, nil
}

// NewKeychain builds the credentials-helper abstraction described by the
// user config's auth map: explicit per-host credentials take priority,
// falling back to the ambient docker/podman config file (~/.docker/config.json,
// including any credential-store helper it names).
func NewKeychain(auth map[string]AuthEntry) authn.Keychain {
	if len(auth) == 0 {
		return authn.DefaultKeychain
	}
	return authn.NewMultiKeychain(&staticKeychain{byHost: auth}, authn.DefaultKeychain)
}
