package registry

import (
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"os"
)

// newTransport builds an http.RoundTripper honoring a per-registry TLS
// customization: an insecure toggle or a custom CA bundle. Returns nil
// when cfg asks for nothing beyond the system default trust store.
func newTransport(cfg TLSConfig) http.RoundTripper {
	if !cfg.Insecure && cfg.CAFile == "" {
		return nil
	}

	tlsConfig := &tls.Config{}
	if cfg.Insecure {
		tlsConfig.InsecureSkipVerify = true
	}
	if cfg.CAFile != "" {
		if pem, err := os.ReadFile(cfg.CAFile); err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				tlsConfig.RootCAs = pool
			}
		}
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsConfig
	return base
}
