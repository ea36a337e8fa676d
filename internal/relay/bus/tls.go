package bus

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// loadTLSConfig builds a client TLS config for mutual authentication.
// caFile is optional; without it the system roots are used. certFile and
// keyFile must be given together.
func loadTLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if (certFile == "") != (keyFile == "") {
		return nil, fmt.Errorf("bus: client certificate and key must be set together")
	}
	if certFile != "" {
		pair, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("bus: load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("bus: read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("bus: no certificates found in %s", caFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
