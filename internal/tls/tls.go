// Package tls builds the server TLS configuration for the status API, either
// from certificate files or from a self-signed pair generated on first use.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// Config selects certificates for the HTTP server.
type Config struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file" mapstructure:"key_file"`
	// Dir holds tls.crt and tls.key when CertFile/KeyFile are not set.
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	// Self-signed certificate parameters.
	CommonName  string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames    []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays   int      `toml:"valid_days" mapstructure:"valid_days"`
	// MinVersion is "1.2" or "1.3" (default).
	MinVersion string `toml:"min_version" mapstructure:"min_version"`
}

// parseTLSVersion parses TLS version string and returns the corresponding constant
func parseTLSVersion(ver string) (uint16, error) {
	switch ver {
	case "", "default", "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, nil
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, nil
	}
	return 0, fmt.Errorf("unsupported tls version %q", ver)
}

// Paths returns the certificate and key files c resolves to.
func (c Config) Paths() (cert, key string) {
	if c.CertFile != "" && c.KeyFile != "" {
		return c.CertFile, c.KeyFile
	}
	if c.Dir != "" {
		return filepath.Join(c.Dir, tlsCrt), filepath.Join(c.Dir, tlsKey)
	}
	return "", ""
}

// Setup returns nil when TLS is disabled. With Dir and AutoGenerate set, a
// missing pair is generated. Certificates are re-read on every handshake so a
// renewed pair is picked up without a restart.
func Setup(c Config) (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	minVer, err := parseTLSVersion(c.MinVersion)
	if err != nil {
		return nil, err
	}
	certPath, keyPath := c.Paths()
	if certPath == "" {
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}
	if c.CertFile == "" && c.AutoGenerate && !certificatesExist(certPath, keyPath) {
		if err := generateCertificate(c, c.Dir); err != nil {
			return nil, fmt.Errorf("certificate generation failed: %w", err)
		}
	}
	// fail at startup rather than on the first handshake
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	return &tls.Config{
		GetCertificate: getCertificationFunc(certPath, keyPath),
		MinVersion:     minVer,
	}, nil
}

// getCertificationFunc returns a function that loads certificates dynamically
func getCertificationFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(certFile), filepath.Clean(keyFile))
		if err != nil {
			return nil, err
		}
		return &cert, nil
	}
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}
