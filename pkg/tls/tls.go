// Package tls builds mutual TLS configurations for the forecast HTTP server
// and for the client that talks to a remote oracle.
//
// Both sides require TLS 1.3 and verify the peer against a shared CA.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// Config holds TLS certificate file paths for client or server configuration.
type Config struct {
	Enabled  bool
	CertFile string
	KeyFile  string
	CAFile   string
}

var cipherSuites = []uint16{
	tls.TLS_AES_128_GCM_SHA256,
	tls.TLS_AES_256_GCM_SHA384,
	tls.TLS_CHACHA20_POLY1305_SHA256,
}

// Validate returns an error if TLS is enabled but a file is unset or unreadable.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	files := []struct{ name, path string }{
		{"cert", c.CertFile},
		{"key", c.KeyFile},
		{"ca", c.CAFile},
	}
	for _, f := range files {
		if f.path == "" {
			return fmt.Errorf("tls enabled but %s file not specified", f.name)
		}
		if _, err := os.Stat(f.path); err != nil {
			return fmt.Errorf("tls %s file %q: %w", f.name, f.path, err)
		}
	}
	return nil
}

// Server returns a configuration that requires and verifies client
// certificates. The serving certificate itself is loaded by the caller via
// ListenAndServeTLS. A disabled Config yields nil.
func (c Config) Server() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
		CipherSuites: cipherSuites,
	}, nil
}

// Client returns a configuration that presents the client certificate and
// verifies the oracle against the CA. A disabled Config yields nil.
func (c Config) Client() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	pool, err := loadCAPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
		CipherSuites: cipherSuites,
	}, nil
}

func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}
