package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	cryptotls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeCerts creates a CA and a leaf signed by it under dir.
func writeCerts(t *testing.T, dir string) Config {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "forecaster"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, caTmpl, &leafKey.PublicKey, caKey)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		Enabled:  true,
		CertFile: filepath.Join(dir, "tls.crt"),
		KeyFile:  filepath.Join(dir, "tls.key"),
		CAFile:   filepath.Join(dir, "ca.crt"),
	}
	writePEM(t, cfg.CAFile, "CERTIFICATE", caDER)
	writePEM(t, cfg.CertFile, "CERTIFICATE", leafDER)
	writePEM(t, cfg.KeyFile, "EC PRIVATE KEY", keyDER)
	return cfg
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	good := writeCerts(t, dir)

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "disabled", cfg: Config{}},
		{name: "disabled ignores paths", cfg: Config{CertFile: "/nope"}},
		{name: "valid", cfg: good},
		{name: "missing cert", cfg: Config{Enabled: true, KeyFile: good.KeyFile, CAFile: good.CAFile}, wantErr: true},
		{name: "missing ca", cfg: Config{Enabled: true, CertFile: good.CertFile, KeyFile: good.KeyFile}, wantErr: true},
		{name: "unreadable key", cfg: Config{Enabled: true, CertFile: good.CertFile, KeyFile: filepath.Join(dir, "absent"), CAFile: good.CAFile}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Disabled(t *testing.T) {
	srv, err := Config{}.Server()
	if err != nil || srv != nil {
		t.Errorf("Server() = %v, %v; want nil, nil", srv, err)
	}
	cli, err := Config{}.Client()
	if err != nil || cli != nil {
		t.Errorf("Client() = %v, %v; want nil, nil", cli, err)
	}
}

func TestConfig_Server(t *testing.T) {
	cfg := writeCerts(t, t.TempDir())

	tc, err := cfg.Server()
	if err != nil {
		t.Fatalf("Server() error = %v", err)
	}
	if tc.ClientAuth != cryptotls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", tc.ClientAuth)
	}
	if tc.MinVersion != cryptotls.VersionTLS13 {
		t.Errorf("MinVersion = %x, want TLS 1.3", tc.MinVersion)
	}
	if tc.ClientCAs == nil {
		t.Error("ClientCAs should be set")
	}
}

func TestConfig_Client(t *testing.T) {
	cfg := writeCerts(t, t.TempDir())

	tc, err := cfg.Client()
	if err != nil {
		t.Fatalf("Client() error = %v", err)
	}
	if len(tc.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(tc.Certificates))
	}
	if tc.RootCAs == nil {
		t.Error("RootCAs should be set")
	}
	if tc.MinVersion != cryptotls.VersionTLS13 {
		t.Errorf("MinVersion = %x, want TLS 1.3", tc.MinVersion)
	}
}

func TestConfig_BadCA(t *testing.T) {
	cfg := writeCerts(t, t.TempDir())
	if err := os.WriteFile(cfg.CAFile, []byte("not a certificate"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := cfg.Server(); err == nil {
		t.Error("Server() expected error for unparseable CA")
	}
	if _, err := cfg.Client(); err == nil {
		t.Error("Client() expected error for unparseable CA")
	}
}
