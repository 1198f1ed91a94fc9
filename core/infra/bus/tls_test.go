package bus

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// edgeCert writes a self-signed CA certificate and its EC key into dir.
func edgeCert(t *testing.T, dir string) (certPath, keyPath string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "edge-broker"},
		DNSNames:              []string{"edge-broker"},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	certPath = filepath.Join(dir, "broker.pem")
	keyPath = filepath.Join(dir, "broker-key.pem")
	writeFile(t, certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	writeFile(t, keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	return certPath, keyPath
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNatsTLSConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := edgeCert(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	writeFile(t, garbage, []byte("not a certificate"))

	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
		check   func(*testing.T, *tls.Config)
	}{
		{
			name: "unset",
			check: func(t *testing.T, cfg *tls.Config) {
				if cfg != nil {
					t.Fatalf("expected no tls config, got %#v", cfg)
				}
			},
		},
		{
			name: "server name only",
			env:  map[string]string{envNATSTLSServerName: "edge-broker"},
			check: func(t *testing.T, cfg *tls.Config) {
				if cfg == nil || cfg.ServerName != "edge-broker" || cfg.InsecureSkipVerify {
					t.Fatalf("unexpected config %#v", cfg)
				}
				if cfg.MinVersion != tls.VersionTLS12 {
					t.Fatalf("expected tls 1.2 floor, got %x", cfg.MinVersion)
				}
			},
		},
		{
			name: "insecure",
			env:  map[string]string{envNATSTLSInsecure: "yes"},
			check: func(t *testing.T, cfg *tls.Config) {
				if cfg == nil || !cfg.InsecureSkipVerify {
					t.Fatalf("expected verification skipped, got %#v", cfg)
				}
			},
		},
		{
			name: "mutual tls",
			env: map[string]string{
				envNATSTLSCA: certPath, envNATSTLSCert: certPath, envNATSTLSKey: keyPath,
				envNATSTLSServerName: "edge-broker",
			},
			check: func(t *testing.T, cfg *tls.Config) {
				if cfg == nil || cfg.RootCAs == nil || len(cfg.Certificates) != 1 {
					t.Fatalf("expected ca pool and client pair, got %#v", cfg)
				}
				if cfg.ServerName != "edge-broker" {
					t.Fatalf("unexpected server name %q", cfg.ServerName)
				}
			},
		},
		{
			name:    "cert without key",
			env:     map[string]string{envNATSTLSCert: certPath},
			wantErr: "must be set together",
		},
		{
			name:    "missing ca file",
			env:     map[string]string{envNATSTLSCA: filepath.Join(dir, "absent.pem")},
			wantErr: "ca read",
		},
		{
			name:    "unparsable ca",
			env:     map[string]string{envNATSTLSCA: garbage},
			wantErr: "ca parse",
		},
		{
			name:    "mismatched pair",
			env:     map[string]string{envNATSTLSCert: certPath, envNATSTLSKey: garbage},
			wantErr: "keypair",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{envNATSTLSCA, envNATSTLSCert, envNATSTLSKey, envNATSTLSInsecure, envNATSTLSServerName} {
				t.Setenv(k, tc.env[k])
			}
			cfg, err := natsTLSConfigFromEnv()
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.check(t, cfg)
		})
	}
}
