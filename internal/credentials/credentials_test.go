package credentials

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// selfSigned returns a PEM certificate and PEM EC private key.
func selfSigned(t *testing.T, cn string) (certPEM, keyPEM []byte, keyDER []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}

	keyDER, err = x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshalling key: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, keyDER
}

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

// =============================================================================
// FileStore Tests
// =============================================================================

func TestOpen_PEMBundle(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, _ := selfSigned(t, "gateway-01")
	writeFile(t, dir, "gateway-01.pem", append(certPEM, keyPEM...))

	bundle, err := NewFileStore(dir).Open("gateway-01.pem", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if bundle.Name() != "gateway-01.pem" {
		t.Errorf("Name() = %q, want %q", bundle.Name(), "gateway-01.pem")
	}
	if bundle.KeyEncrypted() {
		t.Error("KeyEncrypted() = true for a plain key")
	}

	cert, err := bundle.Certificate("")
	if err != nil {
		t.Fatalf("Certificate() error = %v", err)
	}
	if len(cert.Certificate) != 1 {
		t.Errorf("certificate chain length = %d, want 1", len(cert.Certificate))
	}

	leaf, err := bundle.Leaf()
	if err != nil {
		t.Fatalf("Leaf() error = %v", err)
	}
	if leaf.Subject.CommonName != "gateway-01" {
		t.Errorf("Leaf().Subject.CommonName = %q, want %q", leaf.Subject.CommonName, "gateway-01")
	}
}

func TestOpen_EncryptedKey(t *testing.T) {
	dir := t.TempDir()
	certPEM, _, keyDER := selfSigned(t, "gateway-01")

	//nolint:staticcheck // Legacy PEM encryption
	block, err := x509.EncryptPEMBlock(rand.Reader, "EC PRIVATE KEY", keyDER, []byte("key-pass"), x509.PEMCipherAES256)
	if err != nil {
		t.Fatalf("encrypting key: %v", err)
	}
	writeFile(t, dir, "gateway-01.pem", append(certPEM, pem.EncodeToMemory(block)...))

	bundle, err := NewFileStore(dir).Open("gateway-01.pem", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !bundle.KeyEncrypted() {
		t.Error("KeyEncrypted() = false for an encrypted key")
	}

	if _, err := bundle.Certificate(""); !errors.Is(err, ErrPassphrase) {
		t.Errorf("Certificate(\"\") error = %v, want ErrPassphrase", err)
	}
	if _, err := bundle.Certificate("wrong"); err == nil {
		t.Error("Certificate(wrong) error = nil, want error")
	}
	if _, err := bundle.Certificate("key-pass"); err != nil {
		t.Errorf("Certificate(key-pass) error = %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, _ := selfSigned(t, "gateway-01")
	writeFile(t, dir, "cert-only.pem", certPEM)
	writeFile(t, dir, "key-only.pem", keyPEM)
	writeFile(t, dir, "two-keys.pem", append(append(certPEM, keyPEM...), keyPEM...))
	writeFile(t, dir, "garbage.p12", []byte("not a keystore"))

	tests := []struct {
		name    string
		file    string
		wantErr error
	}{
		{"missing file", "absent.pem", ErrNotFound},
		{"empty name", "", ErrNotFound},
		{"escapes directory", "../outside.pem", ErrNotFound},
		{"no private key", "cert-only.pem", ErrInvalidBundle},
		{"no certificate", "key-only.pem", ErrInvalidBundle},
		{"two private keys", "two-keys.pem", ErrInvalidBundle},
		{"corrupt keystore", "garbage.p12", ErrInvalidBundle},
	}

	store := NewFileStore(dir)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle, err := store.Open(tt.file, "pass")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Open(%q) error = %v, want %v", tt.file, err, tt.wantErr)
			}
			if bundle != nil {
				t.Errorf("Open(%q) returned a bundle alongside an error", tt.file)
			}
		})
	}
}

func TestOpen_AbsolutePath(t *testing.T) {
	dir := t.TempDir()
	certPEM, keyPEM, _ := selfSigned(t, "gateway-01")
	writeFile(t, dir, "gateway-01.pem", append(certPEM, keyPEM...))

	_, err := NewFileStore("/nonexistent").Open(filepath.Join(dir, "gateway-01.pem"), "")
	if err != nil {
		t.Errorf("Open(absolute) error = %v", err)
	}
}

func TestLoadRootCAs(t *testing.T) {
	dir := t.TempDir()
	certPEM, _, _ := selfSigned(t, "Test Root CA")
	writeFile(t, dir, "root.pem", certPEM)
	writeFile(t, dir, "empty.pem", []byte("no certificates here"))

	store := NewFileStore(dir)

	pool, err := store.LoadRootCAs("root.pem")
	if err != nil {
		t.Fatalf("LoadRootCAs() error = %v", err)
	}
	if pool == nil {
		t.Fatal("LoadRootCAs() returned nil pool")
	}

	if _, err := store.LoadRootCAs("empty.pem"); !errors.Is(err, ErrInvalidBundle) {
		t.Errorf("LoadRootCAs(empty) error = %v, want ErrInvalidBundle", err)
	}
	if _, err := store.LoadRootCAs("absent.pem"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadRootCAs(absent) error = %v, want ErrNotFound", err)
	}
}

// =============================================================================
// Bundle Tests
// =============================================================================

func TestBundle_WithRootCAs(t *testing.T) {
	certPEM, keyPEM, _ := selfSigned(t, "gateway-01")
	bundle, err := ParsePEM("inline", append(certPEM, keyPEM...))
	if err != nil {
		t.Fatalf("ParsePEM() error = %v", err)
	}

	pool := x509.NewCertPool()
	withRoots := bundle.WithRootCAs(pool)

	if withRoots.RootCAs() != pool {
		t.Error("WithRootCAs() did not set the pool")
	}
	if bundle.RootCAs() != nil {
		t.Error("WithRootCAs() modified the original bundle")
	}
}

func TestBundle_PKCS8EncryptedKeyRejected(t *testing.T) {
	certPEM, _, _ := selfSigned(t, "gateway-01")
	encrypted := pem.EncodeToMemory(&pem.Block{Type: "ENCRYPTED PRIVATE KEY", Bytes: []byte{0x30, 0x00}})

	bundle, err := ParsePEM("pkcs8", append(certPEM, encrypted...))
	if err != nil {
		t.Fatalf("ParsePEM() error = %v", err)
	}
	if !bundle.KeyEncrypted() {
		t.Error("KeyEncrypted() = false for PKCS#8 encrypted key")
	}
	if _, err := bundle.Certificate("pass"); !errors.Is(err, ErrInvalidBundle) {
		t.Errorf("Certificate() error = %v, want ErrInvalidBundle", err)
	}
}

func TestBundle_MismatchedKey(t *testing.T) {
	certPEM, _, _ := selfSigned(t, "gateway-01")
	_, otherKey, _ := selfSigned(t, "other")

	bundle, err := ParsePEM("mismatch", append(certPEM, otherKey...))
	if err != nil {
		t.Fatalf("ParsePEM() error = %v", err)
	}
	if _, err := bundle.Certificate(""); !errors.Is(err, ErrInvalidBundle) {
		t.Errorf("Certificate() error = %v, want ErrInvalidBundle", err)
	}
}
