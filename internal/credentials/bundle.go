package credentials

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

// Bundle is a client certificate chain and its private key, as read from a
// FileStore. The key stays encoded until Certificate is called.
type Bundle struct {
	name    string
	chain   []byte
	key     *pem.Block
	rootCAs *x509.CertPool
}

func newBundle(name string, blocks []*pem.Block) (*Bundle, error) {
	b := &Bundle{name: name}

	var chain []*pem.Block
	for _, block := range blocks {
		switch {
		case block.Type == "CERTIFICATE":
			chain = append(chain, block)
		case strings.HasSuffix(block.Type, "PRIVATE KEY"):
			if b.key != nil {
				return nil, fmt.Errorf("%w: %s holds more than one private key", ErrInvalidBundle, name)
			}
			b.key = block
		}
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: %s holds no certificate", ErrInvalidBundle, name)
	}
	if b.key == nil {
		return nil, fmt.Errorf("%w: %s holds no private key", ErrInvalidBundle, name)
	}

	for _, block := range chain {
		b.chain = append(b.chain, pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: block.Bytes})...)
	}
	return b, nil
}

// Name returns the name the bundle was opened under.
func (b *Bundle) Name() string {
	return b.name
}

// KeyEncrypted reports whether Certificate needs a key passphrase.
func (b *Bundle) KeyEncrypted() bool {
	return x509.IsEncryptedPEMBlock(b.key) || b.key.Type == "ENCRYPTED PRIVATE KEY" //nolint:staticcheck // Legacy PEM encryption
}

// Certificate decodes the key pair. keyPassphrase is only consulted when
// the private key is encrypted.
func (b *Bundle) Certificate(keyPassphrase string) (tls.Certificate, error) {
	if b == nil || b.key == nil {
		return tls.Certificate{}, fmt.Errorf("%w: empty bundle", ErrInvalidBundle)
	}
	key := b.key

	if key.Type == "ENCRYPTED PRIVATE KEY" {
		return tls.Certificate{}, fmt.Errorf("%w: %s uses PKCS#8 encryption; re-export it as PKCS#12", ErrInvalidBundle, b.name)
	}

	if x509.IsEncryptedPEMBlock(key) { //nolint:staticcheck // Legacy PEM encryption
		if keyPassphrase == "" {
			return tls.Certificate{}, fmt.Errorf("%w: private key in %s is encrypted", ErrPassphrase, b.name)
		}
		der, err := x509.DecryptPEMBlock(key, []byte(keyPassphrase)) //nolint:staticcheck // Legacy PEM encryption
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: private key in %s: %w", ErrPassphrase, b.name, err)
		}
		key = &pem.Block{Type: key.Type, Bytes: der}
	}

	cert, err := tls.X509KeyPair(b.chain, pem.EncodeToMemory(key))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %s: %w", ErrInvalidBundle, b.name, err)
	}
	return cert, nil
}

// Leaf parses the first certificate of the chain.
func (b *Bundle) Leaf() (*x509.Certificate, error) {
	block, _ := pem.Decode(b.chain)
	if block == nil {
		return nil, fmt.Errorf("%w: %s holds no certificate", ErrInvalidBundle, b.name)
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidBundle, b.name, err)
	}
	return leaf, nil
}

// WithRootCAs returns a copy of b that carries pool as its trusted roots.
func (b *Bundle) WithRootCAs(pool *x509.CertPool) *Bundle {
	copied := *b
	copied.rootCAs = pool
	return &copied
}

// RootCAs returns the trusted roots, or nil for the system roots.
func (b *Bundle) RootCAs() *x509.CertPool {
	if b == nil {
		return nil
	}
	return b.rootCAs
}

// ParsePEM builds a bundle from PEM data already in memory, such as a
// certificate fetched from a secrets manager.
func ParsePEM(name string, data []byte) (*Bundle, error) {
	return newBundle(name, decodeAll(data))
}
