package credentials

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// FileStore opens credential bundles from a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir. Absolute names passed to
// Open and LoadRootCAs bypass dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the directory relative names are resolved against.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrNotFound)
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %q escapes the credentials directory", ErrNotFound, name)
	}
	return filepath.Join(s.dir, name), nil
}

func (s *FileStore) read(name string) ([]byte, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// Open reads the named bundle. The file extension selects the format:
// .p12 and .pfx are PKCS#12 and need passphrase; anything else is PEM and
// ignores it.
func (s *FileStore) Open(name, passphrase string) (*Bundle, error) {
	data, err := s.read(name)
	if err != nil {
		return nil, err
	}

	var blocks []*pem.Block
	switch strings.ToLower(filepath.Ext(name)) {
	case ".p12", ".pfx":
		blocks, err = pkcs12.ToPEM(data, passphrase)
		if errors.Is(err, pkcs12.ErrIncorrectPassword) {
			return nil, fmt.Errorf("%w: keystore %s", ErrPassphrase, name)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: decoding keystore %s: %w", ErrInvalidBundle, name, err)
		}
	default:
		blocks = decodeAll(data)
	}

	bundle, err := newBundle(name, blocks)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}

// LoadRootCAs reads a PEM file of trusted root certificates.
func (s *FileStore) LoadRootCAs(name string) (*x509.CertPool, error) {
	data, err := s.read(name)
	if err != nil {
		return nil, err
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidBundle, name)
	}
	return pool, nil
}

func decodeAll(data []byte) []*pem.Block {
	var blocks []*pem.Block
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return blocks
		}
		blocks = append(blocks, block)
	}
}
