package credentials

import "errors"

var (
	// ErrNotFound is returned when a bundle or CA file does not exist.
	ErrNotFound = errors.New("credentials: not found")

	// ErrInvalidBundle is returned when a file cannot be decoded or lacks
	// a certificate or private key.
	ErrInvalidBundle = errors.New("credentials: invalid bundle")

	// ErrPassphrase is returned when a keystore or key passphrase is wrong
	// or missing.
	ErrPassphrase = errors.New("credentials: incorrect or missing passphrase")
)
