package iotclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
)

// AuthMode selects how a connection authenticates.
type AuthMode string

// Supported authentication modes.
const (
	AuthModeTLS            AuthMode = "tls"
	AuthModeWebSocketSigV4 AuthMode = "websocket-sigv4"
)

// CredentialBundle is a client certificate source. *credentials.Bundle
// implements it.
type CredentialBundle interface {
	Certificate(keyPassphrase string) (tls.Certificate, error)
	RootCAs() *x509.CertPool
}

// ClientConfig is the input to BuildConnection and NewClient. Empty strings
// and a nil bundle mean "absent". It is read once at construction and not
// retained.
type ClientConfig struct {
	Endpoint string
	Port     int
	ClientID string

	// TLS mutual authentication.
	CredentialBundle CredentialBundle
	KeyPassphrase    string

	// WebSocket SigV4 authentication. SessionToken is only set for
	// temporary credentials; Region is derived from Endpoint when empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Region          string
}

// BuildConnection selects and constructs a Connection for mode.
//
// Rules, in order:
//  1. websocket-sigv4 with a session token: WebSocket connection with temporary credentials
//  2. websocket-sigv4 without one: WebSocket connection with long-term credentials
//  3. tls: the bundle's certificate is decoded, then a TLS connection is built
//  4. anything else, or a required field missing: ErrConfiguration
//
// No network I/O happens here and no partially built Connection is ever
// returned. Every call copies its inputs into fresh credential values.
func BuildConnection(mode AuthMode, cfg ClientConfig, connector Connector) (Connection, error) {
	if connector == nil {
		return nil, fmt.Errorf("%w: no connector", ErrConfiguration)
	}
	if cfg.Endpoint == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: endpoint and client id are required", ErrConfiguration)
	}

	var (
		conn Connection
		err  error
	)

	switch mode {
	case AuthModeWebSocketSigV4:
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("%w: %s requires an access key id and secret access key", ErrConfiguration, mode)
		}
		creds := mqtt.SigV4Credentials{
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			Region:          cfg.Region,
		}
		if cfg.SessionToken != "" {
			creds.SessionToken = cfg.SessionToken
		}
		conn, err = connector.NewWebSocketConnection(cfg.Endpoint, cfg.ClientID, creds)

	case AuthModeTLS:
		if cfg.CredentialBundle == nil {
			return nil, fmt.Errorf("%w: %s requires a credential bundle", ErrConfiguration, mode)
		}
		cert, certErr := cfg.CredentialBundle.Certificate(cfg.KeyPassphrase)
		if certErr != nil {
			return nil, fmt.Errorf("%w: credential bundle unusable: %w", ErrConfiguration, certErr)
		}
		conn, err = connector.NewTLSConnection(cfg.Endpoint, cfg.ClientID, mqtt.TLSCredentials{
			Certificate: cert,
			RootCAs:     cfg.CredentialBundle.RootCAs(),
		})

	default:
		return nil, fmt.Errorf("%w: unsupported auth mode %q", ErrConfiguration, mode)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return conn, nil
}

// NewClient builds a paho-backed Connection for mode and wraps it in a Client.
func NewClient(mode AuthMode, cfg ClientConfig, opts ...Option) (*Client, error) {
	var settings clientOptions
	for _, opt := range opts {
		opt(&settings)
	}

	connOpts := append([]mqtt.Option(nil), settings.connOptions...)
	if settings.logger != nil {
		connOpts = append(connOpts, mqtt.WithLogger(settings.logger))
	}

	conn, err := BuildConnection(mode, cfg, PahoConnector{Port: cfg.Port, Options: connOpts})
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}
