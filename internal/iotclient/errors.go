package iotclient

import "errors"

var (
	// ErrConfiguration is returned when an authentication mode is unsupported
	// or its required credentials are missing. No connection is constructed.
	ErrConfiguration = errors.New("iotclient: unsupported or incomplete configuration")

	// ErrUnknownTag is returned when a caller supplies a tag outside the
	// vocabulary of an enumeration. The Connection is not touched.
	ErrUnknownTag = errors.New("iotclient: unknown tag")
)
