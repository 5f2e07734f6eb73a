// Package credentials loads client certificate bundles for mutual TLS.
//
// A FileStore resolves bundle names against a directory and understands two
// formats:
//
//   - PKCS#12 keystores (.p12, .pfx), opened with a keystore passphrase
//   - PEM files holding the certificate chain and private key
//
// The private key inside a PEM bundle may itself be encrypted with a
// legacy PEM cipher; Bundle.Certificate takes the key passphrase for that
// case.
//
//	store := credentials.NewFileStore("/etc/graylogic/certs")
//	bundle, err := store.Open("gateway-01.p12", keystorePassphrase)
//	if err != nil {
//	    return err
//	}
//	cert, err := bundle.Certificate(keyPassphrase)
package credentials
