package wire

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrBadSignature is returned when an envelope's signature does not
// verify against the configured public key.
var ErrBadSignature = errors.New("wire: bad signature")

// ErrOriginMismatch is returned when a decoded Package's repository/name
// don't match what the caller expected.
var ErrOriginMismatch = errors.New("wire: origin mismatch")

// PublicKey parses a PEM-encoded RSA public key such as the one served
// at GET /public_key.
func PublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("wire: no PEM block found in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("wire: parsing public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("wire: public key is not RSA")
	}
	return rsaPub, nil
}

// Verify checks envelope.Signature against envelope.Payload using RSA
// over SHA-512 and, on success, returns the payload bytes. When
// skipVerification is true (the repo's no_verify_signature flag), the
// signature check is bypassed and the payload is returned unconditionally.
func Verify(envelope Signed, key *rsa.PublicKey, skipVerification bool) ([]byte, error) {
	if skipVerification {
		return envelope.Payload, nil
	}
	if key == nil {
		return nil, errors.New("wire: no public key configured")
	}

	digest := sha512.Sum512(envelope.Payload)
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA512, digest[:], envelope.Signature); err != nil {
		return nil, ErrBadSignature
	}
	return envelope.Payload, nil
}

// DecodePackage decodes a Package payload and, unless skipOriginCheck is
// set (the repo's no_verify_origin flag), verifies that its Repository
// and Name fields match the caller's expectation.
func DecodePackage(payload []byte, repo, name string, skipOriginCheck bool) (Package, error) {
	pkg, err := UnmarshalPackage(payload)
	if err != nil {
		return Package{}, err
	}
	if !skipOriginCheck {
		if pkg.Repository != repo || pkg.Name != name {
			return Package{}, fmt.Errorf("%w: expected %s/%s, got %s/%s", ErrOriginMismatch, repo, name, pkg.Repository, pkg.Name)
		}
	}
	return pkg, nil
}

// Sign is provided for tests that need to construct a validly-signed
// envelope; production code never signs anything, it only verifies.
func Sign(payload []byte, priv *rsa.PrivateKey) ([]byte, error) {
	digest := sha512.Sum512(payload)
	return rsa.SignPKCS1v15(nil, priv, crypto.SHA512, digest[:])
}
