package wire

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	return priv
}

// TestSignedRegistryHappyPath covers scenario 1 of spec.md §8: a
// validly-signed envelope whose payload is a Package verifies and
// decodes cleanly.
func TestSignedRegistryHappyPath(t *testing.T) {
	priv := generateTestKey(t)

	payload := MarshalPackage(Package{Repository: "hexpm", Name: "ecto"})
	sig, err := Sign(payload, priv)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	envelope := Signed{Payload: payload, Signature: sig}
	got, err := Verify(envelope, &priv.PublicKey, false)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	pkg, err := DecodePackage(got, "hexpm", "ecto", false)
	if err != nil {
		t.Fatalf("DecodePackage: %v", err)
	}
	if len(pkg.Releases) != 0 {
		t.Errorf("expected no releases, got %d", len(pkg.Releases))
	}
}

// TestSignatureTampering covers scenario 2: a corrupted signature fails
// verification with ErrBadSignature.
func TestSignatureTampering(t *testing.T) {
	priv := generateTestKey(t)
	payload := MarshalPackage(Package{Repository: "hexpm", Name: "ecto"})

	envelope := Signed{Payload: payload, Signature: []byte("foobar")}
	_, err := Verify(envelope, &priv.PublicKey, false)
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if err != ErrBadSignature {
		t.Errorf("got %v, want ErrBadSignature", err)
	}
}

// TestOriginMismatch covers scenario 3: decoding with an unexpected
// (repo, name) fails unless origin checking is disabled.
func TestOriginMismatch(t *testing.T) {
	payload := MarshalPackage(Package{Repository: "hexpm", Name: "ecto"})

	if _, err := DecodePackage(payload, "other", "ecto", false); err == nil {
		t.Fatal("expected origin mismatch error")
	}

	pkg, err := DecodePackage(payload, "other", "ecto", true)
	if err != nil {
		t.Fatalf("DecodePackage with skipOriginCheck: %v", err)
	}
	if pkg.Name != "ecto" {
		t.Errorf("Name = %q", pkg.Name)
	}
}

func TestVerifySkipped(t *testing.T) {
	envelope := Signed{Payload: []byte("payload"), Signature: []byte("garbage")}
	got, err := Verify(envelope, nil, true)
	if err != nil {
		t.Fatalf("Verify with skipVerification: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("got %q", got)
	}
}
