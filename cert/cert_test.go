package cert

import (
	"crypto/ed25519"
	"testing"
)

func TestEd25519SignerVerifierRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}

	signer := NewEd25519Signer(priv)
	verifier := NewEd25519Verifier(pub)

	data := []byte("TLS 1.3, server CertificateVerify")
	sig, err := signer(data)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := verifier(data, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	ReleaseSigner(signer)
	ReleaseVerifier(verifier)
}

func TestEd25519SignerRejectsSecondUse(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	signer := NewEd25519Signer(priv)

	if _, err := signer([]byte("first")); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if _, err := signer([]byte("second")); err == nil {
		t.Fatal("expected error on second signer invocation")
	}
}

func TestEd25519VerifierRejectsBadSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	signer := NewEd25519Signer(priv)
	verifier := NewEd25519Verifier(pub)

	data := []byte("some context string")
	sig, _ := signer(data)
	sig[0] ^= 0xff

	if err := verifier(data, sig); err == nil {
		t.Fatal("expected verification failure for corrupted signature")
	}
}

func TestLookupEd25519NoCommonScheme(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	lookup := LookupEd25519(Chain{{CertData: []byte("leaf")}}, priv)

	_, _, _, err := lookup("example.com", []SignatureScheme{SignatureSchemeECDSASecp256r1SHA256})
	if err == nil {
		t.Fatal("expected ErrNoCommonScheme")
	}
}

func TestVerifyEd25519RejectsEmptyChain(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	verify := VerifyEd25519(pub)

	if _, err := verify(nil); err == nil {
		t.Fatal("expected error for empty chain")
	}
}
