package cert

import (
	"crypto/ed25519"
	"errors"
)

// Ed25519Signer and Ed25519Verifier are a concrete, testable
// implementation of the Lookup/Verify contract above, standing in for a
// real X.509-backed certificate store in tests and examples.
//
// Grounded on schemes/complex/sig/sig.go's Sign(domain, key, rand, reader)/
// Verify(domain, pubkey, sig, reader) shape: a domain-separated signature
// over a message. RFC 8446's CertificateVerify context string already
// includes its own domain separation (the "TLS 1.3, server/client
// CertificateVerify" prefix built by the handshake layer before calling
// Signer/Verifier), so no separate domain string is threaded through here
// — the teacher's domain parameter collapses into that prefix.
type Ed25519Signer struct {
	key ed25519.PrivateKey
	// used guards against a Signer being invoked more than once with
	// real data, matching the exactly-once contract.
	used bool
}

// NewEd25519Signer wraps key as a Signer closure bound to one
// CertificateVerify computation.
func NewEd25519Signer(key ed25519.PrivateKey) Signer {
	s := &Ed25519Signer{key: key}
	return s.sign
}

func (s *Ed25519Signer) sign(data []byte) ([]byte, error) {
	if len(data) == 0 {
		s.key = nil
		return nil, nil
	}
	if s.used {
		return nil, errors.New("cert: Signer invoked more than once")
	}
	s.used = true
	return ed25519.Sign(s.key, data), nil
}

// NewEd25519Verifier wraps pub as a Verifier closure bound to one
// CertificateVerify check.
func NewEd25519Verifier(pub ed25519.PublicKey) Verifier {
	v := &ed25519Verifier{pub: pub}
	return v.verify
}

type ed25519Verifier struct {
	pub  ed25519.PublicKey
	used bool
}

func (v *ed25519Verifier) verify(data, signature []byte) error {
	if len(data) == 0 && len(signature) == 0 {
		v.pub = nil
		return nil
	}
	if v.used {
		return errors.New("cert: Verifier invoked more than once")
	}
	v.used = true
	if !ed25519.Verify(v.pub, data, signature) {
		return errors.New("cert: signature verification failed")
	}
	return nil
}

// LookupEd25519 returns a Callbacks.Lookup implementation that always
// presents chain signed with key, for use in tests and examples where
// ed25519 is in the client's advertised scheme list.
func LookupEd25519(chain Chain, key ed25519.PrivateKey) func(string, []SignatureScheme) (Chain, SignatureScheme, Signer, error) {
	return func(_ string, clientSchemes []SignatureScheme) (Chain, SignatureScheme, Signer, error) {
		for _, scheme := range clientSchemes {
			if scheme == SignatureSchemeEd25519 {
				return chain, SignatureSchemeEd25519, NewEd25519Signer(key), nil
			}
		}
		return nil, 0, nil, ErrNoCommonScheme()
	}
}

// VerifyEd25519 returns a Callbacks.Verify implementation that trusts
// chain's end-entity certificate's raw public key directly (no X.509
// parsing or chain-of-trust validation — tests and examples only).
func VerifyEd25519(pub ed25519.PublicKey) func(Chain) (Verifier, error) {
	return func(chain Chain) (Verifier, error) {
		if len(chain) == 0 {
			return nil, errors.New("cert: empty chain")
		}
		return NewEd25519Verifier(pub), nil
	}
}
