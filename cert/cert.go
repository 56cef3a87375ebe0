// Package cert defines the certificate callback protocol of spec.md §4.5:
// the two application-supplied callbacks the handshake state machine calls
// out to rather than implementing certificate chain construction or
// verification itself.
//
// Grounded on the teacher's schemes/complex/sig package only insofar as it
// establishes a signer/verifier closure shape; the callback contract
// itself (Lookup/Verify, exactly-once-then-release closures) has no
// teacher analogue and is built directly from spec.md §4.5.
package cert

import "github.com/waldgrave/tls13/alert"

// SignatureScheme is an RFC 8446 §4.2.3 SignatureScheme value.
type SignatureScheme uint16

const (
	SignatureSchemeEd25519               SignatureScheme = 0x0807
	SignatureSchemeECDSASecp256r1SHA256  SignatureScheme = 0x0403
	SignatureSchemeRSAPSSRSAESHA256      SignatureScheme = 0x0804
)

// Entry is one certificate in a chain: its DER bytes and any per-entry
// extensions carried alongside it (RFC 8446 §4.4.2).
type Entry struct {
	CertData   []byte
	Extensions [][]byte
}

// Chain is an ordered certificate chain, end-entity certificate first.
type Chain []Entry

// Signer produces a signature over data (the RFC 8446 §4.4.3
// CertificateVerify context string built from the transcript hash) using
// whatever private key state Lookup bound it to.
//
// Per spec.md §4.5, a Signer is called exactly once with real data, then
// exactly once more with an empty slice to signal release of its
// underlying state; it must not be called again afterward.
type Signer func(data []byte) (signature []byte, err error)

// Verifier checks signature against data (the same CertificateVerify
// context string) using whatever chain-derived public key Verify bound it
// to, and is released the same way as Signer: one real call, then one
// empty-input call.
type Verifier func(data, signature []byte) (err error)

// Callbacks is the pair of application-supplied callbacks the handshake
// state machine calls out to for everything certificate-related.
type Callbacks struct {
	// Lookup is called on the server once ClientHello has been parsed. It
	// returns a chain to present, a signature scheme drawn from the
	// client's advertised list, and a Signer bound to the corresponding
	// private key.
	Lookup func(serverName string, clientSchemes []SignatureScheme) (Chain, SignatureScheme, Signer, error)

	// Verify is called on the receiver of a Certificate message. It
	// validates chain and returns a Verifier bound to the end-entity
	// certificate's public key.
	Verify func(chain Chain) (Verifier, error)
}

// ReleaseSigner invokes s with empty input to release its bound state, per
// the exactly-once-then-release contract. Safe to call on the zero Signer
// (nil), which does nothing.
func ReleaseSigner(s Signer) {
	if s != nil {
		_, _ = s(nil)
	}
}

// ReleaseVerifier invokes v with empty inputs to release its bound state.
// Safe to call on a nil Verifier.
func ReleaseVerifier(v Verifier) {
	if v != nil {
		_ = v(nil, nil)
	}
}

// errNoCommonScheme is returned by Lookup implementations (including
// Ed25519Signer's test harness below) when none of the client's
// advertised schemes can be satisfied; the handshake layer maps it to
// handshake_failure per spec.md §7's negotiation-impossible case.
var errNoCommonScheme = alert.Self(alert.HandshakeFailure, nil)

// ErrNoCommonScheme is the sentinel error returned when Lookup cannot
// satisfy any of the client's advertised signature schemes.
func ErrNoCommonScheme() error { return errNoCommonScheme }
