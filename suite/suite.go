// Package suite holds the crypto capability registry described in spec.md
// §2 and §3: the supported cipher suites, the supported key-exchange
// groups, and the caller-supplied PRNG, grouped into a single value a
// connection is built from.
//
// The core never implements a primitive itself — every suite and group
// here is a thin descriptor binding an IANA code point to a constructor
// for a stdlib or x/crypto capability. Swapping an algorithm means adding
// a descriptor, not touching the handshake state machine.
package suite

import (
	"crypto"
	"crypto/cipher"
)

// CipherSuite is the (AEAD algorithm, hash algorithm) pair RFC 8446 §B.4
// names a cipher suite code point for.
type CipherSuite struct {
	// ID is the IANA TLS CipherSuite code point.
	ID uint16
	// Hash is the suite's transcript/HKDF hash algorithm.
	Hash crypto.Hash
	// KeySize is the AEAD key size in bytes.
	KeySize int
	// NonceSize is the AEAD nonce (and static IV) size in bytes.
	NonceSize int
	// NewAEAD constructs an AEAD capability from a derived traffic key.
	// len(key) must equal KeySize.
	NewAEAD func(key []byte) (cipher.AEAD, error)
}

// Name returns a human-readable suite name for diagnostics.
func (s *CipherSuite) Name() string {
	switch s.ID {
	case 0x1301:
		return "TLS_AES_128_GCM_SHA256"
	case 0x1302:
		return "TLS_AES_256_GCM_SHA384"
	case 0x1303:
		return "TLS_CHACHA20_POLY1305_SHA256"
	default:
		return "unknown"
	}
}
