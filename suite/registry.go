package suite

import (
	"crypto/rand"
	"io"
)

// Registry is the crypto capability registry of spec.md §2: a PRNG, an
// ordered list of supported key-exchange groups, and an ordered list of
// supported cipher suites. It is built once by the caller and may be
// shared read-only across any number of connections (spec.md §5).
type Registry struct {
	// Rand is the source of randomness for nonces, ephemeral keys, and
	// the ClientHello random. Defaults to crypto/rand.Reader.
	Rand io.Reader
	// Suites lists the cipher suites this endpoint offers or accepts,
	// in preference order.
	Suites []*CipherSuite
	// Groups lists the key-exchange groups this endpoint offers or
	// accepts, in preference order.
	Groups []*Group
}

// Default returns a Registry offering every suite and group this module
// implements, in the preference order RFC 8446 implementations
// conventionally use (X25519 before P-256, AES-128-GCM before AES-256-GCM
// before ChaCha20-Poly1305).
func Default() *Registry {
	return &Registry{
		Rand:   rand.Reader,
		Suites: AllCipherSuites,
		Groups: AllGroups,
	}
}

// SuiteByID returns the suite in r with the given ID, or nil.
func (r *Registry) SuiteByID(id uint16) *CipherSuite {
	for _, s := range r.Suites {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// GroupByID returns the group in r with the given ID, or nil.
func (r *Registry) GroupByID(id GroupID) *Group {
	for _, g := range r.Groups {
		if g.ID == id {
			return g
		}
	}
	return nil
}
