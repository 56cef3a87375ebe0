// Package keyschedule implements the RFC 8446 §7.1 key schedule: the chain
// of HKDF-Extract/HKDF-Expand-Label steps that turns a (EC)DHE shared
// secret and the transcript hash into early, handshake, and application
// traffic secrets, and the per-secret derivation of AEAD keys/IVs and
// Finished MAC keys.
//
// Grounded on keploy-keploy's pkg/proxy/integrations/tlsHandler/
// key_schedule.go (itself adapted from Go's crypto/tls), reimplemented
// against golang.org/x/crypto/hkdf and golang.org/x/crypto/cryptobyte.
package keyschedule

import (
	"crypto"
	"crypto/hmac"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

// Secrets holds the traffic secrets derived over the life of one
// handshake, keyed by the cipher suite's hash algorithm. Every byte slice
// here is secret-bearing and must be wiped with Wipe on epoch change or
// connection close.
type Secrets struct {
	hash crypto.Hash

	early           []byte
	handshake       []byte
	master          []byte
	clientHandshake []byte
	serverHandshake []byte
	clientApp       []byte
	serverApp       []byte
}

// New begins a key schedule for the given suite hash algorithm. The
// early secret is derived immediately from an all-zero PSK (spec.md §4.2:
// this module doesn't support PSK-based 0-RTT, so the early secret's only
// purpose is as an input to the zero-PSK "derived" step RFC 8446 requires
// before the handshake secret).
func New(h crypto.Hash) *Secrets {
	s := &Secrets{hash: h}
	zero := make([]byte, h.Size())
	s.early = s.extract(zero, zero)
	return s
}

// extract implements HKDF-Extract with the schedule's hash algorithm.
// newSecret is the fresh input keying material (the zero string, a PSK, or
// an (EC)DHE shared secret); currentSecret is the salt chained from the
// previous Extract step.
func (s *Secrets) extract(newSecret, currentSecret []byte) []byte {
	if newSecret == nil {
		newSecret = make([]byte, s.hash.Size())
	}
	return hkdf.Extract(s.hash.New, newSecret, currentSecret)
}

// ExpandLabel implements HKDF-Expand-Label (RFC 8446 §7.1): the info field
// is a length-prefixed "tls13 "+label and a length-prefixed context,
// followed by the desired output length.
func (s *Secrets) ExpandLabel(secret []byte, label string, context []byte, length int) []byte {
	var b cryptobyte.Builder
	b.AddUint16(uint16(length))
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte("tls13 "))
		b.AddBytes([]byte(label))
	})
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	info, err := b.Bytes()
	if err != nil {
		panic(fmt.Sprintf("tls13/keyschedule: building HkdfLabel: %s", err))
	}

	out := make([]byte, length)
	r := hkdf.Expand(s.hash.New, secret, info)
	if _, err := r.Read(out); err != nil {
		panic(fmt.Sprintf("tls13/keyschedule: HKDF-Expand-Label failed: %s", err))
	}
	return out
}

// deriveSecret is ExpandLabel with the context fixed to a transcript
// digest and the length fixed to the hash size (RFC 8446 §7.1).
func (s *Secrets) deriveSecret(secret []byte, label string, transcriptDigest []byte) []byte {
	return s.ExpandLabel(secret, label, transcriptDigest, s.hash.Size())
}

// DeriveHandshakeSecrets computes the handshake secret and the client/
// server handshake traffic secrets from the (EC)DHE shared secret and the
// transcript digest through ServerHello.
func (s *Secrets) DeriveHandshakeSecrets(sharedSecret, transcriptDigest []byte) (clientHS, serverHS []byte) {
	emptyDigest := s.hash.New().Sum(nil)
	derived := s.deriveSecret(s.early, "derived", emptyDigest)
	s.handshake = s.extract(sharedSecret, derived)

	s.clientHandshake = s.deriveSecret(s.handshake, "c hs traffic", transcriptDigest)
	s.serverHandshake = s.deriveSecret(s.handshake, "s hs traffic", transcriptDigest)
	return s.clientHandshake, s.serverHandshake
}

// DeriveApplicationSecrets computes the master secret and the client/
// server application traffic secrets from the transcript digest through
// the server's Finished message.
func (s *Secrets) DeriveApplicationSecrets(transcriptDigest []byte) (clientApp, serverApp []byte) {
	emptyDigest := s.hash.New().Sum(nil)
	derived := s.deriveSecret(s.handshake, "derived", emptyDigest)
	s.master = s.extract(nil, derived)

	s.clientApp = s.deriveSecret(s.master, "c ap traffic", transcriptDigest)
	s.serverApp = s.deriveSecret(s.master, "s ap traffic", transcriptDigest)
	return s.clientApp, s.serverApp
}

// TrafficKeyIV derives the AEAD key and static IV for a traffic secret
// (RFC 8446 §7.3), sized for the given suite.
func (s *Secrets) TrafficKeyIV(trafficSecret []byte, keySize, ivSize int) (key, iv []byte) {
	key = s.ExpandLabel(trafficSecret, "key", nil, keySize)
	iv = s.ExpandLabel(trafficSecret, "iv", nil, ivSize)
	return key, iv
}

// FinishedKey derives the MAC key used to compute or verify a Finished
// message from a handshake traffic secret (RFC 8446 §4.4.4).
func (s *Secrets) FinishedKey(trafficSecret []byte) []byte {
	return s.ExpandLabel(trafficSecret, "finished", nil, s.hash.Size())
}

// FinishedMAC computes the Finished message's verify_data: an HMAC, using
// the given finished-key and hash algorithm, over a transcript digest.
func FinishedMAC(h crypto.Hash, finishedKey, transcriptDigest []byte) []byte {
	mac := hmac.New(h.New, finishedKey)
	mac.Write(transcriptDigest)
	return mac.Sum(nil)
}

// VerifyFinished recomputes the Finished MAC and compares it against
// received in constant time (spec.md §4.4).
func VerifyFinished(h crypto.Hash, finishedKey, transcriptDigest, received []byte) bool {
	expected := FinishedMAC(h, finishedKey, transcriptDigest)
	return hmac.Equal(expected, received)
}

// ClientHandshakeTrafficSecret, ServerHandshakeTrafficSecret,
// ClientApplicationTrafficSecret, and ServerApplicationTrafficSecret
// return the most recently derived secret of each kind.
func (s *Secrets) ClientHandshakeTrafficSecret() []byte { return s.clientHandshake }
func (s *Secrets) ServerHandshakeTrafficSecret() []byte { return s.serverHandshake }
func (s *Secrets) ClientApplicationTrafficSecret() []byte { return s.clientApp }
func (s *Secrets) ServerApplicationTrafficSecret() []byte { return s.serverApp }

// Wipe zeroes every secret held by s. s must not be used afterward.
func (s *Secrets) Wipe() {
	Wipe(s.early)
	Wipe(s.handshake)
	Wipe(s.master)
	Wipe(s.clientHandshake)
	Wipe(s.serverHandshake)
	Wipe(s.clientApp)
	Wipe(s.serverApp)
}

// Wipe overwrites b with zeros. It is a thin, explicitly-named wrapper
// around the builtin clear() so that secret zeroization reads as an
// intentional, auditable operation rather than an ordinary assignment —
// the design note in spec.md §9 that motivates this is that optimizers
// must never be given the chance to elide it as dead stores.
//
//go:noinline
func Wipe(b []byte) {
	clear(b)
}
