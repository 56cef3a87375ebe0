// Package transcript implements the incremental handshake transcript hash
// of spec.md §3: every handshake message is fed to it exactly as
// transmitted or received, in wire order, and no other bytes are. The key
// schedule and CertificateVerify/Finished both consume digests of it at
// points where more messages are yet to come, so a snapshot operation that
// reads the current digest without disturbing the running hash is
// required (RFC 8446 §4.4.1).
//
// Grounded on schemes/basic/digest/digest.go's hash.Hash-wrapping adapter
// shape in the teacher, reimplemented around crypto/sha256/crypto/sha512
// because RFC 8446 fixes those exact algorithms for the cipher suites this
// module supports.
package transcript

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"hash"
)

// Hash is an incremental transcript hash bound to one cipher suite's hash
// algorithm for the lifetime of a connection (it is never swapped mid
// handshake: the hash algorithm is fixed at cipher-suite negotiation).
type Hash struct {
	alg crypto.Hash
	h   hash.Hash
}

// New returns a Hash using the given algorithm (crypto.SHA256 or
// crypto.SHA384 for the suites this module supports).
func New(alg crypto.Hash) *Hash {
	return &Hash{alg: alg, h: alg.New()}
}

// Size returns the digest size in bytes.
func (t *Hash) Size() int { return t.alg.Size() }

// Update appends msg — the exact wire bytes of a handshake message — to
// the transcript.
func (t *Hash) Update(msg []byte) {
	t.h.Write(msg)
}

// Snapshot returns the current digest without consuming or resetting the
// transcript. Safe to call any number of times; subsequent Update calls
// continue from the un-reset state.
func (t *Hash) Snapshot() []byte {
	return t.h.Sum(nil)
}

// Reset clears the transcript back to its initial empty state. Used only
// when constructing a synthetic message_hash record for HelloRetryRequest
// (RFC 8446 §4.4.1): the original ClientHello's transcript contribution is
// replaced by a single synthetic message carrying its digest.
func (t *Hash) Reset() {
	t.h.Reset()
}

// ReplaceWithMessageHash resets the transcript and seeds it with a
// synthetic message_hash handshake message (RFC 8446 §4.4.1) wrapping the
// digest the transcript held just before the reset. Used exactly once,
// after a HelloRetryRequest, to fold the discarded first ClientHello out
// of the live transcript while still binding the key schedule to it.
func (t *Hash) ReplaceWithMessageHash(messageHashBody []byte) {
	t.h.Reset()
	t.h.Write(messageHashBody)
}

// Clear wipes the transcript's internal hash state. The Hash must not be
// used afterward.
func (t *Hash) Clear() {
	t.h.Reset()
	t.h = nil
}
