package record

import (
	"crypto/cipher"

	"github.com/waldgrave/tls13/internal/xor"
)

// Cipher is the AEAD record cipher context of spec.md §3/§4.2: a traffic
// secret's derived AEAD capability, its static IV, and a monotone 64-bit
// sequence counter. It is replaced wholesale on every epoch change — never
// mutated in place except by Seal/Open advancing the sequence counter —
// and the sequence counter always starts at 0 (spec.md invariant (a)).
//
// Nonce construction (static IV XOR big-endian sequence number) is
// grounded on the XOR-into-buffer idiom in the teacher's
// internal/mem/xorcopy_generic.go, generalized from "xor two equal-length
// buffers" to "xor a fixed IV with a zero-extended counter" in
// internal/xor.
type Cipher struct {
	aead cipher.AEAD
	iv   []byte
	seq  uint64
}

// NewCipher constructs a Cipher from a derived AEAD capability and static
// IV for one direction of one epoch.
func NewCipher(aead cipher.AEAD, iv []byte) *Cipher {
	return &Cipher{aead: aead, iv: iv}
}

// Overhead returns the AEAD's tag size.
func (c *Cipher) Overhead() int { return c.aead.Overhead() }

// Seal encrypts and authenticates plaintext for the current sequence
// number, appending the result to dst, then advances the sequence
// counter. additionalData is the exact 5-byte record header.
func (c *Cipher) Seal(dst, plaintext, additionalData []byte) []byte {
	nonce := make([]byte, len(c.iv))
	xor.Uint64BigEndian(nonce, c.iv, c.seq)
	c.seq++
	out := c.aead.Seal(dst, nonce, plaintext, additionalData)
	clear(nonce)
	return out
}

// Open authenticates and decrypts ciphertext for the current sequence
// number, appending the plaintext to dst, then advances the sequence
// counter regardless of success (a failed open still consumes a sequence
// number: the record was received and must not be retried).
func (c *Cipher) Open(dst, ciphertext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, len(c.iv))
	xor.Uint64BigEndian(nonce, c.iv, c.seq)
	c.seq++
	out, err := c.aead.Open(dst, nonce, ciphertext, additionalData)
	clear(nonce)
	return out, err
}

// Wipe zeroes the static IV. c must not be used afterward. The AEAD
// capability's own key material is released when the underlying
// cipher.AEAD becomes unreachable; callers that need the key itself wiped
// must wipe it before calling NewCipher.
func (c *Cipher) Wipe() {
	clear(c.iv)
}
