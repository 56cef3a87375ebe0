package suite

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	_ "crypto/sha256" // register crypto.SHA256
	_ "crypto/sha512" // register crypto.SHA384

	"golang.org/x/crypto/chacha20poly1305"
)

// AES128GCMSHA256 is TLS_AES_128_GCM_SHA256 (0x1301), mandatory-to-implement
// per RFC 8446 §9.1.
var AES128GCMSHA256 = &CipherSuite{
	ID:        0x1301,
	Hash:      crypto.SHA256,
	KeySize:   16,
	NonceSize: 12,
	NewAEAD:   newAESGCM,
}

// AES256GCMSHA384 is TLS_AES_256_GCM_SHA384 (0x1302).
var AES256GCMSHA384 = &CipherSuite{
	ID:        0x1302,
	Hash:      crypto.SHA384,
	KeySize:   32,
	NonceSize: 12,
	NewAEAD:   newAESGCM,
}

// ChaCha20Poly1305SHA256 is TLS_CHACHA20_POLY1305_SHA256 (0x1303).
var ChaCha20Poly1305SHA256 = &CipherSuite{
	ID:        0x1303,
	Hash:      crypto.SHA256,
	KeySize:   32,
	NonceSize: 12,
	NewAEAD:   chacha20poly1305.New,
}

// AllCipherSuites lists every suite this module implements, in the
// descending-preference order New's default registry uses.
var AllCipherSuites = []*CipherSuite{
	AES128GCMSHA256,
	AES256GCMSHA384,
	ChaCha20Poly1305SHA256,
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
