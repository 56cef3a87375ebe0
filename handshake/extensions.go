package handshake

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// RFC 8446 §4.2 ExtensionType values used by this module. Extension
// numbers this module doesn't understand are never rejected — an
// unrecognized extension is ignored wherever it appears, per the resolved
// Open Question in DESIGN.md.
const (
	extServerName          uint16 = 0
	extSupportedGroups      uint16 = 10
	extSignatureAlgorithms  uint16 = 13
	extSupportedVersions    uint16 = 43
	extKeyShare             uint16 = 51
)

// addExtension writes one length-prefixed extension entry: a 2-byte type,
// then a 2-byte-length-prefixed body built by fn.
func addExtension(b *cryptobyte.Builder, typ uint16, fn cryptobyte.BuilderContinuation) {
	b.AddUint16(typ)
	b.AddUint16LengthPrefixed(fn)
}

// walkExtensions iterates a 2-byte-length-prefixed extension list,
// calling fn with each extension's type and body. Extensions fn doesn't
// recognize should simply return nil without consuming data (the entire
// length-prefixed body is already isolated by this function).
func walkExtensions(list cryptobyte.String, fn func(typ uint16, data cryptobyte.String) error) error {
	for !list.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !list.ReadUint16(&typ) || !list.ReadUint16LengthPrefixed(&data) {
			return fmt.Errorf("handshake: malformed extension list")
		}
		if err := fn(typ, data); err != nil {
			return err
		}
	}
	return nil
}
