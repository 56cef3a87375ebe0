// Package record implements the TLS 1.3 record layer of spec.md §4.3: the
// growable output buffer, the AEAD record cipher, and record framing,
// fragmentation, and reassembly.
package record

import (
	"errors"

	"github.com/waldgrave/tls13/alert"
)

// ContentType is an RFC 8446 §5.1 ContentType.
type ContentType uint8

const (
	ContentTypeChangeCipherSpec ContentType = 20
	ContentTypeAlert            ContentType = 21
	ContentTypeHandshake        ContentType = 22
	ContentTypeApplicationData  ContentType = 23
)

const (
	// MaxPlaintext is the maximum length of a record's logical payload
	// before protection (spec.md §4.3).
	MaxPlaintext = 1 << 14
	// MaxProtectedPayload is the maximum length of a protected record's
	// payload (inner plaintext + content type + padding + tag).
	MaxProtectedPayload = MaxPlaintext + 256
	// HeaderLen is the length of the record header.
	HeaderLen = 5
	// LegacyRecordVersion is the fixed legacy_record_version field.
	LegacyRecordVersion = 0x0303
)

// Layer is the record layer state bound to one connection: the current
// read and write AEAD contexts (nil before the corresponding epoch is
// installed) and any bytes received but not yet forming one full record.
type Layer struct {
	readCipher  *Cipher
	writeCipher *Cipher
	pending     []byte
}

// SetReadCipher installs c as the read-direction cipher for the next
// record onward. Per spec.md invariant (a), the sequence counter in a
// freshly constructed Cipher always starts at 0.
func (l *Layer) SetReadCipher(c *Cipher) { l.readCipher = c }

// SetWriteCipher installs c as the write-direction cipher for the next
// record onward.
func (l *Layer) SetWriteCipher(c *Cipher) { l.writeCipher = c }

// HasReadCipher reports whether a read-direction cipher is installed.
func (l *Layer) HasReadCipher() bool { return l.readCipher != nil }

// HasWriteCipher reports whether a write-direction cipher is installed.
func (l *Layer) HasWriteCipher() bool { return l.writeCipher != nil }

// WriteMessage fragments msg (a logical handshake or application-data
// message of the given inner content type) into one or more records,
// sealing each under the current write cipher if one is installed, and
// appends the records to out.
//
// Per RFC 8446 §5.1, once a write cipher is installed every outer record
// carries content type application_data regardless of the inner type;
// before that point (the initial ClientHello/HelloRetryRequest-ServerHello
// exchange, and any alert sent before the handshake cipher is up) records
// are sent in the clear with the outer type equal to the inner type.
func (l *Layer) WriteMessage(out *Buffer, innerType ContentType, msg []byte) error {
	if l.writeCipher == nil {
		return l.writePlaintext(out, innerType, msg)
	}
	return l.writeProtected(out, innerType, msg)
}

func (l *Layer) writePlaintext(out *Buffer, ct ContentType, msg []byte) error {
	if len(msg) == 0 {
		return l.writeOneRecord(out, ct, nil)
	}
	for len(msg) > 0 {
		n := min(len(msg), MaxPlaintext)
		if err := l.writeOneRecord(out, ct, msg[:n]); err != nil {
			return err
		}
		msg = msg[n:]
	}
	return nil
}

// writeProtected splits msg into blocks whose sealed-and-padded size fits
// within MaxProtectedPayload, sealing each under the write cipher.
//
// Grounded on the teacher's schemes/basic/aestream.Writer.Write/
// sealAndWrite block-splitting loop (split -> seal each block -> write
// sequentially), generalized from thyrse's transcript-based Mask/Seal to
// one real per-record AEAD seal with a monotonic sequence number per
// record instead of per logical message.
func (l *Layer) writeProtected(out *Buffer, innerType ContentType, msg []byte) error {
	maxBlock := MaxProtectedPayload - l.writeCipher.Overhead() - 1 // -1 for inner content type byte

	write := func(block []byte) error {
		inner := append(append([]byte(nil), block...), byte(innerType))
		hdr := [HeaderLen]byte{
			byte(ContentTypeApplicationData),
			LegacyRecordVersion >> 8, LegacyRecordVersion & 0xff,
		}
		sealedLen := len(inner) + l.writeCipher.Overhead()
		hdr[3] = byte(sealedLen >> 8)
		hdr[4] = byte(sealedLen)

		out.Append(hdr[:])
		dst := out.Grow(sealedLen)
		l.writeCipher.Seal(dst[:0], inner, hdr[:])
		clear(inner)
		return nil
	}

	if len(msg) == 0 {
		return write(nil)
	}
	for len(msg) > 0 {
		n := min(len(msg), maxBlock)
		if err := write(msg[:n]); err != nil {
			return err
		}
		msg = msg[n:]
	}
	return nil
}

func (l *Layer) writeOneRecord(out *Buffer, ct ContentType, payload []byte) error {
	var hdr [HeaderLen]byte
	hdr[0] = byte(ct)
	hdr[1] = LegacyRecordVersion >> 8
	hdr[2] = LegacyRecordVersion & 0xff
	hdr[3] = byte(len(payload) >> 8)
	hdr[4] = byte(len(payload))
	out.Append(hdr[:])
	out.Append(payload)
	return nil
}

// Feed appends newly received bytes to the layer's internal partial-
// record buffer.
func (l *Layer) Feed(data []byte) {
	l.pending = append(l.pending, data...)
}

// Buffered reports how many bytes are held awaiting more data to complete
// a record.
func (l *Layer) Buffered() int { return len(l.pending) }

// NextRecord attempts to parse and, if a read cipher is installed,
// decrypt one full record from the front of the layer's buffered bytes.
// It returns ok=false (with a nil error) if fewer than one full record is
// currently buffered; the caller should Feed more data and retry.
//
// change_cipher_spec records are tolerated (RFC 8446 §5) and consumed
// silently, returning ok=false with no error so the caller loops again
// without treating it as "need more input".
func (l *Layer) NextRecord() (ct ContentType, payload []byte, ok bool, err error) {
	if len(l.pending) < HeaderLen {
		return 0, nil, false, nil
	}

	hdr := l.pending[:HeaderLen]
	outerType := ContentType(hdr[0])
	length := int(hdr[3])<<8 | int(hdr[4])

	limit := MaxPlaintext
	if l.readCipher != nil {
		limit = MaxProtectedPayload
	}
	if length > limit {
		return 0, nil, false, alert.Self(alert.DecodeError, errors.New("record: declared length exceeds maximum"))
	}

	if len(l.pending) < HeaderLen+length {
		return 0, nil, false, nil
	}

	record := l.pending[HeaderLen : HeaderLen+length]
	consumed := HeaderLen + length

	if outerType == ContentTypeChangeCipherSpec {
		l.advance(consumed)
		return 0, nil, false, nil
	}

	if l.readCipher == nil {
		out := append([]byte(nil), record...)
		l.advance(consumed)
		return outerType, out, true, nil
	}

	if outerType != ContentTypeApplicationData {
		l.advance(consumed)
		return 0, nil, false, alert.Self(alert.UnexpectedMessage, errors.New("record: non application_data outer type once protected"))
	}

	plaintext, err := l.readCipher.Open(nil, record, hdr)
	if err != nil {
		l.advance(consumed)
		return 0, nil, false, alert.Self(alert.BadRecordMAC, err)
	}
	l.advance(consumed)

	inner, innerType, perr := stripInnerType(plaintext)
	if perr != nil {
		return 0, nil, false, alert.Self(alert.DecodeError, perr)
	}
	return innerType, inner, true, nil
}

func (l *Layer) advance(n int) {
	l.pending = l.pending[n:]
}

// stripInnerType removes the zero-padding and trailing inner content-type
// byte RFC 8446 §5.2 appends to every protected record's plaintext.
func stripInnerType(plaintext []byte) ([]byte, ContentType, error) {
	i := len(plaintext) - 1
	for i >= 0 && plaintext[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, 0, errors.New("record: protected record has no inner content type")
	}
	return plaintext[:i], ContentType(plaintext[i]), nil
}
