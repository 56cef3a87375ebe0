// Package handshake implements the RFC 8446 handshake state machine for
// both connection roles: message framing and wire encoding (this file),
// extension parsing (extensions.go), and the client/server state machines
// (client.go, server.go) that drive them.
//
// Grounded on markkurossi-ephemelier/crypto/tls/tls.go's
// ServerHandshake/writeHandshakeMsg transcript-then-encrypt-then-frame
// ordering and keploy-keploy's tlsHandler/handshake.go record-type
// dispatch loop; wire-level constant tables (handshake type numbers,
// extension numbers) cross-checked against tlsHandler/common.go, which
// lifted them from the same RFC.
package handshake

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"

	"github.com/waldgrave/tls13/cert"
)

// Type is an RFC 8446 §4 HandshakeType value.
type Type uint8

const (
	TypeClientHello         Type = 1
	TypeServerHello          Type = 2
	TypeEncryptedExtensions  Type = 8
	TypeCertificate          Type = 11
	TypeCertificateRequest   Type = 13
	TypeCertificateVerify    Type = 15
	TypeFinished             Type = 20
)

// hrrRandom is the fixed ServerHello.random value (RFC 8446 §4.1.3) that
// marks a ServerHello as a HelloRetryRequest rather than a real
// ServerHello.
var hrrRandom = [32]byte{
	0xCF, 0x21, 0xAD, 0x74, 0xE5, 0x9A, 0x61, 0x11,
	0xBE, 0x1D, 0x8C, 0x02, 0x1E, 0x65, 0xB8, 0x91,
	0xC2, 0xA2, 0x11, 0x16, 0x7A, 0xBB, 0x8C, 0x5E,
	0x07, 0x9E, 0x09, 0xE2, 0xC8, 0xA8, 0x33, 0x9C,
}

// ClientHello is the RFC 8446 §4.1.2 ClientHello body, restricted to the
// fields this module's negotiation surface needs.
type ClientHello struct {
	Random             [32]byte
	SessionID          []byte
	CipherSuites       []uint16
	SupportedVersions  []uint16
	SupportedGroups    []uint16
	SignatureSchemes   []cert.SignatureScheme
	KeyShares          map[uint16][]byte // group -> public share, in offer order
	KeyShareOrder      []uint16
	ServerName         string
}

// Marshal encodes ch as a full handshake message (type + 3-byte length +
// body).
func (ch *ClientHello) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeClientHello))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(0x0303) // legacy_version
		b.AddBytes(ch.Random[:])
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(ch.SessionID)
		})
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, cs := range ch.CipherSuites {
				b.AddUint16(cs)
			}
		})
		b.AddUint8(1) // legacy_compression_methods length
		b.AddUint8(0) // null compression

		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			addExtension(b, extSupportedVersions, func(b *cryptobyte.Builder) {
				b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, v := range ch.SupportedVersions {
						b.AddUint16(v)
					}
				})
			})
			addExtension(b, extSupportedGroups, func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, g := range ch.SupportedGroups {
						b.AddUint16(g)
					}
				})
			})
			addExtension(b, extSignatureAlgorithms, func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, s := range ch.SignatureSchemes {
						b.AddUint16(uint16(s))
					}
				})
			})
			addExtension(b, extKeyShare, func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, g := range ch.KeyShareOrder {
						b.AddUint16(g)
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes(ch.KeyShares[g])
						})
					}
				})
			})
			if ch.ServerName != "" {
				addExtension(b, extServerName, func(b *cryptobyte.Builder) {
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddUint8(0) // host_name
						b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
							b.AddBytes([]byte(ch.ServerName))
						})
					})
				})
			}
		})
	})
	return b.Bytes()
}

// ParseClientHello parses body (the handshake message body, without the
// 4-byte header) into a ClientHello.
func ParseClientHello(body []byte) (*ClientHello, error) {
	s := cryptobyte.String(body)
	ch := &ClientHello{KeyShares: map[uint16][]byte{}}

	var legacyVersion uint16
	var random []byte
	var sessionID, compression cryptobyte.String
	var suites cryptobyte.String
	if !s.ReadUint16(&legacyVersion) ||
		!s.ReadBytes(&random, 32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16LengthPrefixed(&suites) ||
		!s.ReadUint8LengthPrefixed(&compression) {
		return nil, fmt.Errorf("handshake: malformed ClientHello")
	}
	copy(ch.Random[:], random)
	ch.SessionID = append([]byte(nil), sessionID...)
	for !suites.Empty() {
		var cs uint16
		if !suites.ReadUint16(&cs) {
			return nil, fmt.Errorf("handshake: malformed cipher_suites")
		}
		ch.CipherSuites = append(ch.CipherSuites, cs)
	}

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("handshake: malformed ClientHello extensions")
	}
	if err := walkExtensions(extensions, func(typ uint16, data cryptobyte.String) error {
		switch typ {
		case extSupportedVersions:
			var list cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&list) {
				return fmt.Errorf("handshake: malformed supported_versions")
			}
			for !list.Empty() {
				var v uint16
				if !list.ReadUint16(&v) {
					return fmt.Errorf("handshake: malformed supported_versions entry")
				}
				ch.SupportedVersions = append(ch.SupportedVersions, v)
			}
		case extSupportedGroups:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return fmt.Errorf("handshake: malformed supported_groups")
			}
			for !list.Empty() {
				var g uint16
				if !list.ReadUint16(&g) {
					return fmt.Errorf("handshake: malformed supported_groups entry")
				}
				ch.SupportedGroups = append(ch.SupportedGroups, g)
			}
		case extSignatureAlgorithms:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return fmt.Errorf("handshake: malformed signature_algorithms")
			}
			for !list.Empty() {
				var v uint16
				if !list.ReadUint16(&v) {
					return fmt.Errorf("handshake: malformed signature_algorithms entry")
				}
				ch.SignatureSchemes = append(ch.SignatureSchemes, cert.SignatureScheme(v))
			}
		case extKeyShare:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return fmt.Errorf("handshake: malformed key_share")
			}
			for !list.Empty() {
				var g uint16
				var share cryptobyte.String
				if !list.ReadUint16(&g) || !list.ReadUint16LengthPrefixed(&share) {
					return fmt.Errorf("handshake: malformed key_share entry")
				}
				ch.KeyShares[g] = append([]byte(nil), share...)
				ch.KeyShareOrder = append(ch.KeyShareOrder, g)
			}
		case extServerName:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return fmt.Errorf("handshake: malformed server_name")
			}
			for !list.Empty() {
				var nameType uint8
				var name cryptobyte.String
				if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
					return fmt.Errorf("handshake: malformed server_name entry")
				}
				if nameType == 0 {
					ch.ServerName = string(name)
				}
			}
		default:
			// Unknown extensions are ignored (resolved Open Question,
			// DESIGN.md).
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return ch, nil
}

// ServerHello is the RFC 8446 §4.1.3 ServerHello body. IsHRR is set when
// Random equals the fixed HelloRetryRequest constant; RequestedGroup is
// only meaningful when IsHRR is true.
type ServerHello struct {
	Random          [32]byte
	SessionID       []byte
	CipherSuite     uint16
	KeyShareGroup   uint16
	KeyShare        []byte
	IsHRR           bool
	RequestedGroup  uint16
}

// Marshal encodes sh as a full handshake message.
func (sh *ServerHello) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeServerHello))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(0x0303)
		if sh.IsHRR {
			b.AddBytes(hrrRandom[:])
		} else {
			b.AddBytes(sh.Random[:])
		}
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(sh.SessionID)
		})
		b.AddUint16(sh.CipherSuite)
		b.AddUint8(0) // legacy_compression_method

		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			addExtension(b, extSupportedVersions, func(b *cryptobyte.Builder) {
				b.AddUint16(0x0304)
			})
			if sh.IsHRR {
				addExtension(b, extKeyShare, func(b *cryptobyte.Builder) {
					b.AddUint16(sh.RequestedGroup)
				})
			} else {
				addExtension(b, extKeyShare, func(b *cryptobyte.Builder) {
					b.AddUint16(sh.KeyShareGroup)
					b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
						b.AddBytes(sh.KeyShare)
					})
				})
			}
		})
	})
	return b.Bytes()
}

// ParseServerHello parses body (without the 4-byte header) into a
// ServerHello, detecting the HelloRetryRequest random sentinel.
func ParseServerHello(body []byte) (*ServerHello, error) {
	s := cryptobyte.String(body)
	sh := &ServerHello{}

	var legacyVersion uint16
	var random []byte
	var sessionID cryptobyte.String
	var compression uint8
	if !s.ReadUint16(&legacyVersion) ||
		!s.ReadBytes(&random, 32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16(&sh.CipherSuite) ||
		!s.ReadUint8(&compression) {
		return nil, fmt.Errorf("handshake: malformed ServerHello")
	}
	copy(sh.Random[:], random)
	sh.SessionID = append([]byte(nil), sessionID...)
	sh.IsHRR = [32]byte(random) == hrrRandom

	var extensions cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("handshake: malformed ServerHello extensions")
	}
	if err := walkExtensions(extensions, func(typ uint16, data cryptobyte.String) error {
		if typ != extKeyShare {
			return nil
		}
		if sh.IsHRR {
			if !data.ReadUint16(&sh.RequestedGroup) {
				return fmt.Errorf("handshake: malformed HRR key_share")
			}
			return nil
		}
		var share cryptobyte.String
		if !data.ReadUint16(&sh.KeyShareGroup) || !data.ReadUint16LengthPrefixed(&share) {
			return fmt.Errorf("handshake: malformed key_share")
		}
		sh.KeyShare = append([]byte(nil), share...)
		return nil
	}); err != nil {
		return nil, err
	}

	return sh, nil
}

// EncryptedExtensions is the RFC 8446 §4.3.1 EncryptedExtensions body.
// This module negotiates no extensions requiring an EncryptedExtensions
// payload of its own, so it is always empty; the type exists so the
// handshake layer has something to frame and transcript.
type EncryptedExtensions struct{}

func (EncryptedExtensions) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeEncryptedExtensions))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {})
	})
	return b.Bytes()
}

// CertificateMessage is the RFC 8446 §4.4.2 Certificate body.
type CertificateMessage struct {
	RequestContext []byte
	Chain          cert.Chain
}

func (m *CertificateMessage) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeCertificate))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(m.RequestContext)
		})
		b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
			for _, entry := range m.Chain {
				b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
					b.AddBytes(entry.CertData)
				})
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, ext := range entry.Extensions {
						b.AddBytes(ext)
					}
				})
			}
		})
	})
	return b.Bytes()
}

func ParseCertificateMessage(body []byte) (*CertificateMessage, error) {
	s := cryptobyte.String(body)
	m := &CertificateMessage{}

	var reqCtx, certList cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&reqCtx) || !s.ReadUint24LengthPrefixed(&certList) {
		return nil, fmt.Errorf("handshake: malformed Certificate")
	}
	m.RequestContext = append([]byte(nil), reqCtx...)

	for !certList.Empty() {
		var certData, extensions cryptobyte.String
		if !certList.ReadUint24LengthPrefixed(&certData) || !certList.ReadUint16LengthPrefixed(&extensions) {
			return nil, fmt.Errorf("handshake: malformed CertificateEntry")
		}
		m.Chain = append(m.Chain, cert.Entry{
			CertData: append([]byte(nil), certData...),
		})
		_ = extensions // per-entry extensions are not surfaced to callbacks
	}

	return m, nil
}

// CertificateRequest is the RFC 8446 §4.3.2 CertificateRequest body,
// stripped to the field this module negotiates on: the acceptable
// signature schemes.
type CertificateRequest struct {
	SignatureSchemes []cert.SignatureScheme
}

func (r *CertificateRequest) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeCertificateRequest))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {}) // certificate_request_context
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			addExtension(b, extSignatureAlgorithms, func(b *cryptobyte.Builder) {
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
					for _, s := range r.SignatureSchemes {
						b.AddUint16(uint16(s))
					}
				})
			})
		})
	})
	return b.Bytes()
}

func ParseCertificateRequest(body []byte) (*CertificateRequest, error) {
	s := cryptobyte.String(body)
	r := &CertificateRequest{}

	var reqCtx, extensions cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&reqCtx) || !s.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("handshake: malformed CertificateRequest")
	}
	if err := walkExtensions(extensions, func(typ uint16, data cryptobyte.String) error {
		if typ != extSignatureAlgorithms {
			return nil
		}
		var list cryptobyte.String
		if !data.ReadUint16LengthPrefixed(&list) {
			return fmt.Errorf("handshake: malformed signature_algorithms")
		}
		for !list.Empty() {
			var v uint16
			if !list.ReadUint16(&v) {
				return fmt.Errorf("handshake: malformed signature_algorithms entry")
			}
			r.SignatureSchemes = append(r.SignatureSchemes, cert.SignatureScheme(v))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// CertificateVerify is the RFC 8446 §4.4.3 CertificateVerify body.
type CertificateVerify struct {
	Scheme    cert.SignatureScheme
	Signature []byte
}

func (v *CertificateVerify) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeCertificateVerify))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddUint16(uint16(v.Scheme))
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
			b.AddBytes(v.Signature)
		})
	})
	return b.Bytes()
}

func ParseCertificateVerify(body []byte) (*CertificateVerify, error) {
	s := cryptobyte.String(body)
	v := &CertificateVerify{}
	var scheme uint16
	var sig cryptobyte.String
	if !s.ReadUint16(&scheme) || !s.ReadUint16LengthPrefixed(&sig) {
		return nil, fmt.Errorf("handshake: malformed CertificateVerify")
	}
	v.Scheme = cert.SignatureScheme(scheme)
	v.Signature = append([]byte(nil), sig...)
	return v, nil
}

// Finished is the RFC 8446 §4.4.4 Finished body: verify_data only, sized
// to the transcript hash.
type Finished struct {
	VerifyData []byte
}

func (f *Finished) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeFinished))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(f.VerifyData)
	})
	return b.Bytes()
}

func ParseFinished(body []byte) (*Finished, error) {
	return &Finished{VerifyData: append([]byte(nil), body...)}, nil
}

// certificateVerifyContext builds the RFC 8446 §4.4.3 signature content:
// 64 spaces, a context string, 0x00, and the transcript digest.
func certificateVerifyContext(forServer bool, transcriptDigest []byte) []byte {
	const padding = "                                                                "
	context := "TLS 1.3, client CertificateVerify"
	if forServer {
		context = "TLS 1.3, server CertificateVerify"
	}
	out := make([]byte, 0, 64+len(context)+1+len(transcriptDigest))
	out = append(out, padding[:64]...)
	out = append(out, context...)
	out = append(out, 0x00)
	out = append(out, transcriptDigest...)
	return out
}
