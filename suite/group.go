package suite

import (
	"crypto/ecdh"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

// GroupID is an RFC 8446 §4.2.7 NamedGroup code point.
type GroupID uint16

const (
	GroupSecp256r1 GroupID = 23
	GroupX25519    GroupID = 29
)

// ErrInvalidShare is returned when a peer's key-share encoding is malformed
// or, for X25519, produces an all-zero shared secret (RFC 7748 §6.1's
// contributory-behavior check).
var ErrInvalidShare = errors.New("tls13/suite: invalid key share")

// Prepared is the private-state context created by Group.Prepare. It is
// used exactly once, by calling Finish with the peer's share, and then
// discarded; the caller is responsible for wiping any secret it captured
// a reference to.
type Prepared interface {
	// Finish consumes the peer's public share and returns the shared
	// secret. The prepared context must not be reused afterward.
	Finish(peerShare []byte) (secret []byte, err error)
}

// Group is a key-exchange algorithm descriptor. It offers two styles of
// operation (spec.md §3): Prepare, used by a client that must emit a
// public share before it knows which group the server will choose, and
// Exchange, used by a server that can compute its own share and the
// shared secret in one step once it has the client's share.
type Group struct {
	ID GroupID
	// Prepare creates a private context and the public share to send.
	Prepare func(rand io.Reader) (Prepared, share []byte, err error)
	// Exchange takes the peer's share and returns this side's public
	// share and the shared secret, in one step.
	Exchange func(rand io.Reader, peerShare []byte) (share, secret []byte, err error)
}

// AllGroups lists every group this module implements, in descending-
// preference order.
var AllGroups = []*Group{
	GroupByID(GroupX25519),
	GroupByID(GroupSecp256r1),
}

// GroupByID returns the descriptor for id, or nil if unsupported.
func GroupByID(id GroupID) *Group {
	switch id {
	case GroupX25519:
		return &x25519Group
	case GroupSecp256r1:
		return &p256Group
	default:
		return nil
	}
}

var x25519Group = Group{
	ID:       GroupX25519,
	Prepare:  x25519Prepare,
	Exchange: x25519Exchange,
}

var p256Group = Group{
	ID:       GroupSecp256r1,
	Prepare:  p256Prepare,
	Exchange: p256Exchange,
}

// x25519Prepared holds the private scalar between Prepare and Finish.
type x25519Prepared struct {
	scalar [32]byte
}

func (p *x25519Prepared) Finish(peerShare []byte) ([]byte, error) {
	defer clear(p.scalar[:])
	return x25519Shared(p.scalar[:], peerShare)
}

func x25519Prepare(r io.Reader) (Prepared, []byte, error) {
	var scalar [32]byte
	if _, err := io.ReadFull(r, scalar[:]); err != nil {
		return nil, nil, err
	}
	share, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		clear(scalar[:])
		return nil, nil, err
	}
	return &x25519Prepared{scalar: scalar}, share, nil
}

func x25519Exchange(r io.Reader, peerShare []byte) ([]byte, []byte, error) {
	var scalar [32]byte
	if _, err := io.ReadFull(r, scalar[:]); err != nil {
		return nil, nil, err
	}
	defer clear(scalar[:])

	share, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}
	secret, err := x25519Shared(scalar[:], peerShare)
	if err != nil {
		return nil, nil, err
	}
	return share, secret, nil
}

func x25519Shared(scalar, peerShare []byte) ([]byte, error) {
	secret, err := curve25519.X25519(scalar, peerShare)
	if err != nil {
		return nil, ErrInvalidShare
	}
	allZero := true
	for _, b := range secret {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, ErrInvalidShare
	}
	return secret, nil
}

// p256Prepared holds the private key between Prepare and Finish.
type p256Prepared struct {
	priv *ecdh.PrivateKey
}

func (p *p256Prepared) Finish(peerShare []byte) ([]byte, error) {
	return p256Shared(p.priv, peerShare)
}

func p256Prepare(r io.Reader) (Prepared, []byte, error) {
	priv, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, nil, err
	}
	return &p256Prepared{priv: priv}, priv.PublicKey().Bytes(), nil
}

func p256Exchange(r io.Reader, peerShare []byte) ([]byte, []byte, error) {
	priv, err := ecdh.P256().GenerateKey(r)
	if err != nil {
		return nil, nil, err
	}
	secret, err := p256Shared(priv, peerShare)
	if err != nil {
		return nil, nil, err
	}
	return priv.PublicKey().Bytes(), secret, nil
}

func p256Shared(priv *ecdh.PrivateKey, peerShare []byte) ([]byte, error) {
	peer, err := ecdh.P256().NewPublicKey(peerShare)
	if err != nil {
		return nil, ErrInvalidShare
	}
	secret, err := priv.ECDH(peer)
	if err != nil {
		return nil, ErrInvalidShare
	}
	return secret, nil
}
