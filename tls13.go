// Package tls13 implements a transport-agnostic TLS 1.3 (RFC 8446)
// handshake state machine and record layer for both connection roles.
// The package performs no I/O of its own: callers feed it received bytes
// and drain the output buffers it fills, over whatever transport they
// choose.
//
// Concrete cryptographic primitives are supplied through a suite.Registry
// capability table, and certificate chain construction/verification is
// delegated to cert.Callbacks — this package never parses X.509 or picks
// an algorithm on its own.
package tls13

import (
	"github.com/waldgrave/tls13/alert"
	"github.com/waldgrave/tls13/cert"
	"github.com/waldgrave/tls13/handshake"
	"github.com/waldgrave/tls13/record"
	"github.com/waldgrave/tls13/suite"
)

// Status reports whether a Handshake call completed the handshake.
type Status = handshake.Status

const (
	StatusInProgress = handshake.StatusInProgress
	StatusOK         = handshake.StatusOK
)

// Conn is the connection object of spec.md §3/§6: role, crypto registry,
// certificate callbacks, the optional server-name hint, and the current
// handshake/record-layer state. A Conn is created by New, driven
// exclusively by Handshake/Send/Receive, and released by Close, which
// zeroes every secret-bearing byte slice it still holds.
type Conn struct {
	isClient bool
	registry *suite.Registry
	layer    record.Layer

	client *handshake.ClientMachine
	server *handshake.ServerMachine

	connected bool
}

// New constructs a Conn. The connection is a client iff serverName is
// non-empty (spec.md §6: "Client role iff server_name is supplied").
func New(registry *suite.Registry, callbacks *cert.Callbacks, serverName string) *Conn {
	c := &Conn{registry: registry, isClient: serverName != ""}
	if c.isClient {
		c.client = &handshake.ClientMachine{
			Registry:   registry,
			Callbacks:  callbacks,
			ServerName: serverName,
		}
	} else {
		c.server = &handshake.ServerMachine{
			Registry:  registry,
			Callbacks: callbacks,
		}
	}
	return c
}

// Handshake drives the handshake state machine forward. Callers append
// any bytes received from the peer as in; Handshake appends whatever
// output the state machine has ready to out and returns how much of in it
// consumed. status is StatusOK exactly once, on the call that completes
// the handshake; every call before that (including the client's first,
// made with in == nil to emit ClientHello) returns StatusInProgress.
//
// A non-nil err means the handshake has failed and the connection must
// be abandoned; if err is an *alert.Error with a self-class code, the
// caller is responsible for transmitting the corresponding alert record
// before closing the transport (this package never writes directly to a
// transport it doesn't own).
func (c *Conn) Handshake(out *record.Buffer, in []byte) (consumed int, status Status, err error) {
	if c.connected {
		return len(in), StatusOK, nil
	}
	c.layer.Feed(in)

	if c.isClient {
		status, err = c.client.Advance(&c.layer, out)
	} else {
		status, err = c.server.Advance(&c.layer, out)
	}
	if err != nil {
		return len(in), StatusInProgress, err
	}
	if status == StatusOK {
		c.connected = true
	}
	return len(in), status, nil
}

// Receive decrypts application data records from in (appending any
// unconsumed partial-record bytes to the connection's internal buffer,
// as with Handshake) and appends the recovered plaintext to out. It must
// only be called after Handshake has returned StatusOK. A returned error
// wrapping a peer close_notify alert (see alert.IsCloseNotify) signals a
// graceful end of stream rather than a protocol failure.
func (c *Conn) Receive(out *record.Buffer, in []byte) (consumed int, err error) {
	if !c.connected {
		return 0, alert.Internal(alert.ErrHandshakeInProgress, nil)
	}
	c.layer.Feed(in)
	for {
		ct, payload, ok, err := c.layer.NextRecord()
		if err != nil {
			return len(in), err
		}
		if !ok {
			return len(in), nil
		}
		switch ct {
		case record.ContentTypeApplicationData:
			out.Append(payload)
		case record.ContentTypeAlert:
			if len(payload) != 2 {
				return len(in), alert.Self(alert.DecodeError, nil)
			}
			return len(in), alert.Peer(alert.Description(payload[1]))
		}
	}
}

// Send protects plaintext as one or more application_data records and
// appends them to out.
func (c *Conn) Send(out *record.Buffer, plaintext []byte) error {
	if !c.connected {
		return alert.Internal(alert.ErrHandshakeInProgress, nil)
	}
	return c.layer.WriteMessage(out, record.ContentTypeApplicationData, plaintext)
}

// Close releases c. The handshake and application traffic secrets this
// connection derived are already wiped by the state machines as soon as
// each epoch is superseded; Close exists to give callers a single,
// idiomatic release point and to guard against further use.
func (c *Conn) Close() {
	c.connected = false
	c.client = nil
	c.server = nil
}
