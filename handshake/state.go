package handshake

import (
	"fmt"

	"github.com/waldgrave/tls13/alert"
	"github.com/waldgrave/tls13/record"
)

// Status is the result of one Advance call.
type Status int

const (
	StatusInProgress Status = iota
	StatusOK
)

// ClientState is one state of the client state machine (spec.md §4.4):
// start → wait_sh → wait_ee → wait_cert_or_cr → wait_cert → wait_cv →
// wait_finished → connected.
type ClientState int

const (
	ClientStart ClientState = iota
	ClientWaitSH
	ClientWaitEE
	ClientWaitCertOrCR
	ClientWaitCert
	ClientWaitCV
	ClientWaitFinished
	ClientConnected
)

// ServerState is one state of the server state machine: start →
// received_ch → negotiated → wait_finished → connected.
type ServerState int

const (
	ServerStart ServerState = iota
	ServerReceivedCH
	ServerNegotiated
	ServerWaitFinished
	ServerConnected
)

// messageBuf reassembles the concatenated plaintext of successive
// handshake-type records into discrete handshake messages, each framed as
// a 1-byte type + 3-byte big-endian length + body (RFC 8446 §4).
type messageBuf struct {
	buf []byte
}

func (m *messageBuf) feed(p []byte) { m.buf = append(m.buf, p...) }

// next returns the next complete handshake message, or ok=false if fewer
// than one full message is currently buffered. raw is the exact wire
// encoding (header+body), the value the transcript hash must be updated
// with.
func (m *messageBuf) next() (typ Type, body, raw []byte, ok bool, err error) {
	if len(m.buf) < 4 {
		return 0, nil, nil, false, nil
	}
	length := int(m.buf[1])<<16 | int(m.buf[2])<<8 | int(m.buf[3])
	if len(m.buf) < 4+length {
		return 0, nil, nil, false, nil
	}
	typ = Type(m.buf[0])
	raw = append([]byte(nil), m.buf[:4+length]...)
	body = raw[4:]
	m.buf = m.buf[4+length:]
	return typ, body, raw, true, nil
}

// drainRecords pulls every complete record currently buffered in layer
// into msgs (for handshake-type records) or handles it directly (alerts).
// It never blocks waiting for more input: once layer.NextRecord reports
// no full record is available, it returns.
func drainRecords(layer *record.Layer, msgs *messageBuf) error {
	for {
		ct, payload, ok, err := layer.NextRecord()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		switch ct {
		case record.ContentTypeHandshake:
			msgs.feed(payload)
		case record.ContentTypeAlert:
			if len(payload) != 2 {
				return alert.Self(alert.DecodeError, fmt.Errorf("handshake: malformed alert record"))
			}
			code := alert.Description(payload[1])
			if code == alert.CloseNotify {
				return alert.Peer(code)
			}
			return alert.Peer(code)
		case record.ContentTypeApplicationData:
			return alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: application data received before handshake completion"))
		}
	}
}

// encodeAlert builds the 2-byte alert record payload (level + description)
// for description. Every alert this module sends is fatal (level 2); the
// only warning-level alert in RFC 8446 is close_notify sent at teardown,
// which the connection layer handles separately.
func encodeAlertBody(level uint8, description alert.Description) []byte {
	return []byte{level, byte(description)}
}
