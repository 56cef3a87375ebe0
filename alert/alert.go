// Package alert implements the TLS 1.3 alert protocol (RFC 8446 §6) and the
// classed 16-bit error space used throughout this module.
//
// An error value's high byte names its class: a fatal condition this side
// wants to send to the peer, an alert received from the peer, or an
// internal failure with no wire representation. The low byte, when the
// class carries one, is the alert description code from RFC 8446 §6.2.
package alert

import (
	"errors"
	"fmt"
)

// Description is an RFC 8446 §6.2 AlertDescription value.
type Description uint8

// Alert descriptions used by this module.
const (
	CloseNotify          Description = 0
	EndOfEarlyData       Description = 1
	UnexpectedMessage    Description = 10
	BadRecordMAC         Description = 20
	HandshakeFailure     Description = 40
	BadCertificate       Description = 42
	CertificateRevoked   Description = 44
	CertificateExpired   Description = 45
	CertificateUnknown   Description = 46
	IllegalParameter     Description = 47
	DecodeError          Description = 50
	DecryptError         Description = 51
	InternalError        Description = 80
	UserCanceled         Description = 90
	MissingExtension     Description = 109
	UnrecognizedName     Description = 112
)

func (d Description) String() string {
	switch d {
	case CloseNotify:
		return "close_notify"
	case EndOfEarlyData:
		return "end_of_early_data"
	case UnexpectedMessage:
		return "unexpected_message"
	case BadRecordMAC:
		return "bad_record_mac"
	case HandshakeFailure:
		return "handshake_failure"
	case BadCertificate:
		return "bad_certificate"
	case CertificateRevoked:
		return "certificate_revoked"
	case CertificateExpired:
		return "certificate_expired"
	case CertificateUnknown:
		return "certificate_unknown"
	case IllegalParameter:
		return "illegal_parameter"
	case DecodeError:
		return "decode_error"
	case DecryptError:
		return "decrypt_error"
	case InternalError:
		return "internal_error"
	case UserCanceled:
		return "user_canceled"
	case MissingExtension:
		return "missing_extension"
	case UnrecognizedName:
		return "unrecognized_name"
	default:
		return fmt.Sprintf("alert(%d)", uint8(d))
	}
}

// Class partitions the 16-bit error space into three ranges (spec §6).
type Class uint16

const (
	// ClassSelf is a fatal condition this side wants to send as an alert.
	ClassSelf Class = 0x0000
	// ClassPeer is an alert received from the peer.
	ClassPeer Class = 0x0100
	// ClassInternal is an internal error with no wire representation.
	ClassInternal Class = 0x0200
)

// Internal-class codes (spec §6).
const (
	ErrOutOfMemory           Description = 0x01
	ErrHandshakeInProgress   Description = 0x02
	ErrLibraryBug            Description = 0x03
	ErrIncompatibleKey       Description = 0x04
)

// Error is a classed protocol error: either an alert this side is about to
// send, an alert received from the peer, or an internal failure.
type Error struct {
	Class Class
	Code  Description
	// Err, if non-nil, gives additional context for internal errors.
	Err error
}

func (e *Error) Error() string {
	switch e.Class {
	case ClassPeer:
		return fmt.Sprintf("tls13: received alert: %s", e.Code)
	case ClassInternal:
		if e.Err != nil {
			return fmt.Sprintf("tls13: internal error %#x: %s", uint8(e.Code), e.Err)
		}
		return fmt.Sprintf("tls13: internal error %#x", uint8(e.Code))
	default:
		if e.Err != nil {
			return fmt.Sprintf("tls13: alert %s: %s", e.Code, e.Err)
		}
		return fmt.Sprintf("tls13: alert %s", e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Value returns the packed 16-bit error value described in spec §6.
func (e *Error) Value() uint16 {
	return uint16(e.Class) | uint16(e.Code)
}

// Self constructs a fatal condition this side will alert the peer about.
func Self(code Description, err error) *Error {
	return &Error{Class: ClassSelf, Code: code, Err: err}
}

// Peer constructs an error representing an alert received from the peer.
func Peer(code Description) *Error {
	return &Error{Class: ClassPeer, Code: code}
}

// Internal constructs an internal-class error.
func Internal(code Description, err error) *Error {
	return &Error{Class: ClassInternal, Code: code, Err: err}
}

// IsCloseNotify reports whether err is a peer-class close_notify, which is
// surfaced to callers as an ordinary end-of-stream rather than a failure.
func IsCloseNotify(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Class == ClassPeer && ae.Code == CloseNotify
}
