package handshake

import (
	"fmt"
	"io"

	"github.com/waldgrave/tls13/alert"
	"github.com/waldgrave/tls13/cert"
	"github.com/waldgrave/tls13/keyschedule"
	"github.com/waldgrave/tls13/record"
	"github.com/waldgrave/tls13/suite"
	"github.com/waldgrave/tls13/transcript"
)

// ServerMachine drives the server side of the handshake state machine
// (spec.md §4.4): start → received_ch → negotiated → wait_finished →
// connected.
type ServerMachine struct {
	Registry  *suite.Registry
	Callbacks *cert.Callbacks

	// RequestClientAuth, if true, makes the server request a client
	// certificate after EncryptedExtensions. Initial (not post-handshake)
	// client authentication is in scope per spec.md's Non-goals, which
	// exclude only post-handshake client auth.
	RequestClientAuth bool

	state   ServerState
	suite   *suite.CipherSuite
	trans   *transcript.Hash
	secrets *keyschedule.Secrets
	msgs    messageBuf

	signer         cert.Signer
	clientAuth     bool
	clientVerifier cert.Verifier
	clientChainSeen bool

	clientHSSecret, serverHSSecret   []byte
	clientAppSecret, serverAppSecret []byte
}

// State reports the machine's current server state, primarily for tests.
func (m *ServerMachine) State() ServerState { return m.state }

// Advance drives the server machine as far forward as currently buffered
// input allows. See ClientMachine.Advance for the calling convention.
func (m *ServerMachine) Advance(layer *record.Layer, out *record.Buffer) (Status, error) {
	if err := drainRecords(layer, &m.msgs); err != nil {
		return StatusInProgress, err
	}

	for {
		progressed, status, err := m.step(layer, out)
		if err != nil {
			return StatusInProgress, err
		}
		if status == StatusOK {
			return StatusOK, nil
		}
		if !progressed {
			return StatusInProgress, nil
		}
	}
}

func (m *ServerMachine) step(layer *record.Layer, out *record.Buffer) (progressed bool, status Status, err error) {
	switch m.state {
	case ServerStart:
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		if typ != TypeClientHello {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected ClientHello, got type %d", typ))
		}
		ch, err := ParseClientHello(body)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.DecodeError, err)
		}
		if err := m.handleClientHello(layer, out, raw, ch); err != nil {
			return false, StatusInProgress, err
		}
		return true, StatusInProgress, nil

	case ServerReceivedCH:
		// A HelloRetryRequest was sent; wait for the client's second
		// ClientHello, carrying a share for the requested group.
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		if typ != TypeClientHello {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected second ClientHello, got type %d", typ))
		}
		ch, err := ParseClientHello(body)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.DecodeError, err)
		}
		// The transcript was already replaced with a synthetic
		// message_hash record and fed the HelloRetryRequest in
		// handleClientHello; just append this second ClientHello.
		if err := m.negotiateAndRespond(layer, out, raw, ch); err != nil {
			return false, StatusInProgress, err
		}
		return true, StatusInProgress, nil

	case ServerWaitFinished:
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}

		if m.clientAuth && !m.clientChainSeen {
			switch typ {
			case TypeCertificate:
				msg, err := ParseCertificateMessage(body)
				if err != nil {
					return false, StatusInProgress, alert.Self(alert.DecodeError, err)
				}
				m.clientChainSeen = true
				if len(msg.Chain) > 0 {
					verifier, err := m.Callbacks.Verify(msg.Chain)
					if err != nil {
						return false, StatusInProgress, classifyCertError(err)
					}
					m.clientVerifier = verifier
				}
				m.trans.Update(raw)
				return true, StatusInProgress, nil
			default:
				return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected client Certificate, got type %d", typ))
			}
		}
		if m.clientVerifier != nil && typ == TypeCertificateVerify {
			cv, err := ParseCertificateVerify(body)
			if err != nil {
				return false, StatusInProgress, alert.Self(alert.DecodeError, err)
			}
			digest := m.trans.Snapshot()
			context := certificateVerifyContext(false, digest)
			if err := m.clientVerifier(context, cv.Signature); err != nil {
				return false, StatusInProgress, alert.Self(alert.DecryptError, err)
			}
			cert.ReleaseVerifier(m.clientVerifier)
			m.clientVerifier = nil
			m.trans.Update(raw)
			return true, StatusInProgress, nil
		}

		if typ != TypeFinished {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected client Finished, got type %d", typ))
		}
		f, err := ParseFinished(body)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.DecodeError, err)
		}
		digest := m.trans.Snapshot()
		finishedKey := m.secrets.FinishedKey(m.clientHSSecret)
		ok2 := keyschedule.VerifyFinished(m.suite.Hash, finishedKey, digest, f.VerifyData)
		keyschedule.Wipe(finishedKey)
		if !ok2 {
			return false, StatusInProgress, alert.Self(alert.DecryptError, fmt.Errorf("handshake: client Finished verification failed"))
		}
		m.trans.Update(raw)

		clientAppKey, clientAppIV := m.secrets.TrafficKeyIV(m.clientAppSecret, m.suite.KeySize, m.suite.NonceSize)
		clientAppAEAD, err := m.suite.NewAEAD(clientAppKey)
		keyschedule.Wipe(clientAppKey)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.InternalError, err)
		}
		layer.SetReadCipher(record.NewCipher(clientAppAEAD, clientAppIV))

		keyschedule.Wipe(m.clientHSSecret)
		keyschedule.Wipe(m.serverHSSecret)
		m.state = ServerConnected
		return true, StatusOK, nil

	default:
		return false, StatusInProgress, nil
	}
}

func syntheticMessageHash(digest []byte) []byte {
	body := make([]byte, 4+len(digest))
	body[0] = 254
	body[1] = byte(len(digest) >> 16)
	body[2] = byte(len(digest) >> 8)
	body[3] = byte(len(digest))
	copy(body[4:], digest)
	return body
}

func (m *ServerMachine) handleClientHello(layer *record.Layer, out *record.Buffer, raw []byte, ch *ClientHello) error {
	m.suite = negotiateSuite(m.Registry, ch.CipherSuites)
	if m.suite == nil {
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: no common cipher suite"))
	}
	m.trans = transcript.New(m.suite.Hash)
	m.trans.Update(raw)

	group, share := negotiateGroupShare(m.Registry, ch.SupportedGroups, ch.KeyShares)
	if group == nil {
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: no common key-exchange group"))
	}
	if share == nil {
		sh := &ServerHello{IsHRR: true, CipherSuite: m.suite.ID, RequestedGroup: uint16(group.ID)}
		hrrRaw, err := sh.Marshal()
		if err != nil {
			return alert.Internal(alert.ErrLibraryBug, err)
		}
		// RFC 8446 §4.4.1: fold the first ClientHello out of the live
		// transcript into a synthetic message_hash record *before*
		// appending the HelloRetryRequest, so the transcript becomes
		// Hash(message_hash(CH1) || HRR || CH2 || ...) rather than
		// Hash(CH1 || HRR || CH2 || ...).
		ch1Digest := m.trans.Snapshot()
		m.trans.ReplaceWithMessageHash(syntheticMessageHash(ch1Digest))
		m.trans.Update(hrrRaw)
		if err := layer.WriteMessage(out, record.ContentTypeHandshake, hrrRaw); err != nil {
			return alert.Internal(alert.ErrLibraryBug, err)
		}
		m.state = ServerReceivedCH
		return nil
	}

	return m.negotiateAndRespond(layer, out, raw, ch)
}

// negotiateAndRespond completes negotiation from a ClientHello that
// carries a usable key share (either the client's first offer, or its
// post-HRR retry), emitting ServerHello through server Finished.
func (m *ServerMachine) negotiateAndRespond(layer *record.Layer, out *record.Buffer, raw []byte, ch *ClientHello) error {
	if m.state == ServerReceivedCH {
		m.suite = negotiateSuite(m.Registry, ch.CipherSuites)
		if m.suite == nil {
			return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: no common cipher suite"))
		}
		m.trans.Update(raw)
	}

	group, share := negotiateGroupShare(m.Registry, ch.SupportedGroups, ch.KeyShares)
	if group == nil || share == nil {
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: client did not retry with a usable key share"))
	}

	chain, scheme, signer, err := m.Callbacks.Lookup(ch.ServerName, ch.SignatureSchemes)
	if err != nil {
		return classifyCertError(err)
	}
	if len(chain) == 0 {
		cert.ReleaseSigner(signer)
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: lookup returned an empty certificate chain"))
	}
	m.signer = signer

	ownShare, sharedSecret, err := group.Exchange(m.Registry.Rand, share)
	if err != nil {
		return alert.Self(alert.HandshakeFailure, err)
	}
	defer keyschedule.Wipe(sharedSecret)

	sh := &ServerHello{CipherSuite: m.suite.ID, KeyShareGroup: uint16(group.ID), KeyShare: ownShare}
	if _, err := readRandom(m.Registry.Rand, sh.Random[:]); err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	shRaw, err := sh.Marshal()
	if err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	m.trans.Update(shRaw)
	if err := layer.WriteMessage(out, record.ContentTypeHandshake, shRaw); err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}

	m.secrets = keyschedule.New(m.suite.Hash)
	digest := m.trans.Snapshot()
	m.clientHSSecret, m.serverHSSecret = m.secrets.DeriveHandshakeSecrets(sharedSecret, digest)

	clientKey, clientIV := m.secrets.TrafficKeyIV(m.clientHSSecret, m.suite.KeySize, m.suite.NonceSize)
	clientAEAD, err := m.suite.NewAEAD(clientKey)
	keyschedule.Wipe(clientKey)
	if err != nil {
		return alert.Self(alert.InternalError, err)
	}
	layer.SetReadCipher(record.NewCipher(clientAEAD, clientIV))

	serverKey, serverIV := m.secrets.TrafficKeyIV(m.serverHSSecret, m.suite.KeySize, m.suite.NonceSize)
	serverAEAD, err := m.suite.NewAEAD(serverKey)
	keyschedule.Wipe(serverKey)
	if err != nil {
		return alert.Self(alert.InternalError, err)
	}
	layer.SetWriteCipher(record.NewCipher(serverAEAD, serverIV))

	ee := EncryptedExtensions{}
	eeRaw, err := ee.Marshal()
	if err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	m.trans.Update(eeRaw)
	if err := layer.WriteMessage(out, record.ContentTypeHandshake, eeRaw); err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}

	if m.RequestClientAuth {
		cr := &CertificateRequest{SignatureSchemes: []cert.SignatureScheme{cert.SignatureSchemeEd25519, cert.SignatureSchemeECDSASecp256r1SHA256}}
		crRaw, err := cr.Marshal()
		if err != nil {
			return alert.Internal(alert.ErrLibraryBug, err)
		}
		m.trans.Update(crRaw)
		if err := layer.WriteMessage(out, record.ContentTypeHandshake, crRaw); err != nil {
			return alert.Internal(alert.ErrLibraryBug, err)
		}
		m.clientAuth = true
	}

	certMsg := &CertificateMessage{Chain: chain}
	certRaw, err := certMsg.Marshal()
	if err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	m.trans.Update(certRaw)
	if err := layer.WriteMessage(out, record.ContentTypeHandshake, certRaw); err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}

	cvDigest := m.trans.Snapshot()
	context := certificateVerifyContext(true, cvDigest)
	sig, err := m.signer(context)
	if err != nil {
		cert.ReleaseSigner(m.signer)
		return alert.Self(alert.InternalError, err)
	}
	cv := &CertificateVerify{Scheme: scheme, Signature: sig}
	cvRaw, err := cv.Marshal()
	if err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	m.trans.Update(cvRaw)
	if err := layer.WriteMessage(out, record.ContentTypeHandshake, cvRaw); err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	cert.ReleaseSigner(m.signer)
	m.signer = nil

	fDigest := m.trans.Snapshot()
	finishedKey := m.secrets.FinishedKey(m.serverHSSecret)
	verifyData := keyschedule.FinishedMAC(m.suite.Hash, finishedKey, fDigest)
	keyschedule.Wipe(finishedKey)
	finished := &Finished{VerifyData: verifyData}
	finishedRaw, err := finished.Marshal()
	if err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	m.trans.Update(finishedRaw)
	if err := layer.WriteMessage(out, record.ContentTypeHandshake, finishedRaw); err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}

	appDigest := m.trans.Snapshot()
	m.clientAppSecret, m.serverAppSecret = m.secrets.DeriveApplicationSecrets(appDigest)

	serverAppKey, serverAppIV := m.secrets.TrafficKeyIV(m.serverAppSecret, m.suite.KeySize, m.suite.NonceSize)
	serverAppAEAD, err := m.suite.NewAEAD(serverAppKey)
	keyschedule.Wipe(serverAppKey)
	if err != nil {
		return alert.Self(alert.InternalError, err)
	}
	layer.SetWriteCipher(record.NewCipher(serverAppAEAD, serverAppIV))

	m.state = ServerWaitFinished
	return nil
}

func negotiateSuite(r *suite.Registry, offered []uint16) *suite.CipherSuite {
	for _, s := range r.Suites {
		for _, id := range offered {
			if s.ID == id {
				return s
			}
		}
	}
	return nil
}

// negotiateGroupShare picks, in server preference order, the first
// mutually supported group for which the client supplied a share. If no
// mutual group has a share, it falls back to the first mutual group with
// a nil share, which the caller turns into a HelloRetryRequest naming
// that group (spec.md §4.4).
func negotiateGroupShare(r *suite.Registry, offeredGroups []uint16, shares map[uint16][]byte) (*suite.Group, []byte) {
	var fallback *suite.Group
	for _, g := range r.Groups {
		for _, og := range offeredGroups {
			if uint16(g.ID) != og {
				continue
			}
			if share, ok := shares[uint16(g.ID)]; ok {
				return g, share
			}
			if fallback == nil {
				fallback = g
			}
		}
	}
	return fallback, nil
}

func readRandom(r io.Reader, b []byte) (int, error) {
	return io.ReadFull(r, b)
}
