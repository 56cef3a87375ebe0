package handshake

import (
	"errors"
	"fmt"
	"io"

	"github.com/waldgrave/tls13/alert"
	"github.com/waldgrave/tls13/cert"
	"github.com/waldgrave/tls13/keyschedule"
	"github.com/waldgrave/tls13/record"
	"github.com/waldgrave/tls13/suite"
	"github.com/waldgrave/tls13/transcript"
)

// ClientMachine drives the client side of the handshake state machine
// (spec.md §4.4): start → wait_sh → wait_ee → wait_cert_or_cr →
// wait_cert → wait_cv → wait_finished → connected.
//
// Grounded on markkurossi-ephemelier/crypto/tls/tls.go's handshake driver
// shape (one struct owning the transcript, the negotiated suite/group,
// and the current state, stepping forward as messages arrive) and on
// keploy-keploy's tlsHandler/handshake.go record-type dispatch loop.
type ClientMachine struct {
	Registry   *suite.Registry
	Callbacks  *cert.Callbacks
	ServerName string

	state   ClientState
	suite   *suite.CipherSuite
	trans   *transcript.Hash
	secrets *keyschedule.Secrets
	msgs    messageBuf

	prepared map[suite.GroupID]suite.Prepared
	hrrSeen  bool

	// preLog holds raw ClientHello bytes sent before the negotiated
	// cipher suite (and therefore the transcript hash algorithm) is
	// known. ensureTranscript replays them once it is.
	preLog [][]byte

	requestedAuth  bool
	requestSchemes []cert.SignatureScheme
	activeVerifier cert.Verifier

	clientHSSecret, serverHSSecret   []byte
	clientAppSecret, serverAppSecret []byte
}

// State reports the machine's current client state, primarily for tests.
func (m *ClientMachine) State() ClientState { return m.state }

// Advance drives the client machine as far forward as currently buffered
// input allows, reading from and writing to layer, appending any output
// records to out. It returns StatusOK exactly once, when the handshake
// completes; every other return is StatusInProgress (more input needed)
// or a non-nil error (the handshake must be abandoned).
func (m *ClientMachine) Advance(layer *record.Layer, out *record.Buffer) (Status, error) {
	if m.state == ClientStart {
		if err := m.sendClientHello(layer, out, nil); err != nil {
			return StatusInProgress, err
		}
		m.state = ClientWaitSH
	}

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

func (m *ClientMachine) step(layer *record.Layer, out *record.Buffer) (progressed bool, status Status, err error) {
	switch m.state {
	case ClientWaitSH:
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		if typ != TypeServerHello {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected ServerHello, got type %d", typ))
		}
		sh, err := ParseServerHello(body)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.DecodeError, err)
		}
		if sh.IsHRR {
			if m.hrrSeen {
				return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: second HelloRetryRequest"))
			}
			m.hrrSeen = true
			if err := m.handleHRR(layer, out, raw, sh); err != nil {
				return false, StatusInProgress, err
			}
			return true, StatusInProgress, nil
		}
		if err := m.handleServerHello(layer, raw, sh); err != nil {
			return false, StatusInProgress, err
		}
		m.state = ClientWaitEE
		return true, StatusInProgress, nil

	case ClientWaitEE:
		typ, _, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		if typ != TypeEncryptedExtensions {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected EncryptedExtensions, got type %d", typ))
		}
		m.trans.Update(raw)
		m.state = ClientWaitCertOrCR
		return true, StatusInProgress, nil

	case ClientWaitCertOrCR:
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		switch typ {
		case TypeCertificateRequest:
			cr, err := ParseCertificateRequest(body)
			if err != nil {
				return false, StatusInProgress, alert.Self(alert.DecodeError, err)
			}
			m.requestedAuth = true
			m.requestSchemes = cr.SignatureSchemes
			m.trans.Update(raw)
			m.state = ClientWaitCert
			return true, StatusInProgress, nil
		case TypeCertificate:
			if err := m.handleCertificate(body, raw); err != nil {
				return false, StatusInProgress, err
			}
			m.state = ClientWaitCV
			return true, StatusInProgress, nil
		default:
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected Certificate or CertificateRequest, got type %d", typ))
		}

	case ClientWaitCert:
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		if typ != TypeCertificate {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected Certificate, got type %d", typ))
		}
		if err := m.handleCertificate(body, raw); err != nil {
			return false, StatusInProgress, err
		}
		m.state = ClientWaitCV
		return true, StatusInProgress, nil

	case ClientWaitCV:
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		if typ != TypeCertificateVerify {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected CertificateVerify, got type %d", typ))
		}
		cv, err := ParseCertificateVerify(body)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.DecodeError, err)
		}
		digest := m.trans.Snapshot()
		context := certificateVerifyContext(true, digest)
		verifyErr := m.verifier(context, cv.Signature)
		cert.ReleaseVerifier(m.activeVerifier)
		m.activeVerifier = nil
		if verifyErr != nil {
			return false, StatusInProgress, alert.Self(alert.DecryptError, verifyErr)
		}
		m.trans.Update(raw)
		m.state = ClientWaitFinished
		return true, StatusInProgress, nil

	case ClientWaitFinished:
		typ, body, raw, ok, err := m.msgs.next()
		if err != nil {
			return false, StatusInProgress, err
		}
		if !ok {
			return false, StatusInProgress, nil
		}
		if typ != TypeFinished {
			return false, StatusInProgress, alert.Self(alert.UnexpectedMessage, fmt.Errorf("handshake: expected Finished, got type %d", typ))
		}
		f, err := ParseFinished(body)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.DecodeError, err)
		}
		digest := m.trans.Snapshot()
		finishedKey := m.secrets.FinishedKey(m.serverHSSecret)
		if !keyschedule.VerifyFinished(m.suite.Hash, finishedKey, digest, f.VerifyData) {
			keyschedule.Wipe(finishedKey)
			return false, StatusInProgress, alert.Self(alert.DecryptError, fmt.Errorf("handshake: server Finished verification failed"))
		}
		keyschedule.Wipe(finishedKey)
		m.trans.Update(raw)

		appDigest := m.trans.Snapshot()
		m.clientAppSecret, m.serverAppSecret = m.secrets.DeriveApplicationSecrets(appDigest)

		serverAppKey, serverAppIV := m.secrets.TrafficKeyIV(m.serverAppSecret, m.suite.KeySize, m.suite.NonceSize)
		serverAppAEAD, err := m.suite.NewAEAD(serverAppKey)
		keyschedule.Wipe(serverAppKey)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.InternalError, err)
		}
		layer.SetReadCipher(record.NewCipher(serverAppAEAD, serverAppIV))

		if err := m.sendClientAuthAndFinished(layer, out); err != nil {
			return false, StatusInProgress, err
		}

		clientAppKey, clientAppIV := m.secrets.TrafficKeyIV(m.clientAppSecret, m.suite.KeySize, m.suite.NonceSize)
		clientAppAEAD, err := m.suite.NewAEAD(clientAppKey)
		keyschedule.Wipe(clientAppKey)
		if err != nil {
			return false, StatusInProgress, alert.Self(alert.InternalError, err)
		}
		layer.SetWriteCipher(record.NewCipher(clientAppAEAD, clientAppIV))

		keyschedule.Wipe(m.clientHSSecret)
		keyschedule.Wipe(m.serverHSSecret)
		m.state = ClientConnected
		return true, StatusOK, nil

	default:
		return false, StatusInProgress, nil
	}
}

// ensureTranscript creates the transcript hash using the hash algorithm of
// cipherSuiteID once it is known (from either a real ServerHello or a
// HelloRetryRequest, both of which carry cipher_suite per RFC 8446 §4.1.4),
// replaying any ClientHello bytes sent before that point. It is a no-op on
// later calls.
func (m *ClientMachine) ensureTranscript(cipherSuiteID uint16) error {
	if m.trans != nil {
		return nil
	}
	s := m.Registry.SuiteByID(cipherSuiteID)
	if s == nil {
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: server chose an unoffered cipher suite"))
	}
	m.suite = s
	m.trans = transcript.New(s.Hash)
	for _, raw := range m.preLog {
		m.trans.Update(raw)
	}
	m.preLog = nil
	return nil
}

func (m *ClientMachine) sendClientHello(layer *record.Layer, out *record.Buffer, retryGroup *suite.GroupID) error {
	if m.prepared == nil {
		m.prepared = map[suite.GroupID]suite.Prepared{}
	}

	ch := &ClientHello{
		SessionID:         []byte{},
		SupportedVersions: []uint16{0x0304},
		ServerName:        m.ServerName,
		KeyShares:         map[uint16][]byte{},
	}
	if _, err := io.ReadFull(m.Registry.Rand, ch.Random[:]); err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	for _, s := range m.Registry.Suites {
		ch.CipherSuites = append(ch.CipherSuites, s.ID)
	}
	for _, g := range m.Registry.Groups {
		ch.SupportedGroups = append(ch.SupportedGroups, uint16(g.ID))
	}
	ch.SignatureSchemes = []cert.SignatureScheme{cert.SignatureSchemeEd25519, cert.SignatureSchemeECDSASecp256r1SHA256}

	groupsToOffer := m.Registry.Groups
	if retryGroup != nil {
		groupsToOffer = nil
		if g := m.Registry.GroupByID(*retryGroup); g != nil {
			groupsToOffer = []*suite.Group{g}
		}
	} else if len(m.Registry.Groups) > 1 {
		groupsToOffer = m.Registry.Groups[:1]
	}
	for _, g := range groupsToOffer {
		prepared, share, err := g.Prepare(m.Registry.Rand)
		if err != nil {
			return alert.Internal(alert.ErrLibraryBug, err)
		}
		m.prepared[g.ID] = prepared
		ch.KeyShares[uint16(g.ID)] = share
		ch.KeyShareOrder = append(ch.KeyShareOrder, uint16(g.ID))
	}

	raw, err := ch.Marshal()
	if err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	if m.trans != nil {
		m.trans.Update(raw)
	} else {
		m.preLog = append(m.preLog, raw)
	}
	return layer.WriteMessage(out, record.ContentTypeHandshake, raw)
}

func (m *ClientMachine) handleHRR(layer *record.Layer, out *record.Buffer, raw []byte, sh *ServerHello) error {
	if err := m.ensureTranscript(sh.CipherSuite); err != nil {
		return err
	}
	digest := m.trans.Snapshot()
	messageHashBody := make([]byte, 4+len(digest))
	messageHashBody[0] = 254 // message_hash (RFC 8446 §4.4.1)
	messageHashBody[1] = byte(len(digest) >> 16)
	messageHashBody[2] = byte(len(digest) >> 8)
	messageHashBody[3] = byte(len(digest))
	copy(messageHashBody[4:], digest)
	m.trans.ReplaceWithMessageHash(messageHashBody)
	m.trans.Update(raw)

	group := suite.GroupID(sh.RequestedGroup)
	if m.Registry.GroupByID(group) == nil {
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: HelloRetryRequest named an unsupported group"))
	}
	return m.sendClientHello(layer, out, &group)
}

func (m *ClientMachine) handleServerHello(layer *record.Layer, raw []byte, sh *ServerHello) error {
	if err := m.ensureTranscript(sh.CipherSuite); err != nil {
		return err
	}
	prepared, ok := m.prepared[suite.GroupID(sh.KeyShareGroup)]
	if !ok {
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: server chose a group with no prepared share"))
	}
	sharedSecret, err := prepared.Finish(sh.KeyShare)
	if err != nil {
		return alert.Self(alert.HandshakeFailure, err)
	}
	defer keyschedule.Wipe(sharedSecret)

	m.trans.Update(raw)
	m.secrets = keyschedule.New(m.suite.Hash)
	digest := m.trans.Snapshot()
	m.clientHSSecret, m.serverHSSecret = m.secrets.DeriveHandshakeSecrets(sharedSecret, digest)

	serverKey, serverIV := m.secrets.TrafficKeyIV(m.serverHSSecret, m.suite.KeySize, m.suite.NonceSize)
	serverAEAD, err := m.suite.NewAEAD(serverKey)
	keyschedule.Wipe(serverKey)
	if err != nil {
		return alert.Self(alert.InternalError, err)
	}
	layer.SetReadCipher(record.NewCipher(serverAEAD, serverIV))

	clientKey, clientIV := m.secrets.TrafficKeyIV(m.clientHSSecret, m.suite.KeySize, m.suite.NonceSize)
	clientAEAD, err := m.suite.NewAEAD(clientKey)
	keyschedule.Wipe(clientKey)
	if err != nil {
		return alert.Self(alert.InternalError, err)
	}
	layer.SetWriteCipher(record.NewCipher(clientAEAD, clientIV))
	return nil
}

func (m *ClientMachine) verifier(context, signature []byte) error {
	// set by handleCertificate; kept as a field-less closure call site so
	// CertificateVerify handling above reads uniformly regardless of
	// whether the peer authenticated or the chain was rejected.
	if m.activeVerifier == nil {
		return fmt.Errorf("handshake: CertificateVerify with no Certificate on file")
	}
	return m.activeVerifier(context, signature)
}

func (m *ClientMachine) handleCertificate(body, raw []byte) error {
	msg, err := ParseCertificateMessage(body)
	if err != nil {
		return alert.Self(alert.DecodeError, err)
	}
	if len(msg.Chain) == 0 {
		return alert.Self(alert.HandshakeFailure, fmt.Errorf("handshake: empty certificate chain"))
	}
	verifier, err := m.Callbacks.Verify(msg.Chain)
	if err != nil {
		return classifyCertError(err)
	}
	m.activeVerifier = verifier
	m.trans.Update(raw)
	return nil
}

func (m *ClientMachine) sendClientAuthAndFinished(layer *record.Layer, out *record.Buffer) error {
	if m.requestedAuth {
		var chain cert.Chain
		var scheme cert.SignatureScheme
		var signer cert.Signer
		if m.Callbacks.Lookup != nil {
			chain, scheme, signer, _ = m.Callbacks.Lookup(m.ServerName, m.requestSchemes)
		}
		certMsg := &CertificateMessage{Chain: chain}
		raw, err := certMsg.Marshal()
		if err != nil {
			return alert.Internal(alert.ErrLibraryBug, err)
		}
		m.trans.Update(raw)
		if err := layer.WriteMessage(out, record.ContentTypeHandshake, raw); err != nil {
			return alert.Internal(alert.ErrLibraryBug, err)
		}

		if len(chain) > 0 {
			digest := m.trans.Snapshot()
			context := certificateVerifyContext(false, digest)
			sig, err := signer(context)
			if err != nil {
				cert.ReleaseSigner(signer)
				return alert.Self(alert.InternalError, err)
			}
			cert.ReleaseSigner(signer)
			cv := &CertificateVerify{Scheme: scheme, Signature: sig}
			raw, err := cv.Marshal()
			if err != nil {
				return alert.Internal(alert.ErrLibraryBug, err)
			}
			m.trans.Update(raw)
			if err := layer.WriteMessage(out, record.ContentTypeHandshake, raw); err != nil {
				return alert.Internal(alert.ErrLibraryBug, err)
			}
		}
	}

	digest := m.trans.Snapshot()
	finishedKey := m.secrets.FinishedKey(m.clientHSSecret)
	verifyData := keyschedule.FinishedMAC(m.suite.Hash, finishedKey, digest)
	keyschedule.Wipe(finishedKey)
	f := &Finished{VerifyData: verifyData}
	raw, err := f.Marshal()
	if err != nil {
		return alert.Internal(alert.ErrLibraryBug, err)
	}
	m.trans.Update(raw)
	return layer.WriteMessage(out, record.ContentTypeHandshake, raw)
}

// classifyCertError implements spec.md §7's propagation policy for
// certificate-callback errors: used verbatim if already alert-classed,
// wrapped as handshake_failure otherwise.
func classifyCertError(err error) error {
	var ae *alert.Error
	if errors.As(err, &ae) {
		return ae
	}
	return alert.Self(alert.HandshakeFailure, err)
}
