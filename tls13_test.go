package tls13

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/waldgrave/tls13/cert"
	"github.com/waldgrave/tls13/internal/testdata"
	"github.com/waldgrave/tls13/record"
	"github.com/waldgrave/tls13/suite"
)

// driveHandshake ping-pongs client and server until both report StatusOK,
// or fails the test after too many rounds (a stuck handshake is a bug,
// not a slow one, since every call here is purely in-memory).
func driveHandshake(t *testing.T, client, server *Conn) {
	t.Helper()
	var clientOut, serverOut []byte
	clientDone, serverDone := false, false

	for round := 0; round < 20 && !(clientDone && serverDone); round++ {
		if !clientDone {
			var out record.Buffer
			_, status, err := client.Handshake(&out, serverOut)
			if err != nil {
				t.Fatalf("client.Handshake: %v", err)
			}
			serverOut = nil
			clientOut = append(clientOut, out.Bytes()...)
			if status == StatusOK {
				clientDone = true
			}
		}
		if !serverDone {
			var out record.Buffer
			_, status, err := server.Handshake(&out, clientOut)
			if err != nil {
				t.Fatalf("server.Handshake: %v", err)
			}
			clientOut = nil
			serverOut = append(serverOut, out.Bytes()...)
			if status == StatusOK {
				serverDone = true
			}
		}
	}
	if !clientDone || !serverDone {
		t.Fatalf("handshake did not complete within 20 rounds: client=%v server=%v", clientDone, serverDone)
	}
}

func testRegistry(name string) *suite.Registry {
	return &suite.Registry{
		Rand:   testdata.New(name).Reader(),
		Suites: suite.AllCipherSuites,
		Groups: suite.AllGroups,
	}
}

func serverCertCallbacks(pub ed25519.PublicKey, priv ed25519.PrivateKey) *cert.Callbacks {
	chain := cert.Chain{{CertData: []byte("server-leaf-der")}}
	return &cert.Callbacks{
		Lookup: cert.LookupEd25519(chain, priv),
		Verify: cert.VerifyEd25519(pub),
	}
}

func TestHandshakeBasic(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(testdata.New("server-key").Reader())
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	client := New(testRegistry("client"), serverCertCallbacks(serverPub, serverPriv), "example.com")
	server := New(testRegistry("server"), serverCertCallbacks(serverPub, serverPriv), "")

	driveHandshake(t, client, server)

	var out record.Buffer
	if err := client.Send(&out, []byte("hello from client")); err != nil {
		t.Fatalf("client.Send: %v", err)
	}
	var received record.Buffer
	if _, err := server.Receive(&received, out.Bytes()); err != nil {
		t.Fatalf("server.Receive: %v", err)
	}
	if !bytes.Equal(received.Bytes(), []byte("hello from client")) {
		t.Fatalf("server received %q, want %q", received.Bytes(), "hello from client")
	}

	out.Reset()
	if err := server.Send(&out, []byte("hello from server")); err != nil {
		t.Fatalf("server.Send: %v", err)
	}
	received.Reset()
	if _, err := client.Receive(&received, out.Bytes()); err != nil {
		t.Fatalf("client.Receive: %v", err)
	}
	if !bytes.Equal(received.Bytes(), []byte("hello from server")) {
		t.Fatalf("client received %q, want %q", received.Bytes(), "hello from server")
	}
}

// TestHandshakeHelloRetryRequest forces a HelloRetryRequest by giving the
// server a registry that only accepts P-256, while the client (which
// offers its preferred group's share only, per spec.md) offers X25519
// first: the server has no share to work with and must retry.
func TestHandshakeHelloRetryRequest(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(testdata.New("hrr-server-key").Reader())
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	clientRegistry := testRegistry("hrr-client")
	clientRegistry.Groups = []*suite.Group{suite.GroupByID(suite.GroupX25519), suite.GroupByID(suite.GroupSecp256r1)}

	serverRegistry := testRegistry("hrr-server")
	serverRegistry.Groups = []*suite.Group{suite.GroupByID(suite.GroupSecp256r1)}

	client := New(clientRegistry, serverCertCallbacks(serverPub, serverPriv), "example.com")
	server := New(serverRegistry, serverCertCallbacks(serverPub, serverPriv), "")

	driveHandshake(t, client, server)

	var out record.Buffer
	if err := client.Send(&out, []byte("post-retry data")); err != nil {
		t.Fatalf("client.Send: %v", err)
	}
	var received record.Buffer
	if _, err := server.Receive(&received, out.Bytes()); err != nil {
		t.Fatalf("server.Receive: %v", err)
	}
	if !bytes.Equal(received.Bytes(), []byte("post-retry data")) {
		t.Fatalf("server received %q after HelloRetryRequest, want %q", received.Bytes(), "post-retry data")
	}
}

// TestHandshakeMismatchedSuitePreferenceUsesNegotiatedHash exercises the
// case where the client's first-choice cipher suite uses SHA-256 but the
// server only accepts a SHA-384 suite, so the client's transcript hash
// algorithm is not known until the ServerHello arrives.
func TestHandshakeMismatchedSuitePreferenceUsesNegotiatedHash(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(testdata.New("sha384-server-key").Reader())
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	clientRegistry := testRegistry("sha384-client")
	clientRegistry.Suites = []*suite.CipherSuite{suite.AES128GCMSHA256, suite.AES256GCMSHA384}

	serverRegistry := testRegistry("sha384-server")
	serverRegistry.Suites = []*suite.CipherSuite{suite.AES256GCMSHA384}

	client := New(clientRegistry, serverCertCallbacks(serverPub, serverPriv), "example.com")
	server := New(serverRegistry, serverCertCallbacks(serverPub, serverPriv), "")

	driveHandshake(t, client, server)

	var out record.Buffer
	if err := client.Send(&out, []byte("sha384 suite data")); err != nil {
		t.Fatalf("client.Send: %v", err)
	}
	var received record.Buffer
	if _, err := server.Receive(&received, out.Bytes()); err != nil {
		t.Fatalf("server.Receive: %v", err)
	}
	if !bytes.Equal(received.Bytes(), []byte("sha384 suite data")) {
		t.Fatalf("server received %q, want %q", received.Bytes(), "sha384 suite data")
	}
}

func TestHandshakeClientAuth(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(testdata.New("auth-server-key").Reader())
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	clientPub, clientPriv, err := ed25519.GenerateKey(testdata.New("auth-client-key").Reader())
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	clientChain := cert.Chain{{CertData: []byte("client-leaf-der")}}
	clientCallbacks := &cert.Callbacks{
		Lookup: cert.LookupEd25519(clientChain, clientPriv),
		Verify: cert.VerifyEd25519(serverPub),
	}
	serverCallbacks := &cert.Callbacks{
		Lookup: cert.LookupEd25519(cert.Chain{{CertData: []byte("server-leaf-der")}}, serverPriv),
		Verify: cert.VerifyEd25519(clientPub),
	}

	client := New(testRegistry("auth-client"), clientCallbacks, "example.com")
	server := New(testRegistry("auth-server"), serverCallbacks, "")
	server.server.RequestClientAuth = true

	driveHandshake(t, client, server)

	var out record.Buffer
	if err := client.Send(&out, []byte("authenticated client data")); err != nil {
		t.Fatalf("client.Send: %v", err)
	}
	var received record.Buffer
	if _, err := server.Receive(&received, out.Bytes()); err != nil {
		t.Fatalf("server.Receive: %v", err)
	}
	if !bytes.Equal(received.Bytes(), []byte("authenticated client data")) {
		t.Fatalf("server received %q, want %q", received.Bytes(), "authenticated client data")
	}
}

// TestHandshakeClientRejectsFailingRandomSource checks that a client whose
// Rand source errors out fails the handshake cleanly instead of panicking
// or silently sending zeroed randomness.
func TestHandshakeClientRejectsFailingRandomSource(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(testdata.New("rand-fail-server-key").Reader())
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	registry := testRegistry("rand-fail-client")
	registry.Rand = &testdata.ErrReader{Err: errors.New("entropy source unavailable")}

	client := New(registry, serverCertCallbacks(serverPub, serverPriv), "example.com")
	var out record.Buffer
	if _, _, err := client.Handshake(&out, nil); err == nil {
		t.Fatalf("expected Handshake to fail when Rand is broken")
	}
}

func TestHandshakeApplicationDataSurvivesFragmentation(t *testing.T) {
	serverPub, serverPriv, err := ed25519.GenerateKey(testdata.New("frag-server-key").Reader())
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	client := New(testRegistry("frag-client"), serverCertCallbacks(serverPub, serverPriv), "example.com")
	server := New(testRegistry("frag-server"), serverCertCallbacks(serverPub, serverPriv), "")
	driveHandshake(t, client, server)

	msg := bytes.Repeat([]byte{0x5A}, record.MaxPlaintext*2+500)
	var out record.Buffer
	if err := client.Send(&out, msg); err != nil {
		t.Fatalf("client.Send: %v", err)
	}

	wire := out.Bytes()
	var received record.Buffer
	for i := 0; i < len(wire); i += 37 {
		end := min(i+37, len(wire))
		if _, err := server.Receive(&received, wire[i:end]); err != nil {
			t.Fatalf("server.Receive: %v", err)
		}
	}
	if !bytes.Equal(received.Bytes(), msg) {
		t.Fatalf("reassembled application data does not match original (len got=%d want=%d)", received.Len(), len(msg))
	}
}
