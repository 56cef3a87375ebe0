package tls13

import (
	"crypto/ed25519"
	"testing"

	"github.com/waldgrave/tls13/internal/testdata"
	"github.com/waldgrave/tls13/record"
)

// driveHandshakeB is driveHandshake's benchmark-setup counterpart: same
// ping-pong loop, reporting failures through testing.B instead of
// testing.T since *testing.B does not implement *testing.T.
func driveHandshakeB(b *testing.B, client, server *Conn) {
	b.Helper()
	var clientOut, serverOut []byte
	clientDone, serverDone := false, false

	for round := 0; round < 20 && !(clientDone && serverDone); round++ {
		if !clientDone {
			var out record.Buffer
			_, status, err := client.Handshake(&out, serverOut)
			if err != nil {
				b.Fatalf("client.Handshake: %v", err)
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
				b.Fatalf("server.Handshake: %v", err)
			}
			clientOut = nil
			serverOut = append(serverOut, out.Bytes()...)
			if status == StatusOK {
				serverDone = true
			}
		}
	}
	if !clientDone || !serverDone {
		b.Fatalf("handshake did not complete within 20 rounds: client=%v server=%v", clientDone, serverDone)
	}
}

func benchConnPair(b *testing.B) (client, server *Conn) {
	b.Helper()
	serverPub, serverPriv, err := ed25519.GenerateKey(testdata.New("bench-server-key").Reader())
	if err != nil {
		b.Fatalf("GenerateKey: %v", err)
	}
	client = New(testRegistry("bench-client"), serverCertCallbacks(serverPub, serverPriv), "example.com")
	server = New(testRegistry("bench-server"), serverCertCallbacks(serverPub, serverPriv), "")
	driveHandshakeB(b, client, server)
	return client, server
}

// BenchmarkSend measures Conn.Send (AEAD-seal plus record framing) over
// the payload-size sweep in internal/testdata.Sizes, grounded on the
// teacher's bench_schemes_test.go b.Run/b.SetBytes/b.Loop convention.
func BenchmarkSend(b *testing.B) {
	client, server := benchConnPair(b)
	defer client.Close()
	defer server.Close()

	for _, size := range testdata.Sizes {
		b.Run(size.Name, func(b *testing.B) {
			payload := make([]byte, size.N)
			var out record.Buffer
			b.ReportAllocs()
			b.SetBytes(int64(size.N))
			for b.Loop() {
				out.Reset()
				if err := client.Send(&out, payload); err != nil {
					b.Fatalf("Send: %v", err)
				}
			}
		})
	}
}

// BenchmarkReceive measures Conn.Receive (record reassembly plus AEAD-
// open) over the same payload-size sweep, each iteration decrypting a
// record sealed by the peer on the previous iteration's Send.
func BenchmarkReceive(b *testing.B) {
	client, server := benchConnPair(b)
	defer client.Close()
	defer server.Close()

	for _, size := range testdata.Sizes {
		b.Run(size.Name, func(b *testing.B) {
			payload := make([]byte, size.N)
			var wire record.Buffer
			var received record.Buffer
			b.ReportAllocs()
			b.SetBytes(int64(size.N))
			for b.Loop() {
				wire.Reset()
				if err := client.Send(&wire, payload); err != nil {
					b.Fatalf("Send: %v", err)
				}
				received.Reset()
				if _, err := server.Receive(&received, wire.Bytes()); err != nil {
					b.Fatalf("Receive: %v", err)
				}
			}
		})
	}
}
