package keyschedule

import (
	"bytes"
	"crypto"
	"testing"

	"golang.org/x/crypto/hkdf"
)

// TestExpandLabelMatchesRFC8446HkdfLabelEncoding checks ExpandLabel's
// output against an HkdfLabel built independently by hand from RFC 8446
// §7.1's wire format (uint16 length, length-prefixed "tls13 "+label,
// length-prefixed context), fed through the same hkdf.Expand primitive.
func TestExpandLabelMatchesRFC8446HkdfLabelEncoding(t *testing.T) {
	s := New(crypto.SHA256)
	secret := bytes.Repeat([]byte{0x2f}, 32)
	context := bytes.Repeat([]byte{0x9a}, 32)
	label := "c hs traffic"

	var hkdfLabel []byte
	hkdfLabel = append(hkdfLabel, 0x00, 0x20) // length = 32
	fullLabel := []byte("tls13 " + label)
	hkdfLabel = append(hkdfLabel, byte(len(fullLabel)))
	hkdfLabel = append(hkdfLabel, fullLabel...)
	hkdfLabel = append(hkdfLabel, byte(len(context)))
	hkdfLabel = append(hkdfLabel, context...)

	want := make([]byte, 32)
	if _, err := hkdf.Expand(crypto.SHA256.New, secret, hkdfLabel).Read(want); err != nil {
		t.Fatalf("hkdf.Expand: %v", err)
	}

	got := s.ExpandLabel(secret, label, context, 32)
	if !bytes.Equal(got, want) {
		t.Fatalf("ExpandLabel = %x, want %x", got, want)
	}
}

func TestExpandLabelDeterministicAndLabelSensitive(t *testing.T) {
	s := New(crypto.SHA256)
	secret := bytes.Repeat([]byte{0x07}, 32)
	context := []byte("context")

	a := s.ExpandLabel(secret, "key", context, 16)
	b := s.ExpandLabel(secret, "key", context, 16)
	if !bytes.Equal(a, b) {
		t.Fatalf("ExpandLabel not deterministic for identical inputs")
	}
	if len(a) != 16 {
		t.Fatalf("len(a) = %d, want 16", len(a))
	}

	c := s.ExpandLabel(secret, "iv", context, 16)
	if bytes.Equal(a, c) {
		t.Fatalf("ExpandLabel produced identical output for different labels")
	}

	d := s.ExpandLabel(secret, "key", []byte("different"), 16)
	if bytes.Equal(a, d) {
		t.Fatalf("ExpandLabel produced identical output for different contexts")
	}

	e := s.ExpandLabel(secret, "key", context, 32)
	if len(e) != 32 || bytes.Equal(a, e[:16]) {
		t.Fatalf("ExpandLabel output should depend on requested length, not just truncate")
	}
}

func TestDeriveHandshakeSecretsDistinctFromEachOther(t *testing.T) {
	s := New(crypto.SHA256)
	sharedSecret := bytes.Repeat([]byte{0x42}, 32)
	digest := bytes.Repeat([]byte{0x99}, 32)

	clientHS, serverHS := s.DeriveHandshakeSecrets(sharedSecret, digest)
	if bytes.Equal(clientHS, serverHS) {
		t.Fatalf("client and server handshake secrets must differ")
	}
	if got := s.ClientHandshakeTrafficSecret(); !bytes.Equal(got, clientHS) {
		t.Fatalf("ClientHandshakeTrafficSecret() does not match the value just derived")
	}
	if got := s.ServerHandshakeTrafficSecret(); !bytes.Equal(got, serverHS) {
		t.Fatalf("ServerHandshakeTrafficSecret() does not match the value just derived")
	}
}

func TestDeriveApplicationSecretsRequiresHandshakeSecrets(t *testing.T) {
	s := New(crypto.SHA256)
	sharedSecret := bytes.Repeat([]byte{0x11}, 32)
	hsDigest := bytes.Repeat([]byte{0x22}, 32)
	s.DeriveHandshakeSecrets(sharedSecret, hsDigest)

	appDigest := bytes.Repeat([]byte{0x33}, 32)
	clientApp, serverApp := s.DeriveApplicationSecrets(appDigest)
	if bytes.Equal(clientApp, serverApp) {
		t.Fatalf("client and server application secrets must differ")
	}
	if bytes.Equal(clientApp, s.ClientHandshakeTrafficSecret()) {
		t.Fatalf("application secret must differ from handshake secret")
	}
}

func TestTrafficKeyIVSizes(t *testing.T) {
	s := New(crypto.SHA256)
	secret := bytes.Repeat([]byte{0x01}, 32)
	key, iv := s.TrafficKeyIV(secret, 16, 12)
	if len(key) != 16 || len(iv) != 12 {
		t.Fatalf("TrafficKeyIV sizes = (%d, %d), want (16, 12)", len(key), len(iv))
	}
}

func TestFinishedMACRoundTrip(t *testing.T) {
	finishedKey := bytes.Repeat([]byte{0x05}, 32)
	digest := bytes.Repeat([]byte{0xAA}, 32)

	mac := FinishedMAC(crypto.SHA256, finishedKey, digest)
	if !VerifyFinished(crypto.SHA256, finishedKey, digest, mac) {
		t.Fatalf("VerifyFinished rejected a genuine MAC")
	}

	tampered := append([]byte(nil), mac...)
	tampered[0] ^= 0x01
	if VerifyFinished(crypto.SHA256, finishedKey, digest, tampered) {
		t.Fatalf("VerifyFinished accepted a tampered MAC")
	}

	wrongDigest := bytes.Repeat([]byte{0xBB}, 32)
	if VerifyFinished(crypto.SHA256, finishedKey, wrongDigest, mac) {
		t.Fatalf("VerifyFinished accepted a MAC against the wrong transcript digest")
	}
}

func TestWipeZeroesBuffer(t *testing.T) {
	b := bytes.Repeat([]byte{0xFF}, 32)
	Wipe(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not wiped: %#x", i, v)
		}
	}
}
