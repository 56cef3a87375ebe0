package transcript

import (
	"bytes"
	"crypto"
	"crypto/sha256"
	"testing"
)

func TestUpdateMatchesDirectHash(t *testing.T) {
	h := New(crypto.SHA256)
	h.Update([]byte("client hello"))
	h.Update([]byte("server hello"))

	want := sha256.Sum256([]byte("client helloserver hello"))
	if !bytes.Equal(h.Snapshot(), want[:]) {
		t.Fatalf("Snapshot() = %x, want %x", h.Snapshot(), want)
	}
}

func TestSnapshotDoesNotDisturbRunningHash(t *testing.T) {
	h := New(crypto.SHA256)
	h.Update([]byte("a"))
	first := h.Snapshot()
	second := h.Snapshot()
	if !bytes.Equal(first, second) {
		t.Fatalf("repeated Snapshot calls diverged")
	}
	h.Update([]byte("b"))
	third := h.Snapshot()
	if bytes.Equal(first, third) {
		t.Fatalf("Update after Snapshot had no effect")
	}

	want := sha256.Sum256([]byte("ab"))
	if !bytes.Equal(third, want[:]) {
		t.Fatalf("Snapshot() after second Update = %x, want %x", third, want)
	}
}

func TestReplaceWithMessageHashFoldsPriorTranscript(t *testing.T) {
	h := New(crypto.SHA256)
	h.Update([]byte("first client hello"))
	digest := h.Snapshot()

	body := make([]byte, 4+len(digest))
	body[0] = 254
	body[1] = byte(len(digest) >> 16)
	body[2] = byte(len(digest) >> 8)
	body[3] = byte(len(digest))
	copy(body[4:], digest)
	h.ReplaceWithMessageHash(body)
	h.Update([]byte("hello retry request"))
	h.Update([]byte("second client hello"))

	want := sha256.Sum256(append(append([]byte(nil), body...), []byte("hello retry requestsecond client hello")...))
	if !bytes.Equal(h.Snapshot(), want[:]) {
		t.Fatalf("Snapshot() = %x, want %x", h.Snapshot(), want)
	}
}
