package channel

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key, err := NewKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := testKey(t)

	envelope, err := Seal(key, "summarize this contract")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(envelope, "v1:") {
		t.Fatalf("expected v1 envelope, got %q", envelope[:3])
	}

	plain, ok := Open(key, envelope)
	if !ok {
		t.Fatal("expected decryption to succeed")
	}
	if plain != "summarize this contract" {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestSealUnicodeRoundTrip(t *testing.T) {
	key := testKey(t)
	body := "résumé 日本語 🚀 \x00 binary"

	envelope, err := Seal(key, body)
	if err != nil {
		t.Fatal(err)
	}
	plain, ok := Open(key, envelope)
	if !ok || plain != body {
		t.Fatalf("expected %q, got %q (ok=%v)", body, plain, ok)
	}
}

func TestWireFormatStructure(t *testing.T) {
	key := testKey(t)

	envelope, err := Seal(key, "test")
	if err != nil {
		t.Fatal(err)
	}
	wire, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, "v1:"))
	if err != nil {
		t.Fatal(err)
	}
	// 12 (nonce) + 4 (plaintext) + 16 (tag) = 32
	if len(wire) != 32 {
		t.Fatalf("expected wire length 32, got %d", len(wire))
	}
}

func TestDifferentEnvelopes(t *testing.T) {
	key := testKey(t)

	e1, _ := Seal(key, "same")
	e2, _ := Seal(key, "same")
	if e1 == e2 {
		t.Fatal("envelopes should differ for same plaintext")
	}

	p1, _ := Open(key, e1)
	p2, _ := Open(key, e2)
	if p1 != "same" || p2 != "same" {
		t.Fatal("both should decrypt to 'same'")
	}
}

func TestSealWithoutKey(t *testing.T) {
	envelope, err := Seal(nil, "stored before channel established")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(envelope, "v0:") {
		t.Fatalf("expected v0 envelope, got %q", envelope)
	}

	// v0 bodies never surface as plaintext, with or without a key
	if _, ok := Open(nil, envelope); ok {
		t.Fatal("v0 envelope should not open")
	}
	if _, ok := Open(testKey(t), envelope); ok {
		t.Fatal("v0 envelope should not open with a key either")
	}
}

func TestOpenNeverErrors(t *testing.T) {
	key := testKey(t)
	envelope, _ := Seal(key, "secret")

	cases := map[string]struct {
		key      []byte
		envelope string
	}{
		"nil key":         {nil, envelope},
		"wrong key":       {testKey(t), envelope},
		"no prefix":       {key, "garbage"},
		"bad base64":      {key, "v1:!!!not-base64!!!"},
		"truncated":       {key, "v1:" + base64.StdEncoding.EncodeToString([]byte("short"))},
		"empty":           {key, ""},
		"short key input": {make([]byte, 5), envelope},
	}

	for name, tc := range cases {
		plain, ok := Open(tc.key, tc.envelope)
		if ok || plain != "" {
			t.Fatalf("%s: expected (\"\", false), got (%q, %v)", name, plain, ok)
		}
	}
}

func TestTamperedEnvelopeFails(t *testing.T) {
	key := testKey(t)
	envelope, _ := Seal(key, "secret")

	wire, _ := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, "v1:"))
	wire[len(wire)-1] ^= 0xff
	tampered := "v1:" + base64.StdEncoding.EncodeToString(wire)

	if _, ok := Open(key, tampered); ok {
		t.Fatal("tampered envelope should not open")
	}
}

func TestRotatedKeyCannotOpenOldEnvelope(t *testing.T) {
	oldKey := testKey(t)
	envelope, _ := Seal(oldKey, "pre-rotation message")

	newKey := testKey(t)
	if _, ok := Open(newKey, envelope); ok {
		t.Fatal("rotated key should not open old envelope")
	}

	// the old key still can, the data is intact
	plain, ok := Open(oldKey, envelope)
	if !ok || plain != "pre-rotation message" {
		t.Fatal("original key should still open the envelope")
	}
}
