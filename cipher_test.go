package secvault

import (
	"bytes"
	"testing"
)

func TestTransform_Involution(t *testing.T) {
	keys := [][]byte{
		[]byte("abcdefghij"),
		[]byte("k"),
		{0x00, 0xff, 0x10},
	}

	for _, key := range keys {
		for pos := int64(0); pos < 64; pos++ {
			for b := 0; b < 256; b++ {
				got := Transform(Transform(byte(b), pos, key), pos, key)
				if got != byte(b) {
					t.Fatalf("key %q pos %d: Transform twice = %#x, want %#x", key, pos, got, b)
				}
			}
		}
	}
}

func TestTransform_RepeatsKeyByPosition(t *testing.T) {
	key := []byte("abc")
	for pos := int64(0); pos < 12; pos++ {
		want := key[pos%3]
		if got := Transform(0, pos, key); got != want {
			t.Fatalf("pos %d: Transform(0) = %q, want %q", pos, got, want)
		}
	}
}

func TestTransform_EmptyKeyIsIdentity(t *testing.T) {
	src := []byte("plain text")
	dst := make([]byte, len(src))
	n := TransformBytes(dst, src, 7, nil)
	if n != len(src) {
		t.Fatalf("TransformBytes returned %d, want %d", n, len(src))
	}
	if !bytes.Equal(dst, src) {
		t.Fatalf("empty key changed data: %q", dst)
	}
}

func TestTransformBytes_MatchesTransform(t *testing.T) {
	key := []byte("0123456789")
	src := []byte("The quick brown fox jumps over the lazy dog")

	for _, pos := range []int64{0, 1, 9, 10, 11, 1000} {
		dst := make([]byte, len(src))
		TransformBytes(dst, src, pos, key)
		for i := range src {
			want := Transform(src[i], pos+int64(i), key)
			if dst[i] != want {
				t.Fatalf("pos %d index %d: got %#x, want %#x", pos, i, dst[i], want)
			}
		}
	}
}

func TestTransformBytes_InPlaceAndShortDst(t *testing.T) {
	key := []byte("abcdefghij")
	buf := []byte("hello world")
	orig := append([]byte(nil), buf...)

	TransformBytes(buf, buf, 3, key)
	TransformBytes(buf, buf, 3, key)
	if !bytes.Equal(buf, orig) {
		t.Fatalf("in-place round trip = %q, want %q", buf, orig)
	}

	dst := make([]byte, 4)
	if n := TransformBytes(dst, orig, 0, key); n != 4 {
		t.Fatalf("TransformBytes into short dst returned %d, want 4", n)
	}
}

func TestRekey_PreservesPlaintext(t *testing.T) {
	oldKey := []byte("abcdefghij")
	newKey := []byte("0123456789")
	plain := []byte("rekeying must not change the plaintext")

	stored := make([]byte, len(plain))
	TransformBytes(stored, plain, 5, oldKey)

	rekeyed := make([]byte, len(stored))
	Rekey(rekeyed, stored, 5, oldKey, newKey)
	if bytes.Equal(rekeyed, stored) {
		t.Fatal("ciphertext unchanged after rekey")
	}

	got := make([]byte, len(rekeyed))
	TransformBytes(got, rekeyed, 5, newKey)
	if !bytes.Equal(got, plain) {
		t.Fatalf("plaintext after rekey = %q, want %q", got, plain)
	}
}

func TestRekey_FromEmptyKey(t *testing.T) {
	plain := []byte{1, 2, 3, 4}
	newKey := []byte("xy")
	dst := make([]byte, len(plain))
	Rekey(dst, plain, 0, nil, newKey)

	got := make([]byte, len(dst))
	TransformBytes(got, dst, 0, newKey)
	if !bytes.Equal(got, plain) {
		t.Fatalf("got %v, want %v", got, plain)
	}
}

func TestFillPlainZero(t *testing.T) {
	key := []byte("abcdefghij")
	buf := make([]byte, 25)
	fillPlainZero(buf, 3, key)

	plain := make([]byte, len(buf))
	TransformBytes(plain, buf, 3, key)
	for i, b := range plain {
		if b != 0 {
			t.Fatalf("plaintext[%d] = %#x, want 0", i, b)
		}
	}
}
