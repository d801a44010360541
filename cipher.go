package secvault

// The vault cipher is a repeating-key XOR keyed by absolute position:
//
//	stored[p] = plain[p] ^ key[p % len(key)]
//
// XOR is its own inverse, so the same transform encrypts on write and
// decrypts on read. An empty key leaves bytes unchanged; this is the state
// of a vault before its first CHANGE_KEY. The cipher offers no real
// secrecy and is not meant to.

// Transform enciphers or deciphers the byte b stored at position pos
func Transform(b byte, pos int64, key []byte) byte {
	if len(key) == 0 {
		return b
	}
	return b ^ key[pos%int64(len(key))]
}

// TransformBytes applies Transform to src as if src[0] were stored at
// position pos, writing into dst. dst and src may be the same slice.
// It returns the number of bytes transformed, min(len(dst), len(src)).
func TransformBytes(dst, src []byte, pos int64, key []byte) int {
	n := min(len(dst), len(src))
	if len(key) == 0 {
		copy(dst[:n], src[:n])
		return n
	}

	kl := int64(len(key))
	k := pos % kl
	for i := 0; i < n; i++ {
		dst[i] = src[i] ^ key[k]
		k++
		if k == kl {
			k = 0
		}
	}
	return n
}

// Rekey deciphers src with oldKey and enciphers the result with newKey in a
// single pass, writing into dst. Plaintext content is unchanged.
func Rekey(dst, src []byte, pos int64, oldKey, newKey []byte) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		p := pos + int64(i)
		dst[i] = Transform(Transform(src[i], p, oldKey), p, newKey)
	}
	return n
}

// fillPlainZero stores enciphered zeros in buf, so reads of buf yield zeros
func fillPlainZero(buf []byte, pos int64, key []byte) {
	for i := range buf {
		buf[i] = Transform(0, pos+int64(i), key)
	}
}
