package pk2

import "golang.org/x/crypto/blowfish"

// DefaultBaseKey is the fixed 10-byte Silkroad base key XORed against a
// caller-supplied ASCII key to derive the Blowfish key material. It
// never changes between Silkroad releases; only the ASCII key does.
var DefaultBaseKey = [10]byte{0x03, 0xF8, 0xE4, 0x44, 0x88, 0x99, 0x3F, 0x64, 0xFE, 0x35}

// Known-working ASCII keys, for reference and tests: "169841" for
// official Silkroad and most private servers, "\x32\x30\x30\x39\xC4\xEA"
// for ZSZC/SWSRO.

// deriveKey combines asciiKey with baseKey by XOR, truncated to
// len(asciiKey) (capped at 56, Blowfish's maximum key length). baseKey
// bytes beyond its own length are treated as zero.
func deriveKey(asciiKey, baseKey []byte) []byte {
	n := len(asciiKey)
	if n > 56 {
		n = 56
	}
	key := make([]byte, n)
	for i := 0; i < n; i++ {
		var b byte
		if i < len(baseKey) {
			b = baseKey[i]
		}
		key[i] = asciiKey[i] ^ b
	}
	return key
}

// ecbCodec wraps golang.org/x/crypto/blowfish for whole-block ECB
// encode/decode over PK2's two fixed-size cipher inputs: the 16-byte
// verify plaintext and the 128-byte entry. encode/decode reject any
// input whose length is not a multiple of 8, but since both inputs are
// multiples of 8 that path never actually runs.
type ecbCodec struct {
	cipher *blowfish.Cipher
}

func newECBCodec(key []byte) (*ecbCodec, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &ecbCodec{cipher: c}, nil
}

// encode writes the Blowfish-ECB encryption of src into dst, 8 bytes at
// a time. len(src) must be a multiple of 8 and len(dst) >= len(src).
func (c *ecbCodec) encode(src, dst []byte) bool {
	if len(src)%blowfish.BlockSize != 0 || len(dst) < len(src) {
		return false
	}
	for i := 0; i+blowfish.BlockSize <= len(src); i += blowfish.BlockSize {
		c.cipher.Encrypt(dst[i:i+blowfish.BlockSize], src[i:i+blowfish.BlockSize])
	}
	return true
}

// decode writes the Blowfish-ECB decryption of src into dst, 8 bytes at
// a time. Same length contract as encode.
func (c *ecbCodec) decode(src, dst []byte) bool {
	if len(src)%blowfish.BlockSize != 0 || len(dst) < len(src) {
		return false
	}
	for i := 0; i+blowfish.BlockSize <= len(src); i += blowfish.BlockSize {
		c.cipher.Decrypt(dst[i:i+blowfish.BlockSize], src[i:i+blowfish.BlockSize])
	}
	return true
}

// encodeInPlace is a convenience for the common case of encoding a
// buffer over itself (used when encrypting an entry block entry by
// entry during Finalize).
func (c *ecbCodec) encodeInPlace(buf []byte) bool {
	return c.encode(buf, buf)
}

// decodeInPlace is the decrypt-side counterpart, used by the reader
// when walking entries lazily.
func (c *ecbCodec) decodeInPlace(buf []byte) bool {
	return c.decode(buf, buf)
}
