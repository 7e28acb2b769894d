package pk2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveKey(t *testing.T) {
	ascii := []byte("169841")
	key := deriveKey(ascii, DefaultBaseKey[:])
	require.Len(t, key, len(ascii))

	for i, b := range ascii {
		assert.Equal(t, b^DefaultBaseKey[i], key[i])
	}
}

func TestDeriveKeyCapsAtBlowfishMax(t *testing.T) {
	ascii := make([]byte, 100)
	key := deriveKey(ascii, DefaultBaseKey[:])
	assert.Len(t, key, 56)
}

func TestDeriveKeyBaseShorterThanAscii(t *testing.T) {
	ascii := []byte("abcdefghij") // 10 bytes, same length as DefaultBaseKey
	key := deriveKey(ascii, DefaultBaseKey[:5])
	require.Len(t, key, 10)
	for i := 5; i < 10; i++ {
		assert.Equal(t, ascii[i], key[i], "bytes beyond a short baseKey XOR with zero")
	}
}

func TestEcbCodecRoundTrip(t *testing.T) {
	codec, err := newECBCodec(deriveKey([]byte("169841"), DefaultBaseKey[:]))
	require.NoError(t, err)

	plain := []byte("this is exactly two blocks!!!!!!") // 32 bytes, multiple of 8
	require.Zero(t, len(plain)%8)

	cipher := make([]byte, len(plain))
	require.True(t, codec.encode(plain, cipher))
	assert.NotEqual(t, plain, cipher)

	decoded := make([]byte, len(cipher))
	require.True(t, codec.decode(cipher, decoded))
	assert.Equal(t, plain, decoded)
}

func TestEcbCodecInPlace(t *testing.T) {
	codec, err := newECBCodec(deriveKey([]byte("169841"), DefaultBaseKey[:]))
	require.NoError(t, err)

	buf := []byte("12345678abcdefgh") // 16 bytes
	original := append([]byte(nil), buf...)

	require.True(t, codec.encodeInPlace(buf))
	assert.NotEqual(t, original, buf)

	require.True(t, codec.decodeInPlace(buf))
	assert.Equal(t, original, buf)
}

func TestEcbCodecRejectsNonBlockAligned(t *testing.T) {
	codec, err := newECBCodec(deriveKey([]byte("169841"), DefaultBaseKey[:]))
	require.NoError(t, err)

	src := make([]byte, 10) // not a multiple of 8
	dst := make([]byte, 10)
	assert.False(t, codec.encode(src, dst))
}

func TestVerifyPlaintextRoundTripsUnderDefaultKey(t *testing.T) {
	codec, err := newECBCodec(deriveKey([]byte("169841"), DefaultBaseKey[:]))
	require.NoError(t, err)

	var encoded [16]byte
	require.True(t, codec.encode(verifyPlaintext[:], encoded[:]))

	var decoded [16]byte
	require.True(t, codec.decode(encoded[:], decoded[:]))
	assert.Equal(t, verifyPlaintext, decoded)
}
