package envelope

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

type staticKeys map[Mode][]byte

func (s staticKeys) Key(_ context.Context, mode Mode) ([]byte, error) {
	if k, ok := s[mode]; ok {
		return k, nil
	}
	return nil, errors.New("no key")
}

func TestRoundTrip(t *testing.T) {
	key := randomKey(t)
	keys := staticKeys{ModeSystem: key, ModeServer: key, ModeClient: key}

	sizes := []int{0, 1, 1023, 1024, 1025, 4096, 10_000}
	for _, mode := range []Mode{ModeNone, ModeSystem, ModeServer, ModeClient} {
		for _, size := range sizes {
			plain := make([]byte, size)
			_, _ = rand.Read(plain)

			var buf bytes.Buffer
			w, err := NewEncryptWriterSize(&buf, mode, key, minChunkShift)
			require.NoError(t, err)
			_, err = w.Write(plain)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			require.True(t, IsEnvelope(buf.Bytes()), "mode %s size %d", mode, size)
			assert.Equal(t, FramedSize(mode, int64(size), minChunkShift), int64(buf.Len()), "mode %s size %d", mode, size)
			if mode == ModeNone {
				assert.True(t, bytes.Equal(plain, buf.Bytes()[HeaderSize:]), "size %d", size)
			}

			got, gotMode, err := Decrypt(context.Background(), keys, buf.Bytes())
			require.NoError(t, err, "mode %s size %d", mode, size)
			assert.Equal(t, mode, gotMode)
			assert.True(t, bytes.Equal(plain, got), "mode %s size %d", mode, size)
		}
	}
}

func TestRoundTrip_PlainLooksLikeHeader(t *testing.T) {
	hdr, err := (&Header{Mode: ModeSystem, ChunkShift: DefaultChunkShift}).MarshalBinary()
	require.NoError(t, err)

	for _, plain := range [][]byte{
		[]byte("TBXE\x01\x00 liner notes"),
		append(hdr, []byte("not actually sealed")...),
		[]byte(Magic),
	} {
		framed, err := Encrypt(ModeNone, nil, plain)
		require.NoError(t, err)

		got, mode, err := Decrypt(context.Background(), nil, framed)
		require.NoError(t, err, "%q", plain)
		assert.Equal(t, ModeNone, mode)
		assert.Equal(t, plain, got)
	}
}

func TestDecrypt_LegacyPlainPassesThrough(t *testing.T) {
	for _, plain := range []string{"", "RIFF....WAVEfmt ", "TBX"} {
		got, mode, err := Decrypt(context.Background(), nil, []byte(plain))
		require.NoError(t, err)
		assert.Equal(t, ModeNone, mode)
		assert.Equal(t, plain, string(got))
	}
}

func TestDecrypt_StreamsInSmallReads(t *testing.T) {
	key := randomKey(t)
	plain := bytes.Repeat([]byte("0123456789"), 1000)

	sealed, err := Encrypt(ModeSystem, key, plain)
	require.NoError(t, err)

	r, mode, err := NewDecryptReader(context.Background(), bytes.NewReader(sealed), staticKeys{ModeSystem: key})
	require.NoError(t, err)
	assert.Equal(t, ModeSystem, mode)

	var out bytes.Buffer
	small := make([]byte, 7)
	for {
		n, err := r.Read(small)
		out.Write(small[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, plain, out.Bytes())
}

func TestDecrypt_Truncated(t *testing.T) {
	key := randomKey(t)
	plain := make([]byte, 5000)

	var buf bytes.Buffer
	w, err := NewEncryptWriterSize(&buf, ModeSystem, key, minChunkShift)
	require.NoError(t, err)
	_, _ = w.Write(plain)
	require.NoError(t, w.Close())
	sealed := buf.Bytes()

	// drop the final chunk: 5000 bytes in 1 KiB chunks is 4 full chunks + 904 bytes
	full := HeaderSize + 4*(4+1024+tagSize)
	_, _, err = Decrypt(context.Background(), staticKeys{ModeSystem: key}, sealed[:full])
	assert.ErrorIs(t, err, ErrTruncated)

	// cut in the middle of a chunk
	_, _, err = Decrypt(context.Background(), staticKeys{ModeSystem: key}, sealed[:full+10])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecrypt_Tampered(t *testing.T) {
	key := randomKey(t)
	sealed, err := Encrypt(ModeSystem, key, bytes.Repeat([]byte("a"), 100))
	require.NoError(t, err)

	body := append([]byte(nil), sealed...)
	body[HeaderSize+10] ^= 0xff
	_, _, err = Decrypt(context.Background(), staticKeys{ModeSystem: key}, body)
	assert.Error(t, err)

	// header is authenticated too
	hdr := append([]byte(nil), sealed...)
	hdr[9] ^= 0x01
	_, _, err = Decrypt(context.Background(), staticKeys{ModeSystem: key}, hdr)
	assert.Error(t, err)

	// wrong key
	_, _, err = Decrypt(context.Background(), staticKeys{ModeSystem: randomKey(t)}, sealed)
	assert.Error(t, err)
}

func TestDecrypt_MissingKey(t *testing.T) {
	sealed, err := Encrypt(ModeClient, randomKey(t), []byte("secret"))
	require.NoError(t, err)

	_, mode, err := Decrypt(context.Background(), staticKeys{}, sealed)
	assert.ErrorIs(t, err, ErrNoKey)
	assert.Equal(t, ModeClient, mode)

	_, _, err = Decrypt(context.Background(), nil, sealed)
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestHeader(t *testing.T) {
	h := Header{Mode: ModeServer, ChunkShift: 16}
	copy(h.NoncePrefix[:], "abcdefg")
	buf, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, HeaderSize)
	assert.True(t, IsEnvelope(buf))

	var parsed Header
	require.NoError(t, parsed.UnmarshalBinary(buf))
	assert.Equal(t, h, parsed)

	none := Header{Mode: ModeNone, ChunkShift: DefaultChunkShift}
	buf2, err := none.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, parsed.UnmarshalBinary(buf2))
	assert.Equal(t, ModeNone, parsed.Mode)

	buf[5] = 7
	assert.ErrorIs(t, parsed.UnmarshalBinary(buf), ErrUnknownMode)

	buf[4] = 9
	assert.ErrorIs(t, parsed.UnmarshalBinary(buf), ErrUnsupported)

	_, err = (&Header{Mode: ModeSystem, ChunkShift: 2}).MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidHeader)
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeSystem, ModeServer, ModeClient} {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMode("rot13")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestKeyring(t *testing.T) {
	system := randomKey(t)
	server := randomKey(t)
	var fetches atomic.Int32

	kr, err := NewKeyring(KeyringConfig{
		User:       "alice@example.com",
		SystemKey:  system,
		Passphrase: "correct horse",
		ServerKey: func(ctx context.Context) ([]byte, error) {
			fetches.Add(1)
			return server, nil
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	k, err := kr.Key(ctx, ModeSystem)
	require.NoError(t, err)
	assert.Equal(t, system, k)

	for i := 0; i < 3; i++ {
		k, err = kr.Key(ctx, ModeServer)
		require.NoError(t, err)
		assert.Equal(t, server, k)
	}
	assert.Equal(t, int32(1), fetches.Load())

	kr.Purge()
	_, err = kr.Key(ctx, ModeServer)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())

	c1, err := kr.Key(ctx, ModeClient)
	require.NoError(t, err)
	c2, err := DeriveClientKey("correct horse", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, c2, c1)

	other, err := DeriveClientKey("correct horse", "bob@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, c1, other)
}

func TestKeyring_Unavailable(t *testing.T) {
	kr, err := NewKeyring(KeyringConfig{User: "u"})
	require.NoError(t, err)

	_, err = kr.Key(context.Background(), ModeSystem)
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = kr.Key(context.Background(), ModeServer)
	assert.ErrorIs(t, err, ErrNoKey)
	_, err = kr.Key(context.Background(), ModeClient)
	assert.ErrorIs(t, err, ErrNoKey)

	_, err = NewKeyring(KeyringConfig{SystemKey: []byte("short")})
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestDeriveServerKey(t *testing.T) {
	master := randomKey(t)
	a1, err := DeriveServerKey(master, "alice")
	require.NoError(t, err)
	a2, err := DeriveServerKey(master, "alice")
	require.NoError(t, err)
	b, err := DeriveServerKey(master, "bob")
	require.NoError(t, err)

	assert.Len(t, a1, KeySize)
	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)

	_, err = DeriveServerKey(nil, "alice")
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestDecodeKey(t *testing.T) {
	key := randomKey(t)
	decoded, err := DecodeKey(EncodeKey(key))
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = DecodeKey("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrBadKey)
	_, err = DecodeKey("!!!")
	assert.ErrorIs(t, err, ErrBadKey)
}
