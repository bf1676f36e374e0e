// Package envelope frames payloads with a self describing header and encrypts them
// in fixed size AES-256-GCM chunks so arbitrarily large files can be streamed.
//
// Layout:
//
//	header  magic "TBXE" | version | mode | log2(chunk) | nonce prefix (7) | reserved (2)
//	chunk   uint32 BE sealed length | sealed bytes
//
// ModeNone payloads carry the same header followed by the raw bytes.
//
// The nonce of chunk i is prefix | uint32 BE i | last flag, and the header is the
// additional data of every chunk, so reordering, truncation and header edits all fail to open.
package envelope

import (
	"errors"
	"fmt"
	"strings"
)

const (
	Magic         = "TBXE"
	FormatVersion = 1
	HeaderSize    = 16
	KeySize       = 32

	DefaultChunkShift = 16 // 64 KiB
	minChunkShift     = 10
	maxChunkShift     = 24

	noncePrefixSize = 7
	tagSize         = 16
)

var (
	ErrUnknownMode   = errors.New("envelope: unknown mode")
	ErrNoKey         = errors.New("envelope: key unavailable")
	ErrBadKey        = errors.New("envelope: key must be 32 bytes")
	ErrMalformed     = errors.New("envelope: malformed payload")
	ErrTruncated     = errors.New("envelope: payload truncated")
	ErrAuthFailed    = errors.New("envelope: authentication failed")
	ErrUnsupported   = errors.New("envelope: unsupported format version")
	ErrModeMismatch  = errors.New("envelope: payload mode does not match")
	ErrWriterClosed  = errors.New("envelope: write after close")
	ErrInvalidHeader = errors.New("envelope: invalid header")
)

// Mode selects the key material that wraps a payload
type Mode uint8

const (
	// ModeNone stores bytes as is behind the header
	ModeNone Mode = iota
	// ModeSystem uses one key shared by every client of the deployment
	ModeSystem
	// ModeServer uses a per user key held by the server
	ModeServer
	// ModeClient uses a key derived from a passphrase that never leaves the client
	ModeClient
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSystem:
		return "system"
	case ModeServer:
		return "server"
	case ModeClient:
		return "client"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func (m Mode) Valid() bool {
	return m <= ModeClient
}

// ParseMode accepts the names returned by Mode.String
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ModeNone, nil
	case "system":
		return ModeSystem, nil
	case "server":
		return ModeServer, nil
	case "client":
		return ModeClient, nil
	}
	return ModeNone, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, ErrUnknownMode
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Header is the fixed size preamble of every payload
type Header struct {
	Mode        Mode
	ChunkShift  uint8
	NoncePrefix [noncePrefixSize]byte
}

func (h *Header) ChunkSize() int {
	return 1 << h.ChunkShift
}

func (h *Header) MarshalBinary() ([]byte, error) {
	if h.ChunkShift < minChunkShift || h.ChunkShift > maxChunkShift {
		return nil, fmt.Errorf("%w: chunk shift %d", ErrInvalidHeader, h.ChunkShift)
	}
	buf := make([]byte, HeaderSize)
	copy(buf, Magic)
	buf[4] = FormatVersion
	buf[5] = byte(h.Mode)
	buf[6] = h.ChunkShift
	copy(buf[7:7+noncePrefixSize], h.NoncePrefix[:])
	return buf, nil
}

func (h *Header) UnmarshalBinary(buf []byte) error {
	if len(buf) < HeaderSize || string(buf[:4]) != Magic {
		return ErrInvalidHeader
	}
	if buf[4] != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupported, buf[4])
	}
	h.Mode = Mode(buf[5])
	if !h.Mode.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMode, buf[5])
	}
	h.ChunkShift = buf[6]
	if h.ChunkShift < minChunkShift || h.ChunkShift > maxChunkShift {
		return fmt.Errorf("%w: chunk shift %d", ErrInvalidHeader, h.ChunkShift)
	}
	copy(h.NoncePrefix[:], buf[7:7+noncePrefixSize])
	return nil
}

// IsEnvelope reports whether b starts with an envelope header magic
func IsEnvelope(b []byte) bool {
	return len(b) >= len(Magic) && string(b[:len(Magic)]) == Magic
}

// FramedSize returns the payload size of a plaintext of the given length in mode
func FramedSize(mode Mode, plain int64, chunkShift uint8) int64 {
	if mode == ModeNone {
		return HeaderSize + plain
	}
	return SealedSize(plain, chunkShift)
}

// SealedSize returns the envelope size of an encrypted plaintext of the given length
func SealedSize(plain int64, chunkShift uint8) int64 {
	chunk := int64(1) << chunkShift
	chunks := plain / chunk
	if plain%chunk != 0 || plain == 0 {
		chunks++
	}
	return HeaderSize + plain + chunks*(4+tagSize)
}
