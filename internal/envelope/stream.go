package envelope

import (
	"bufio"
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func chunkNonce(prefix [noncePrefixSize]byte, counter uint32, last bool) []byte {
	nonce := make([]byte, noncePrefixSize+5)
	copy(nonce, prefix[:])
	binary.BigEndian.PutUint32(nonce[noncePrefixSize:], counter)
	if last {
		nonce[len(nonce)-1] = 1
	}
	return nonce
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// encryptWriter seals plaintext into chunks. A full chunk is only sealed once more
// data arrives so the final chunk can carry the last flag on Close.
type encryptWriter struct {
	dst     io.Writer
	aead    cipher.AEAD
	header  Header
	aad     []byte
	buf     []byte
	sealed  []byte
	counter uint32
	closed  bool
	err     error
}

// NewEncryptWriter returns a writer that frames everything written to it into dst.
// Close finishes the stream but does not close dst. ModeNone writes the header and then raw bytes.
func NewEncryptWriter(dst io.Writer, mode Mode, key []byte) (io.WriteCloser, error) {
	return NewEncryptWriterSize(dst, mode, key, DefaultChunkShift)
}

func NewEncryptWriterSize(dst io.Writer, mode Mode, key []byte, chunkShift uint8) (io.WriteCloser, error) {
	if !mode.Valid() {
		return nil, ErrUnknownMode
	}

	var aead cipher.AEAD
	h := Header{Mode: mode, ChunkShift: chunkShift}
	if mode != ModeNone {
		var err error
		if aead, err = newAEAD(key); err != nil {
			return nil, err
		}
		if _, err := rand.Read(h.NoncePrefix[:]); err != nil {
			return nil, fmt.Errorf("nonce prefix: %w", err)
		}
	}
	hdr, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(hdr); err != nil {
		return nil, err
	}

	if mode == ModeNone {
		return nopWriteCloser{dst}, nil
	}
	return &encryptWriter{
		dst:    dst,
		aead:   aead,
		header: h,
		aad:    hdr,
		buf:    make([]byte, 0, h.ChunkSize()),
		sealed: make([]byte, 4, 4+h.ChunkSize()+tagSize),
	}, nil
}

func (w *encryptWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, ErrWriterClosed
	}

	written := 0
	for len(p) > 0 {
		if len(w.buf) == cap(w.buf) {
			if err := w.flush(false); err != nil {
				return written, err
			}
		}
		n := copy(w.buf[len(w.buf):cap(w.buf)], p)
		w.buf = w.buf[:len(w.buf)+n]
		p = p[n:]
		written += n
	}
	return written, nil
}

func (w *encryptWriter) flush(last bool) error {
	if w.counter == math.MaxUint32 {
		w.err = fmt.Errorf("%w: too many chunks", ErrMalformed)
		return w.err
	}

	nonce := chunkNonce(w.header.NoncePrefix, w.counter, last)
	out := w.aead.Seal(w.sealed[:4], nonce, w.buf, w.aad)
	binary.BigEndian.PutUint32(out[:4], uint32(len(out)-4))

	if _, err := w.dst.Write(out); err != nil {
		w.err = err
		return err
	}
	w.counter++
	w.buf = w.buf[:0]
	return nil
}

func (w *encryptWriter) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	return w.flush(true)
}

// KeySource resolves the key for a mode found in a payload header
type KeySource interface {
	Key(ctx context.Context, mode Mode) ([]byte, error)
}

// decryptReader opens chunks one by one
type decryptReader struct {
	src     *bufio.Reader
	aead    cipher.AEAD
	header  Header
	aad     []byte
	plain   []byte
	sealed  []byte
	counter uint32
	done    bool
	err     error
}

// NewDecryptReader reads the envelope header of src and returns a reader of the plaintext.
// Blobs without the magic were stored by something other than an encrypt writer; they are
// passed through unchanged and reported as ModeNone.
func NewDecryptReader(ctx context.Context, src io.Reader, keys KeySource) (io.Reader, Mode, error) {
	br := bufio.NewReaderSize(src, 64<<10)

	magic, err := br.Peek(len(Magic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, ModeNone, err
	}
	if !IsEnvelope(magic) {
		return br, ModeNone, nil
	}

	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		return nil, ModeNone, fmt.Errorf("%w: short header", ErrTruncated)
	}
	var h Header
	if err := h.UnmarshalBinary(hdr); err != nil {
		return nil, ModeNone, err
	}
	if h.Mode == ModeNone {
		return br, ModeNone, nil
	}

	if keys == nil {
		return nil, h.Mode, fmt.Errorf("%w: %s", ErrNoKey, h.Mode)
	}
	key, err := keys.Key(ctx, h.Mode)
	if err != nil {
		return nil, h.Mode, errors.Join(ErrNoKey, err)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, h.Mode, err
	}

	return &decryptReader{
		src:    br,
		aead:   aead,
		header: h,
		aad:    hdr,
		sealed: make([]byte, h.ChunkSize()+tagSize),
	}, h.Mode, nil
}

func (r *decryptReader) Read(p []byte) (int, error) {
	for len(r.plain) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.done {
			return 0, io.EOF
		}
		if err := r.next(); err != nil {
			r.err = err
			return 0, err
		}
	}

	n := copy(p, r.plain)
	r.plain = r.plain[n:]
	return n, nil
}

func (r *decryptReader) next() error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r.src, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size < tagSize || int(size) > len(r.sealed) {
		return fmt.Errorf("%w: chunk length %d", ErrMalformed, size)
	}
	sealed := r.sealed[:size]
	if _, err := io.ReadFull(r.src, sealed); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return err
	}

	_, peekErr := r.src.Peek(1)
	last := errors.Is(peekErr, io.EOF)
	if peekErr != nil && !last {
		return peekErr
	}

	plain, err := r.aead.Open(sealed[:0], chunkNonce(r.header.NoncePrefix, r.counter, last), sealed, r.aad)
	if err != nil {
		if last {
			// stream ended on a chunk that was not sealed as the final one
			return ErrTruncated
		}
		return ErrAuthFailed
	}

	r.counter++
	r.plain = plain
	r.done = last
	return nil
}

// Encrypt frames plaintext in one call
func Encrypt(mode Mode, key []byte, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewEncryptWriter(&buf, mode, key)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decrypt opens a framed payload in one call
func Decrypt(ctx context.Context, keys KeySource, payload []byte) ([]byte, Mode, error) {
	r, mode, err := NewDecryptReader(ctx, bytes.NewReader(payload), keys)
	if err != nil {
		return nil, mode, err
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, mode, err
	}
	return plain, mode, nil
}
