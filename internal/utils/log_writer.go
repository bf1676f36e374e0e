package utils

import (
	"bytes"
	"io"
	"strconv"
	"sync"
	"time"
)

const maxPendingLine = 1 << 20

// LineStampWriter prefixes every complete line written to it with a sequence number
// and a timestamp before forwarding it to the target. Partial lines are held back
// until a newline arrives or Close is called.
type LineStampWriter struct {
	mu      sync.Mutex
	target  io.Writer
	seq     uint64
	pending bytes.Buffer
	now     func() time.Time
}

func NewLineStampWriter(target io.Writer) *LineStampWriter {
	return &LineStampWriter{target: target, now: time.Now}
}

func (w *LineStampWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending.Write(p)
	for {
		idx := bytes.IndexByte(w.pending.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.pending.Next(idx + 1)
		if err := w.emit(line); err != nil {
			return len(p), err
		}
	}

	// a runaway line without newline is flushed as is
	if w.pending.Len() > maxPendingLine {
		if err := w.emit(append(w.pending.Bytes(), '\n')); err != nil {
			return len(p), err
		}
		w.pending.Reset()
	}
	return len(p), nil
}

func (w *LineStampWriter) emit(line []byte) error {
	w.seq++
	var hdr []byte
	hdr = append(hdr, "seq="...)
	hdr = strconv.AppendUint(hdr, w.seq, 10)
	hdr = append(hdr, " ts="...)
	hdr = w.now().UTC().AppendFormat(hdr, time.RFC3339)
	hdr = append(hdr, ' ')
	if _, err := w.target.Write(hdr); err != nil {
		return err
	}
	_, err := w.target.Write(line)
	return err
}

// Close flushes a trailing partial line
func (w *LineStampWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending.Len() == 0 {
		return nil
	}
	line := append(w.pending.Bytes(), '\n')
	w.pending.Reset()
	return w.emit(line)
}
