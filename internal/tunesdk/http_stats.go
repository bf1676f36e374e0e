package tunesdk

import (
	"io"
	"sync/atomic"
	"time"
)

// httpStats tracks payload bytes moved by uploads and downloads
type httpStats struct {
	bytesSent  atomic.Int64
	bytesRecv  atomic.Int64
	requests   atomic.Int64
	lastSentNs atomic.Int64
	lastRecvNs atomic.Int64
	lastError  atomic.Value // string
}

func newHTTPStats() *httpStats {
	s := &httpStats{}
	s.lastError.Store("")
	return s
}

func (s *httpStats) onSend(n int) {
	if n <= 0 {
		return
	}
	s.bytesSent.Add(int64(n))
	s.lastSentNs.Store(time.Now().UnixNano())
}

func (s *httpStats) onRecv(n int) {
	if n <= 0 {
		return
	}
	s.bytesRecv.Add(int64(n))
	s.lastRecvNs.Store(time.Now().UnixNano())
}

func (s *httpStats) setLastError(err error) {
	if err != nil {
		s.lastError.Store(err.Error())
	}
}

// StatsSnapshot is a point in time copy of the client traffic counters
type StatsSnapshot struct {
	Requests  int64  `json:"requests"`
	BytesSent int64  `json:"bytes_sent"`
	BytesRecv int64  `json:"bytes_recv"`
	LastSent  int64  `json:"last_sent_ns,omitempty"`
	LastRecv  int64  `json:"last_recv_ns,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func (s *httpStats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Requests:  s.requests.Load(),
		BytesSent: s.bytesSent.Load(),
		BytesRecv: s.bytesRecv.Load(),
		LastSent:  s.lastSentNs.Load(),
		LastRecv:  s.lastRecvNs.Load(),
		LastError: s.lastError.Load().(string),
	}
}

// countingReader reports every successful read
type countingReader struct {
	r      io.Reader
	n      int64
	onRead func(int)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.onRead != nil {
			c.onRead(n)
		}
	}
	return n, err
}

type countingReadCloser struct {
	countingReader
	closer io.Closer
}

func (c *countingReadCloser) Close() error {
	return c.closer.Close()
}

// Count is the number of bytes read so far
func (c *countingReadCloser) Count() int64 {
	return c.n
}
