package transport

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"discord-rpc/internal/domain"
)

// connTransport adapts a net.Conn (unix socket or named pipe) to
// domain.Transport, translating deadlines and close into domain sentinels.
type connTransport struct {
	conn         net.Conn
	endpoint     string
	writeTimeout time.Duration

	mu          sync.Mutex
	readTimeout time.Duration
}

func newConnTransport(conn net.Conn, endpoint string, readTimeout, writeTimeout time.Duration) *connTransport {
	return &connTransport{
		conn:         conn,
		endpoint:     endpoint,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (t *connTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	timeout := t.readTimeout
	t.mu.Unlock()

	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return 0, fmt.Errorf("transport: set read deadline: %w: %w", domain.ErrIO, err)
		}
	}
	n, err := t.conn.Read(p)
	if err == nil && n == 0 {
		return 0, fmt.Errorf("transport: zero-byte read: %w", domain.ErrConnectionClosed)
	}
	if err != nil {
		return n, classifyReadErr(err)
	}
	return n, nil
}

func (t *connTransport) Send(p []byte) error {
	for len(p) > 0 {
		if t.writeTimeout > 0 {
			if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
				return fmt.Errorf("transport: set write deadline: %w: %w", domain.ErrIO, err)
			}
		}
		n, err := t.conn.Write(p)
		if err != nil {
			return fmt.Errorf("transport: write: %w: %w", domain.ErrIO, err)
		}
		if n == 0 {
			return fmt.Errorf("transport: write: %w: %w", domain.ErrIO, io.ErrShortWrite)
		}
		p = p[n:]
	}
	return nil
}

func (t *connTransport) SetReadTimeout(d time.Duration) {
	t.mu.Lock()
	t.readTimeout = d
	t.mu.Unlock()
}

func (t *connTransport) Endpoint() string { return t.endpoint }

func (t *connTransport) Close() error { return t.conn.Close() }

func classifyReadErr(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("transport: read: %w", domain.ErrConnectionClosed)
	case isTimeout(err):
		return fmt.Errorf("transport: read: %w", domain.ErrWouldBlock)
	default:
		return fmt.Errorf("transport: read: %w: %w", domain.ErrIO, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isRefused reports whether a dial error means nothing is listening on the
// endpoint, as opposed to a real fault.
func isRefused(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}

var _ domain.Transport = (*connTransport)(nil)
