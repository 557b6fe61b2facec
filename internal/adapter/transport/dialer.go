// Package transport dials the peer's local IPC endpoint: a unix domain
// socket on Linux/macOS, a named pipe on Windows.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"discord-rpc/internal/domain"
)

// MaxEndpoints is how many endpoint indices are probed (discord-ipc-0..9).
// Several instances of the peer (stable, PTB, canary) each take one.
const MaxEndpoints = 10

const endpointPrefix = "discord-ipc-"

// Default transport timeouts.
const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultDialTimeout  = 2 * time.Second
)

// Options configures a Dialer. Zero values take the defaults above.
type Options struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	// Candidates overrides endpoint discovery; mostly useful in tests.
	Candidates func() []string
	Logger     *slog.Logger
}

// Dialer probes candidate endpoints in ascending index order and returns the
// first one that accepts a connection.
type Dialer struct {
	opts Options
	dial func(ctx context.Context, endpoint string) (net.Conn, error)
}

// NewDialer returns a Dialer for the current platform.
func NewDialer(opts Options) *Dialer {
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.Candidates == nil {
		opts.Candidates = Candidates
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dialer{opts: opts, dial: dialEndpoint}
}

// Dial implements domain.Dialer.
func (d *Dialer) Dial(ctx context.Context) (domain.Transport, error) {
	candidates := d.opts.Candidates()
	var hardErr error
	for _, endpoint := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, d.opts.DialTimeout)
		conn, err := d.dial(dialCtx, endpoint)
		cancel()
		if err == nil {
			d.opts.Logger.Debug("ipc endpoint accepted", "endpoint", endpoint)
			return newConnTransport(conn, endpoint, d.opts.ReadTimeout, d.opts.WriteTimeout), nil
		}
		if !isRefused(err) && hardErr == nil {
			hardErr = err
		}
	}

	if hardErr != nil {
		return nil, domain.NewDomainError("Transport.Dial", errors.Join(domain.ErrIO, hardErr), "")
	}
	return nil, domain.NewDomainError("Transport.Dial", domain.ErrConnectionRefused,
		fmt.Sprintf("no endpoint accepted (%d probed)", len(candidates)))
}

var _ domain.Dialer = (*Dialer)(nil)
