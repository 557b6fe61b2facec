// Package ipcfake provides an in-memory IPC peer for tests: a Transport
// whose inbound bytes are produced by a scripted responder, and a Dialer
// that hands such transports out.
package ipcfake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"discord-rpc/internal/adapter/codec"
	"discord-rpc/internal/domain"
)

// idleRead is how long an empty Read waits before reporting WouldBlock.
const idleRead = 2 * time.Millisecond

// Responder reacts to one frame written by the client and returns the
// frames the peer sends back.
type Responder func(f codec.Frame) []codec.Frame

// Conn is a fake domain.Transport. It is safe for concurrent use.
type Conn struct {
	mu          sync.Mutex
	rx          bytes.Buffer
	readErrs    []error
	sent        []codec.Frame
	hungUp      bool
	closed      bool
	readTimeout time.Duration
	respond     Responder
	endpoint    string
}

// NewConn creates a connection answered by respond (nil means a silent peer).
func NewConn(respond Responder) *Conn {
	return &Conn{respond: respond, endpoint: "fake://discord-ipc-0"}
}

// Read implements domain.Transport.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, fmt.Errorf("ipcfake: read on closed conn: %w", domain.ErrConnectionClosed)
	}
	if len(c.readErrs) > 0 {
		err := c.readErrs[0]
		c.readErrs = c.readErrs[1:]
		c.mu.Unlock()
		return 0, err
	}
	if c.rx.Len() > 0 {
		n, _ := c.rx.Read(p)
		c.mu.Unlock()
		return n, nil
	}
	hungUp := c.hungUp
	wait := min(c.readTimeout, idleRead)
	c.mu.Unlock()

	if hungUp {
		return 0, fmt.Errorf("ipcfake: zero-byte read: %w", domain.ErrConnectionClosed)
	}
	time.Sleep(wait)
	return 0, fmt.Errorf("ipcfake: %w", domain.ErrWouldBlock)
}

// Send implements domain.Transport. p must hold exactly one encoded frame.
func (c *Conn) Send(p []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("ipcfake: send on closed conn: %w", domain.ErrIO)
	}
	f, err := codec.ReadFrame(bytes.NewReader(p), codec.Limits{})
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("ipcfake: bad frame: %w", err)
	}
	c.sent = append(c.sent, f)
	respond := c.respond
	c.mu.Unlock()

	if respond != nil {
		c.Inject(respond(f)...)
	}
	return nil
}

// SetReadTimeout implements domain.Transport.
func (c *Conn) SetReadTimeout(d time.Duration) {
	c.mu.Lock()
	c.readTimeout = d
	c.mu.Unlock()
}

// Endpoint implements domain.Transport.
func (c *Conn) Endpoint() string { return c.endpoint }

// Close implements domain.Transport.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// Inject queues frames as if the peer had sent them.
func (c *Conn) Inject(frames ...codec.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range frames {
		c.rx.Write(codec.Encode(f))
	}
}

// InjectRaw queues raw bytes.
func (c *Conn) InjectRaw(b []byte) {
	c.mu.Lock()
	c.rx.Write(b)
	c.mu.Unlock()
}

// FailNextRead makes the next Read return err.
func (c *Conn) FailNextRead(err error) {
	c.mu.Lock()
	c.readErrs = append(c.readErrs, err)
	c.mu.Unlock()
}

// HangUp simulates the peer closing its end: once the buffered bytes are
// read, Read reports a zero-byte read.
func (c *Conn) HangUp() {
	c.mu.Lock()
	c.hungUp = true
	c.mu.Unlock()
}

// Sent returns a copy of every frame written so far.
func (c *Conn) Sent() []codec.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]codec.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentEnvelopes decodes the application frames written so far.
func (c *Conn) SentEnvelopes() []domain.Envelope {
	var out []domain.Envelope
	for _, f := range c.Sent() {
		if f.Op != codec.OpFrame {
			continue
		}
		env, err := codec.DecodeEnvelope(f)
		if err != nil {
			continue
		}
		out = append(out, *env)
	}
	return out
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer is a fake domain.Dialer. next is called with the 1-based attempt
// number and returns the connection (or error) for that dial.
type Dialer struct {
	next func(attempt int) (*Conn, error)

	mu    sync.Mutex
	dials int
	conns []*Conn
}

// NewDialer creates a Dialer driven by next.
func NewDialer(next func(attempt int) (*Conn, error)) *Dialer {
	return &Dialer{next: next}
}

// RefusingDialer never finds a listening peer.
func RefusingDialer() *Dialer {
	return NewDialer(func(int) (*Conn, error) {
		return nil, domain.NewDomainError("Transport.Dial", domain.ErrConnectionRefused, "no endpoint accepted")
	})
}

// PeerDialer returns a fresh peer connection answered by h on every dial.
func PeerDialer(h Handler) *Dialer {
	return NewDialer(func(int) (*Conn, error) {
		return NewConn(Peer(h)), nil
	})
}

// Dial implements domain.Dialer.
func (d *Dialer) Dial(ctx context.Context) (domain.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.dials++
	attempt := d.dials
	d.mu.Unlock()

	c, err := d.next(attempt)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns the connections handed out so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Conn, len(d.conns))
	copy(out, d.conns)
	return out
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Handler answers one request envelope. A nil reply sends nothing.
type Handler func(req domain.Envelope) *domain.Envelope

// Peer builds a Responder that accepts the handshake with READY and hands
// every application frame to h.
func Peer(h Handler) Responder {
	return func(f codec.Frame) []codec.Frame {
		switch f.Op {
		case codec.OpHandshake:
			return []codec.Frame{ReadyFrame()}
		case codec.OpFrame:
			if h == nil {
				return nil
			}
			req, err := codec.DecodeEnvelope(f)
			if err != nil {
				return nil
			}
			reply := h(*req)
			if reply == nil {
				return nil
			}
			return []codec.Frame{EnvelopeFrame(*reply)}
		default:
			return nil
		}
	}
}

// Echo answers a request with its own args as data. For SET_ACTIVITY the
// activity object is echoed, as the desktop client does.
func Echo(req domain.Envelope) *domain.Envelope {
	data := req.Args
	if req.Cmd == domain.CmdSetActivity {
		var args struct {
			Activity json.RawMessage `json:"activity"`
		}
		if err := json.Unmarshal(req.Args, &args); err == nil {
			data = args.Activity
		}
	}
	return &domain.Envelope{Cmd: req.Cmd, Data: data, Nonce: req.Nonce}
}

// Reject answers every request with an ERROR event.
func Reject(code int, message string) Handler {
	return func(req domain.Envelope) *domain.Envelope {
		data, _ := json.Marshal(domain.ErrorData{Code: code, Message: message})
		return &domain.Envelope{Cmd: req.Cmd, Data: data, Evt: domain.EvtError, Nonce: req.Nonce}
	}
}

// ReadyFrame is the READY dispatch a desktop client sends after the handshake.
func ReadyFrame() codec.Frame {
	return codec.Frame{Op: codec.OpFrame, Payload: []byte(
		`{"cmd":"DISPATCH","evt":"READY","data":{"v":1,` +
			`"config":{"cdn_host":"cdn.discordapp.com","api_endpoint":"//discord.com/api","environment":"production"},` +
			`"user":{"id":"1045800378228281345","username":"tester","discriminator":"0","avatar":"abc"}}}`)}
}

// DispatchFrame builds an asynchronous event frame.
func DispatchFrame(evt domain.Event, data any) codec.Frame {
	raw, _ := json.Marshal(data)
	return EnvelopeFrame(domain.Envelope{Cmd: domain.CmdDispatch, Evt: evt, Data: raw})
}

// EnvelopeFrame wraps env in an application frame.
func EnvelopeFrame(env domain.Envelope) codec.Frame {
	f, err := codec.NewJSONFrame(codec.OpFrame, env)
	if err != nil {
		panic(err)
	}
	return f
}
