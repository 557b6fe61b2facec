// Package rpcsdk is a client for the Discord desktop client's local RPC
// socket.
//
// The client owns one background connection that is (re)established
// automatically. Commands are sent with Execute or the typed helpers and
// block until the desktop client answers; asynchronous events are delivered
// to OnEvent handlers.
//
// Example:
//
//	c, err := rpcsdk.New("1045800378228281345")
//	if err != nil { ... }
//	c.Start(ctx)
//	defer c.Stop()
//
//	act, _ := rpcsdk.NewActivity().State("In a match").Details("Ranked").Build()
//	_, err = c.SetActivity(ctx, act)
package rpcsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"discord-rpc/internal/adapter/codec"
	"discord-rpc/internal/adapter/transport"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/infra/metrics"
	"discord-rpc/internal/infra/tracer"
	"discord-rpc/internal/usecase/connection"
	"discord-rpc/internal/usecase/eventbus"
)

// pending is the single in-flight request.
type pending struct {
	nonce string
	reply chan result // capacity 1
}

type result struct {
	env *domain.Envelope
	err error
}

// Client is an RPC client for one application id. It is safe for concurrent
// use; concurrent commands are sent one at a time.
type Client struct {
	clientID string

	// options
	logger           *slog.Logger
	dialer           domain.Dialer
	dialOpts         transport.Options
	connCfg          connection.Config
	requestTimeout   time.Duration
	rateEvery        time.Duration
	rateBurst        int
	breakerFailures  uint32
	breakerTimeout   time.Duration
	registerer       prometheus.Registerer
	metricsNamespace string
	listeners        []func(from, to domain.ConnectionState)

	manager *connection.Manager
	bus     *eventbus.Bus
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*domain.Envelope]
	metrics *metrics.Metrics

	slot chan struct{} // one request in flight

	mu      sync.Mutex
	current *pending

	lifeMu   sync.Mutex
	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopped  chan struct{} // closed by Stop
	done     chan struct{} // closed when the connection loop exits
	runErr   error         // valid after done is closed
}

// New creates a client for clientID. Call Start to connect.
func New(clientID string, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, domain.NewDomainError("rpcsdk.New", domain.ErrInvalidInput, "client id is required")
	}

	c := &Client{
		clientID:        clientID,
		logger:          slog.Default(),
		connCfg:         connection.DefaultConfig(clientID),
		requestTimeout:  defaultRequestTimeout,
		rateEvery:       defaultActivityEvery,
		rateBurst:       defaultActivityBurst,
		breakerFailures: defaultBreakerFailures,
		breakerTimeout:  defaultBreakerTimeout,
		slot:            make(chan struct{}, 1),
		stopped:         make(chan struct{}),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.registerer != nil {
		var mopts []metrics.Option
		if c.metricsNamespace != "" {
			mopts = append(mopts, metrics.WithNamespace(c.metricsNamespace))
		}
		c.metrics = metrics.New(c.registerer, mopts...)
	}
	if c.dialer == nil {
		c.dialOpts.Logger = c.logger
		c.dialer = transport.NewDialer(c.dialOpts)
	}
	if c.rateEvery > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.rateEvery), max(c.rateBurst, 1))
	}
	if c.breakerFailures > 0 {
		c.breaker = c.newBreaker()
	}

	copts := []connection.Option{
		connection.WithLogger(c.logger),
		connection.WithMetrics(c.metrics),
	}
	for _, fn := range c.listeners {
		copts = append(copts, connection.WithStateListener(fn))
	}
	c.manager = connection.NewManager(c.connCfg, c.dialer, copts...)
	c.bus = eventbus.New(c.logger)
	return c, nil
}

func (c *Client) newBreaker() *gobreaker.CircuitBreaker[*domain.Envelope] {
	maxFailures := c.breakerFailures
	return gobreaker.NewCircuitBreaker[*domain.Envelope](gobreaker.Settings{
		Name:        "rpc:" + c.clientID,
		MaxRequests: 1, // one probe in half-open state
		Timeout:     c.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Only transport-side faults count. The peer answering with ERROR,
		// the caller giving up and the client shutting down do not.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrCommandFailed) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, domain.ErrInvalidInput) ||
				errors.Is(err, domain.ErrRetriesExhausted) ||
				errors.Is(err, domain.ErrClosed) ||
				errors.Is(err, domain.ErrNotStarted)
		},
	})
}

// ClientID returns the application id.
func (c *Client) ClientID() string { return c.clientID }

// Start launches the connection loop and the response router. It returns
// immediately; the first connection is made in the background.
// The client stops when ctx is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	select {
	case <-c.stopped:
		return domain.NewDomainError("Client.Start", domain.ErrClosed, "")
	default:
	}
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("rpc client %s already started", c.clientID)
	}

	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		defer close(c.done)
		c.runErr = c.manager.Run(ctx)
		if errors.Is(c.runErr, domain.ErrRetriesExhausted) {
			c.logger.Error("giving up on ipc connection", "client_id", c.clientID, "error", c.runErr)
		}
	}()
	go func() {
		defer c.wg.Done()
		c.route(ctx)
	}()

	c.logger.Info("rpc client started", "client_id", c.clientID)
	return nil
}

// Stop disconnects, fails pending requests with ErrClosed, drains event
// handlers and waits for the background goroutines. Idempotent.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.lifeMu.Lock()
		close(c.stopped)
		if c.started.CompareAndSwap(false, true) {
			close(c.done) // never started
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.lifeMu.Unlock()

		c.manager.Close()
		c.wg.Wait()
		c.bus.Close()
		c.logger.Info("rpc client stopped", "client_id", c.clientID)
	})
}

// Done is closed once the connection loop has exited: after Stop, after the
// start context is cancelled, or after the retry budget is exhausted.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection loop exited, once Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.runErr
	default:
		return nil
	}
}

// State returns the current connection state.
func (c *Client) State() ConnectionState { return c.manager.State() }

// IsConnected reports whether the handshake has completed on the current
// connection.
func (c *Client) IsConnected() bool { return c.manager.IsConnected() }

// Ready returns the READY payload of the current connection.
func (c *Client) Ready() (*ReadyEvent, bool) {
	env := c.manager.Ready()
	if env == nil {
		return nil, false
	}
	var ev ReadyEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		return nil, false
	}
	return &ev, true
}

// Execute sends cmd with args and waits for the matching response.
// args may be nil, a json.RawMessage, or any JSON-marshalable value; evt is
// optional. When the peer answers with an ERROR event the error is a
// *CommandError that matches ErrCommandFailed.
func (c *Client) Execute(ctx context.Context, cmd Command, args any, evt Event) (*Envelope, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}

	raw, err := marshalArgs(args)
	if err != nil {
		return nil, err
	}

	if cmd == domain.CmdSetActivity && c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rpc %s: rate limit: %w", cmd, err)
		}
	}

	if c.requestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
		}
	}

	nonce := ulid.Make().String()
	ctx, span := tracer.StartCommandSpan(ctx, string(cmd), nonce)
	defer span.End()
	if evt != "" {
		span.SetAttributes(tracer.StringAttr(tracer.AttrEvent, string(evt)))
	}

	start := time.Now()
	env, err := c.guarded(func() (*domain.Envelope, error) {
		return c.roundTrip(ctx, domain.Envelope{Cmd: cmd, Args: raw, Evt: evt, Nonce: nonce})
	})
	c.metrics.Command(cmd, err, time.Since(start))

	if err != nil {
		span.SetAttributes(tracer.StringAttr(tracer.AttrErrCode, string(domain.ErrorCodeOf(err))))
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return env, nil
}

func (c *Client) guarded(fn func() (*domain.Envelope, error)) (*domain.Envelope, error) {
	if c.breaker == nil {
		return fn()
	}
	env, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("rpc client %s circuit open: %w", c.clientID, err)
	}
	return env, err
}

func (c *Client) usable() error {
	select {
	case <-c.stopped:
		return domain.NewDomainError("Client.Execute", domain.ErrClosed, "")
	default:
	}
	if !c.started.Load() {
		return domain.NewDomainError("Client.Execute", domain.ErrNotStarted, "")
	}
	return c.loopErr()
}

// loopErr reports why requests can no longer reach the peer once the
// connection loop has exited, and nil while it runs.
func (c *Client) loopErr() error {
	if c.manager.State() == domain.StateExhausted {
		return domain.NewDomainError("Client.Execute", domain.ErrRetriesExhausted, "")
	}
	select {
	case <-c.done:
		if errors.Is(c.runErr, domain.ErrRetriesExhausted) {
			return domain.NewDomainError("Client.Execute", domain.ErrRetriesExhausted, "")
		}
		return domain.NewDomainError("Client.Execute", domain.ErrClosed, "")
	default:
		return nil
	}
}

// roundTrip sends req and waits for its response. Requests are serialized so
// that a response without a nonce can only belong to the one in flight.
func (c *Client) roundTrip(ctx context.Context, req domain.Envelope) (*domain.Envelope, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.stopped:
		return nil, domain.NewDomainError("Client.Execute", domain.ErrClosed, "")
	}
	defer func() { <-c.slot }()

	// The loop may have exited while this request waited for the slot.
	if err := c.loopErr(); err != nil {
		return nil, err
	}

	f, err := codec.NewJSONFrame(codec.OpFrame, req)
	if err != nil {
		return nil, domain.NewDomainError("Client.Execute", domain.ErrInvalidInput, err.Error())
	}

	p := &pending{nonce: req.Nonce, reply: make(chan result, 1)}
	c.mu.Lock()
	c.current = p
	c.mu.Unlock()
	defer c.clear(p)

	if err := c.manager.Send(f); err != nil {
		return nil, domain.NewDomainError("Client.Execute", domain.ErrClosed, err.Error())
	}

	select {
	case r := <-p.reply:
		if r.err != nil {
			return nil, r.err
		}
		if r.env.IsError() {
			return nil, r.env.CommandError()
		}
		return r.env, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("rpc %s: waiting for response: %w", req.Cmd, ctx.Err())
	case <-c.stopped:
		return nil, domain.NewDomainError("Client.Execute", domain.ErrClosed, "")
	case <-c.done:
		return nil, c.loopErr()
	}
}

func (c *Client) clear(p *pending) {
	c.mu.Lock()
	if c.current == p {
		c.current = nil
	}
	c.mu.Unlock()
}

// route consumes inbound frames until the queue closes or ctx is done.
func (c *Client) route(ctx context.Context) {
	for {
		f, err := c.manager.Recv(ctx)
		if err != nil {
			return
		}
		c.dispatch(ctx, f)
	}
}

func (c *Client) dispatch(ctx context.Context, f codec.Frame) {
	env, err := codec.DecodeEnvelope(f)
	if err != nil {
		c.logger.Warn("malformed frame from peer", "error", err, "bytes", len(f.Payload))
		c.complete("", result{err: domain.NewDomainError("Client.Execute", err, "malformed response")})
		return
	}

	if env.IsDispatch() {
		c.metrics.Notification(env.Evt)
		c.bus.Publish(ctx, domain.Notification{Type: env.Evt, Timestamp: time.Now(), Data: env.Data})
		return
	}
	c.complete(env.Nonce, result{env: env})
}

// complete hands r to the in-flight request. A response carrying a nonce
// other than the in-flight one is stale and dropped.
func (c *Client) complete(nonce string, r result) {
	c.mu.Lock()
	p := c.current
	if p == nil || (nonce != "" && nonce != p.nonce) {
		c.mu.Unlock()
		c.logger.Debug("dropping unmatched response", "nonce", nonce)
		return
	}
	c.current = nil
	c.mu.Unlock()
	p.reply <- r
}

func marshalArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, domain.NewDomainError("Client.Execute", domain.ErrInvalidInput, "marshal args: "+err.Error())
		}
		return raw, nil
	}
}
