package rpcsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discord-rpc/internal/adapter/codec"
	"discord-rpc/internal/domain"
	"discord-rpc/internal/testutil/ipcfake"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func testOptions(dialer Dialer, extra ...Option) []Option {
	return append([]Option{
		WithDialer(dialer),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPolling(5*time.Millisecond, time.Millisecond),
		WithBackoff(time.Millisecond, 1, 0),
		WithHandshakeTimeout(100 * time.Millisecond),
		WithActivityRateLimit(0, 0),
	}, extra...)
}

// startClient starts a client against dialer and waits for the handshake.
func startClient(t *testing.T, dialer Dialer, extra ...Option) *Client {
	t.Helper()
	c, err := New("1045800378228281345", testOptions(dialer, extra...)...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	require.Eventually(t, c.IsConnected, waitFor, tick)
	return c
}

func ctxTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestNewRequiresClientID(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExecuteEchoSetActivity(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(ipcfake.Echo))

	args := json.RawMessage(`{"pid":1234,"activity":{"state":"testing"}}`)
	env, err := c.Execute(ctxTimeout(t, waitFor), CmdSetActivity, args, "")
	require.NoError(t, err)

	var data struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "testing", data.State)
	assert.Equal(t, CmdSetActivity, env.Cmd)
}

func TestExecuteRequestEnvelope(t *testing.T) {
	dialer := ipcfake.PeerDialer(ipcfake.Echo)
	c := startClient(t, dialer)

	_, err := c.Execute(ctxTimeout(t, waitFor), CmdSubscribe, map[string]string{}, EvtActivityJoin)
	require.NoError(t, err)

	sent := dialer.Last().SentEnvelopes()
	require.Len(t, sent, 1)
	assert.Equal(t, CmdSubscribe, sent[0].Cmd)
	assert.Equal(t, EvtActivityJoin, sent[0].Evt)
	assert.Len(t, sent[0].Nonce, 26, "ULID nonce")
	assert.JSONEq(t, `{}`, string(sent[0].Args))
}

func TestExecuteNoncesUnique(t *testing.T) {
	dialer := ipcfake.PeerDialer(ipcfake.Echo)
	c := startClient(t, dialer)

	for i := 0; i < 5; i++ {
		_, err := c.Execute(ctxTimeout(t, waitFor), CmdSubscribe, nil, EvtActivityJoin)
		require.NoError(t, err)
	}
	seen := map[string]bool{}
	for _, env := range dialer.Last().SentEnvelopes() {
		assert.False(t, seen[env.Nonce], "duplicate nonce %s", env.Nonce)
		seen[env.Nonce] = true
	}
	assert.Len(t, seen, 5)
}

func TestExecuteErrorEventIsCommandFailed(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(ipcfake.Reject(4000, "Invalid Client ID")))

	env, err := c.Execute(ctxTimeout(t, waitFor), CmdSetActivity, json.RawMessage(`{"pid":1}`), "")
	assert.Nil(t, env)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandFailed)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 4000, cmdErr.Code)
	assert.Equal(t, "Invalid Client ID", cmdErr.Message)
	assert.Equal(t, CmdSetActivity, cmdErr.Cmd)
}

func TestExecuteDropsStaleResponse(t *testing.T) {
	// Answer every request twice: first with a stale nonce, then correctly.
	dialer := ipcfake.NewDialer(func(int) (*ipcfake.Conn, error) {
		return ipcfake.NewConn(func(f codec.Frame) []codec.Frame {
			if f.Op == codec.OpHandshake {
				return []codec.Frame{ipcfake.ReadyFrame()}
			}
			req, err := codec.DecodeEnvelope(f)
			if err != nil {
				return nil
			}
			return []codec.Frame{
				ipcfake.EnvelopeFrame(domain.Envelope{Cmd: req.Cmd, Data: json.RawMessage(`{"state":"stale"}`), Nonce: "old-nonce"}),
				ipcfake.EnvelopeFrame(domain.Envelope{Cmd: req.Cmd, Data: json.RawMessage(`{"state":"fresh"}`), Nonce: req.Nonce}),
			}
		}), nil
	})
	c := startClient(t, dialer)

	env, err := c.Execute(ctxTimeout(t, waitFor), CmdSetActivity, nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"fresh"}`, string(env.Data))
}

func TestExecuteMalformedResponse(t *testing.T) {
	dialer := ipcfake.NewDialer(func(int) (*ipcfake.Conn, error) {
		return ipcfake.NewConn(func(f codec.Frame) []codec.Frame {
			if f.Op == codec.OpHandshake {
				return []codec.Frame{ipcfake.ReadyFrame()}
			}
			return []codec.Frame{{Op: codec.OpFrame, Payload: []byte(`{"cmd":`)}}
		}), nil
	})
	c := startClient(t, dialer)

	_, err := c.Execute(ctxTimeout(t, waitFor), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestDispatchGoesToEventHandlers(t *testing.T) {
	dialer := ipcfake.PeerDialer(ipcfake.Echo)
	c := startClient(t, dialer)

	joins := make(chan ActivityJoinEvent, 1)
	c.OnActivityJoin(func(ev ActivityJoinEvent) { joins <- ev })

	var all atomic.Int32
	c.OnEvent("", func(context.Context, Notification) { all.Add(1) })

	requests := make(chan ActivityJoinRequestEvent, 1)
	c.OnActivityJoinRequest(func(ev ActivityJoinRequestEvent) { requests <- ev })

	dialer.Last().Inject(
		ipcfake.DispatchFrame(EvtActivityJoin, ActivityJoinEvent{Secret: "s3cr3t"}),
		ipcfake.DispatchFrame(EvtActivityJoinRequest, ActivityJoinRequestEvent{User: PartialUser{ID: "42", Username: "friend"}}),
	)

	select {
	case ev := <-joins:
		assert.Equal(t, "s3cr3t", ev.Secret)
	case <-time.After(waitFor):
		t.Fatal("ACTIVITY_JOIN not delivered")
	}
	select {
	case ev := <-requests:
		assert.Equal(t, "friend", ev.User.Username)
	case <-time.After(waitFor):
		t.Fatal("ACTIVITY_JOIN_REQUEST not delivered")
	}
	assert.Eventually(t, func() bool { return all.Load() == 2 }, waitFor, tick)
}

func TestDispatchDoesNotCompleteRequest(t *testing.T) {
	dialer := ipcfake.NewDialer(func(int) (*ipcfake.Conn, error) {
		return ipcfake.NewConn(func(f codec.Frame) []codec.Frame {
			if f.Op == codec.OpHandshake {
				return []codec.Frame{ipcfake.ReadyFrame()}
			}
			req, _ := codec.DecodeEnvelope(f)
			return []codec.Frame{
				ipcfake.DispatchFrame(EvtActivitySpectate, ActivitySpectateEvent{Secret: "x"}),
				ipcfake.EnvelopeFrame(domain.Envelope{Cmd: req.Cmd, Data: json.RawMessage(`{"ok":true}`), Nonce: req.Nonce}),
			}
		}), nil
	})
	c := startClient(t, dialer)

	env, err := c.Execute(ctxTimeout(t, waitFor), CmdSetActivity, nil, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(env.Data))
}

func TestConcurrentExecute(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(ipcfake.Echo))

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			args := map[string]int{"i": i}
			env, err := c.Execute(ctxTimeout(t, waitFor), CmdSubscribe, args, EvtActivityJoin)
			if err != nil {
				errs <- err
				return
			}
			var got map[string]int
			if err := json.Unmarshal(env.Data, &got); err != nil || got["i"] != i {
				errs <- errors.New("response routed to the wrong caller")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExecuteTimeout(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(nil))

	_, err := c.Execute(ctxTimeout(t, 30*time.Millisecond), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteDefaultRequestTimeout(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(nil), WithRequestTimeout(30*time.Millisecond))

	_, err := c.Execute(context.Background(), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecuteNotStarted(t *testing.T) {
	c, err := New("1", testOptions(ipcfake.PeerDialer(nil))...)
	require.NoError(t, err)
	defer c.Stop()

	_, err = c.Execute(context.Background(), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestExecuteAfterStop(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(ipcfake.Echo))
	c.Stop()

	_, err := c.Execute(context.Background(), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Start(context.Background()), ErrClosed)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestExecuteAfterStartContextCancelled(t *testing.T) {
	dialer := ipcfake.PeerDialer(ipcfake.Echo)
	c, err := New("1045800378228281345", testOptions(dialer)...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx))
	defer c.Stop()
	require.Eventually(t, c.IsConnected, waitFor, tick)

	cancel()
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("client did not stop with its context")
	}

	start := time.Now()
	_, err = c.Execute(context.Background(), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, c.manager.Pending(), "no frame may be left on the outbound queue")
}

func TestStopFailsPendingRequest(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(nil), WithRequestTimeout(0))

	errc := make(chan error, 1)
	go func() {
		_, err := c.Execute(context.Background(), CmdSetActivity, nil, "")
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(waitFor):
		t.Fatal("pending Execute not released by Stop")
	}
}

func TestStopBeforeStart(t *testing.T) {
	c, err := New("1", testOptions(ipcfake.PeerDialer(nil))...)
	require.NoError(t, err)
	c.Stop()
	c.Stop()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestStartTwice(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(nil))
	assert.Error(t, c.Start(context.Background()))
}

func TestRetriesExhausted(t *testing.T) {
	c, err := New("1", testOptions(ipcfake.RefusingDialer(), WithMaxRetries(2))...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("client did not give up")
	}
	assert.ErrorIs(t, c.Err(), ErrRetriesExhausted)
	assert.Equal(t, StateExhausted, c.State())

	_, err = c.Execute(context.Background(), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestPendingRequestFailsOnExhaustion(t *testing.T) {
	c, err := New("1", testOptions(ipcfake.RefusingDialer(),
		WithMaxRetries(3), WithBackoff(30*time.Millisecond, 1, 0), WithRequestTimeout(0))...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	_, err = c.Execute(context.Background(), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestRequestQueuedUntilConnected(t *testing.T) {
	dialer := ipcfake.NewDialer(func(attempt int) (*ipcfake.Conn, error) {
		if attempt < 3 {
			return nil, domain.NewDomainError("Transport.Dial", domain.ErrConnectionRefused, "")
		}
		return ipcfake.NewConn(ipcfake.Peer(ipcfake.Echo)), nil
	})
	c, err := New("1", testOptions(dialer, WithBackoff(10*time.Millisecond, 1, 0))...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	env, err := c.Execute(ctxTimeout(t, waitFor), CmdSetActivity,
		json.RawMessage(`{"pid":1,"activity":{"state":"queued"}}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"queued"}`, string(env.Data))
	assert.Equal(t, 3, dialer.Dials())
}

func TestBreakerOpensOnTimeouts(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(nil), WithBreaker(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := c.Execute(ctxTimeout(t, 20*time.Millisecond), CmdSetActivity, nil, "")
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}

	start := time.Now()
	_, err := c.Execute(ctxTimeout(t, time.Second), CmdSetActivity, nil, "")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "open breaker fails fast")
}

func TestBreakerIgnoresCommandFailures(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(ipcfake.Reject(4002, "nope")), WithBreaker(1, time.Minute))

	for i := 0; i < 3; i++ {
		_, err := c.Execute(ctxTimeout(t, waitFor), CmdSetActivity, nil, "")
		require.ErrorIs(t, err, ErrCommandFailed)
	}
}

func TestBreakerIgnoresLifecycleErrors(t *testing.T) {
	c, err := New("1", testOptions(ipcfake.RefusingDialer(),
		WithMaxRetries(3), WithBackoff(30*time.Millisecond, 1, 0),
		WithRequestTimeout(0), WithBreaker(1, time.Minute))...)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	_, err = c.Execute(context.Background(), CmdSetActivity, nil, "")
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())

	c.Stop()
	_, err = c.Execute(context.Background(), CmdSetActivity, nil, "")
	require.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
}

func TestReady(t *testing.T) {
	c := startClient(t, ipcfake.PeerDialer(nil))

	ready, ok := c.Ready()
	require.True(t, ok)
	assert.Equal(t, 1, ready.V)
	assert.Equal(t, "tester", ready.User.Username)
	assert.Equal(t, "cdn.discordapp.com", ready.Config.CDNHost)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := startClient(t, ipcfake.PeerDialer(ipcfake.Echo), WithRegisterer(reg))

	_, err := c.Execute(ctxTimeout(t, waitFor), CmdSubscribe, nil, EvtActivityJoin)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["discord_rpc_commands_total"], "have %v", names)
	assert.True(t, names["discord_rpc_connect_attempts_total"], "have %v", names)
}

func TestStateListener(t *testing.T) {
	var mu sync.Mutex
	var seen []ConnectionState
	startClient(t, ipcfake.PeerDialer(nil), WithStateListener(func(_, to ConnectionState) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	}))

	want := []ConnectionState{StateConnecting, StateHandshaking, StateConnected}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return assert.ObjectsAreEqual(want, seen)
	}, waitFor, tick)
}
