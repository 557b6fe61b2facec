package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"discord-rpc/internal/domain"
	"discord-rpc/pkg/rpcsdk"
)

// Presence is the client surface the gateway drives. *rpcsdk.Client
// implements it.
type Presence interface {
	ClientID() string
	State() domain.ConnectionState
	Ready() (*rpcsdk.ReadyEvent, bool)
	SetActivity(ctx context.Context, a rpcsdk.Activity) (*rpcsdk.Activity, error)
	ClearActivity(ctx context.Context) error
	Subscribe(ctx context.Context, evt domain.Event, args any) (*rpcsdk.Subscription, error)
	Unsubscribe(ctx context.Context, evt domain.Event, args any) (*rpcsdk.Subscription, error)
	OnEvent(evt domain.Event, handler func(ctx context.Context, n domain.Notification)) func()
}

var _ Presence = (*rpcsdk.Client)(nil)

// subscriptionParams is the payload of subscribe and unsubscribe.
type subscriptionParams struct {
	Evt  domain.Event    `json:"evt"`
	Args json.RawMessage `json:"args,omitempty"`
}

// registerPresenceHandlers installs the built-in WebSocket methods.
func registerPresenceHandlers(s *Server) {
	s.RegisterHandler("status", func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(s.status())
	})

	s.RegisterHandler("set_activity", func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var a rpcsdk.Activity
		if err := decodeParams(payload, &a); err != nil {
			return nil, err
		}
		got, err := s.presence.SetActivity(ctx, a)
		if err != nil {
			return nil, err
		}
		s.logger.Debug("activity set via gateway", "client", client.Name)
		return json.Marshal(got)
	})

	s.RegisterHandler("clear_activity", func(ctx context.Context, client *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		if err := s.presence.ClearActivity(ctx); err != nil {
			return nil, err
		}
		s.logger.Debug("activity cleared via gateway", "client", client.Name)
		return json.RawMessage(`{}`), nil
	})

	s.RegisterHandler("subscribe", subscriptionHandler(s.presence.Subscribe))
	s.RegisterHandler("unsubscribe", subscriptionHandler(s.presence.Unsubscribe))
}

func subscriptionHandler(fn func(context.Context, domain.Event, any) (*rpcsdk.Subscription, error)) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var p subscriptionParams
		if err := decodeParams(payload, &p); err != nil {
			return nil, err
		}
		var args any
		if len(p.Args) > 0 {
			args = p.Args
		}
		sub, err := fn(ctx, p.Evt, args)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sub)
	}
}

func decodeParams(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func errorCode(err error) string {
	if errors.Is(err, ErrMethodNotFound) {
		return "METHOD_NOT_FOUND"
	}
	if errors.Is(err, ErrUnauthorized) {
		return "UNAUTHORIZED"
	}
	return string(domain.ErrorCodeOf(err))
}
