package rpcsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"discord-rpc/internal/domain"
)

// SetActivity publishes a as the user's rich presence and returns the
// activity as accepted by the desktop client. Calls are rate limited.
func (c *Client) SetActivity(ctx context.Context, a Activity) (*Activity, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	env, err := c.Execute(ctx, domain.CmdSetActivity, SetActivityArgs{PID: os.Getpid(), Activity: &a}, "")
	if err != nil {
		return nil, err
	}
	var out Activity
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &out); err != nil {
			return nil, fmt.Errorf("decode SET_ACTIVITY response: %w: %v", domain.ErrProtocol, err)
		}
	}
	return &out, nil
}

// ClearActivity removes the user's rich presence.
func (c *Client) ClearActivity(ctx context.Context) error {
	_, err := c.Execute(ctx, domain.CmdSetActivity, SetActivityArgs{PID: os.Getpid()}, "")
	return err
}

// SendActivityJoinInvite accepts userID's request to join.
func (c *Client) SendActivityJoinInvite(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.NewDomainError("SendActivityJoinInvite", domain.ErrInvalidInput, "user id is required")
	}
	_, err := c.Execute(ctx, domain.CmdSendActivityJoinInvite, ActivityInviteArgs{UserID: userID}, "")
	return err
}

// CloseActivityRequest rejects userID's request to join.
func (c *Client) CloseActivityRequest(ctx context.Context, userID string) error {
	if userID == "" {
		return domain.NewDomainError("CloseActivityRequest", domain.ErrInvalidInput, "user id is required")
	}
	_, err := c.Execute(ctx, domain.CmdCloseActivityRequest, ActivityInviteArgs{UserID: userID}, "")
	return err
}

// Subscribe asks the desktop client to dispatch evt. args is usually nil.
func (c *Client) Subscribe(ctx context.Context, evt Event, args any) (*Subscription, error) {
	return c.subscription(ctx, domain.CmdSubscribe, evt, args)
}

// Unsubscribe stops dispatches of evt.
func (c *Client) Unsubscribe(ctx context.Context, evt Event, args any) (*Subscription, error) {
	return c.subscription(ctx, domain.CmdUnsubscribe, evt, args)
}

func (c *Client) subscription(ctx context.Context, cmd Command, evt Event, args any) (*Subscription, error) {
	if evt == "" {
		return nil, domain.NewDomainError(string(cmd), domain.ErrInvalidInput, "event is required")
	}
	if args == nil {
		args = json.RawMessage(`{}`)
	}
	env, err := c.Execute(ctx, cmd, args, evt)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{Evt: evt}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		_ = json.Unmarshal(env.Data, sub)
	}
	return sub, nil
}
