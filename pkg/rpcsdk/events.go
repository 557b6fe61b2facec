package rpcsdk

import (
	"context"
	"encoding/json"

	"discord-rpc/internal/domain"
)

// OnEvent registers handler for dispatches of evt. An empty evt receives
// every dispatch. Handlers for one registration run in order on their own
// goroutine. The returned function unregisters.
//
// Only events the client subscribed to with Subscribe are dispatched by the
// desktop client.
func (c *Client) OnEvent(evt Event, handler func(ctx context.Context, n Notification)) func() {
	if evt == "" {
		return c.bus.SubscribeAll(handler)
	}
	return c.bus.Subscribe(evt, handler)
}

// OnActivityJoin registers a typed handler for ACTIVITY_JOIN.
func (c *Client) OnActivityJoin(fn func(ActivityJoinEvent)) func() {
	return onTyped(c, domain.EvtActivityJoin, fn)
}

// OnActivitySpectate registers a typed handler for ACTIVITY_SPECTATE.
func (c *Client) OnActivitySpectate(fn func(ActivitySpectateEvent)) func() {
	return onTyped(c, domain.EvtActivitySpectate, fn)
}

// OnActivityJoinRequest registers a typed handler for ACTIVITY_JOIN_REQUEST.
func (c *Client) OnActivityJoinRequest(fn func(ActivityJoinRequestEvent)) func() {
	return onTyped(c, domain.EvtActivityJoinRequest, fn)
}

func onTyped[T any](c *Client, evt Event, fn func(T)) func() {
	return c.bus.Subscribe(evt, func(_ context.Context, n domain.Notification) {
		var v T
		if err := json.Unmarshal(n.Data, &v); err != nil {
			c.logger.Warn("dropping undecodable event", "evt", string(evt), "error", err)
			return
		}
		fn(v)
	})
}
