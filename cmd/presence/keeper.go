package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"discord-rpc/pkg/rpcsdk"
)

// keeper remembers the last published activity and publishes it again after
// every reconnect, since Discord drops an activity with its connection.
type keeper struct {
	*rpcsdk.Client
	log *slog.Logger

	mu      sync.Mutex
	current *rpcsdk.Activity
}

func newKeeper(c *rpcsdk.Client, log *slog.Logger) *keeper {
	return &keeper{Client: c, log: log}
}

// SetActivity publishes a and remembers it.
func (k *keeper) SetActivity(ctx context.Context, a rpcsdk.Activity) (*rpcsdk.Activity, error) {
	got, err := k.Client.SetActivity(ctx, a)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	k.current = &a
	k.mu.Unlock()
	return got, nil
}

// ClearActivity clears the activity and forgets it.
func (k *keeper) ClearActivity(ctx context.Context) error {
	if err := k.Client.ClearActivity(ctx); err != nil {
		return err
	}
	k.mu.Lock()
	k.current = nil
	k.mu.Unlock()
	return nil
}

// remember sets the activity run publishes on the next connect.
func (k *keeper) remember(a rpcsdk.Activity) {
	k.mu.Lock()
	k.current = &a
	k.mu.Unlock()
}

// run re-applies the remembered activity on every signal from connected
// until ctx is done.
func (k *keeper) run(ctx context.Context, connected <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-connected:
		}

		k.mu.Lock()
		current := k.current
		k.mu.Unlock()
		if current == nil {
			continue
		}

		actx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if _, err := k.Client.SetActivity(actx, *current); err != nil {
			k.log.Warn("failed to restore activity after reconnect", "error", err)
		} else {
			k.log.Info("activity restored after reconnect")
		}
		cancel()
	}
}
