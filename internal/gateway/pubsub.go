package gateway

import (
	"context"

	goredis "github.com/go-redis/redis/v8"
)

// ChannelPattern matches every envelope point and signal channel.
const ChannelPattern = "pub:nwe:*"

// RunPubSub routes messages from a confirmed Redis subscription to the hub.
// Blocks until ctx is cancelled or the subscription closes.
func (h *Hub) RunPubSub(ctx context.Context, ps *goredis.PubSub) {
	defer ps.Close()
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(msg.Channel, []byte(msg.Payload))
		}
	}
}
