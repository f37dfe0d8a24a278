package gateway

import (
	"strconv"
	"time"
)

// buildEnvelope hand-crafts {"channel":...,"data":...,"ts":...,"seq":N}.
// data must already be valid JSON; channel names never need escaping.
func buildEnvelope(channel string, data []byte, ts time.Time, seq int64, initial bool) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}

// Broadcast records data as the channel's latest message and sends it to
// every client whose subscription matches. Slow clients drop the message.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.channelSeqs[channel]++
	seq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: seq}
	rb, ok := h.replayBufs[channel]
	if !ok {
		rb = NewReplayBuffer(replayPerChannel)
		h.replayBufs[channel] = rb
	}
	h.mu.Unlock()

	buf := buildEnvelope(channel, data, now, seq, false)
	rb.Push(seq, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.matchesChannel(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			if h.prom != nil {
				h.prom.GatewayDrops.Inc()
			}
		}
	}
}
