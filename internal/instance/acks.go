package instance

import (
	"context"
	"sync"
)

const ackCacheSize = 256

// ackCache runs the handler once per request id and replays its ack for
// duplicates, including duplicates that arrive while the first is running.
type ackCache struct {
	mu       sync.Mutex
	done     map[string]Ack
	order    []string
	inflight map[string]chan struct{}
}

func newAckCache() *ackCache {
	return &ackCache{
		done:     make(map[string]Ack),
		inflight: make(map[string]chan struct{}),
	}
}

func (c *ackCache) do(ctx context.Context, id string, run func() Ack) (Ack, bool) {
	for {
		c.mu.Lock()
		if ack, ok := c.done[id]; ok {
			c.mu.Unlock()
			return ack, true
		}
		wait, busy := c.inflight[id]
		if !busy {
			ch := make(chan struct{})
			c.inflight[id] = ch
			c.mu.Unlock()

			ack := run()

			c.mu.Lock()
			c.store(id, ack)
			delete(c.inflight, id)
			close(ch)
			c.mu.Unlock()
			return ack, false
		}
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Ack{Type: TypeImportAck, ID: id, Error: ctx.Err().Error()}, false
		}
	}
}

func (c *ackCache) store(id string, ack Ack) {
	if len(c.order) >= ackCacheSize {
		delete(c.done, c.order[0])
		c.order = c.order[1:]
	}
	c.done[id] = ack
	c.order = append(c.order, id)
}
