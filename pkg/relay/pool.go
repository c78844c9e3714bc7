package relay

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/handlerstream/pkg/streammanager"
)

// clientPool tracks the downstream clients of one stream key. It holds its own
// subscription on the stream so the upstream survives short gaps between clients;
// onIdle fires once the pool stayed empty for idleTimeout.
type clientPool struct {
	key         string
	mu          sync.Mutex
	clients     map[string]*client
	keeper      *streammanager.Handle
	released    bool
	idleTimer   *time.Timer
	idleTimeout time.Duration
	onIdle      func()
}

func newClientPool(key string, idleTimeout time.Duration, onIdle func()) *clientPool {
	return &clientPool{
		key:         key,
		clients:     map[string]*client{},
		idleTimeout: idleTimeout,
		onIdle:      onIdle,
	}
}

func (p *clientPool) Add(c *client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return false
	}
	p.clients[c.id] = c
	p.stopIdleTimerLocked()
	return true
}

func (p *clientPool) Remove(c *client) {
	p.mu.Lock()
	delete(p.clients, c.id)
	idleNow := p.scheduleIdleTimerLocked()
	p.mu.Unlock()
	if idleNow {
		p.triggerIdle()
	}
}

func (p *clientPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *clientPool) ClientIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.clients))
	for id := range p.clients {
		out = append(out, id)
	}
	return out
}

// release closes every client and drops the keeper subscription. It refuses while
// clients are attached unless force is set.
func (p *clientPool) release(force bool) bool {
	p.mu.Lock()
	if p.released || (!force && len(p.clients) > 0) {
		p.mu.Unlock()
		return false
	}
	p.released = true
	p.stopIdleTimerLocked()
	clients := make([]*client, 0, len(p.clients))
	for id, c := range p.clients {
		clients = append(clients, c)
		delete(p.clients, id)
	}
	keeper := p.keeper
	p.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	keeper.Unsubscribe()
	log.Debug().Str("component", "relay").Str("key", p.key).Int("clients", len(clients)).Msg("released stream pool")
	return true
}

func (p *clientPool) stopIdleTimerLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}

// scheduleIdleTimerLocked arms the idle timer for an empty pool. It reports true when
// the pool should go idle immediately.
func (p *clientPool) scheduleIdleTimerLocked() bool {
	p.stopIdleTimerLocked()
	if len(p.clients) != 0 || p.released || p.onIdle == nil {
		return false
	}
	if p.idleTimeout <= 0 {
		return true
	}
	p.idleTimer = time.AfterFunc(p.idleTimeout, p.triggerIdle)
	return false
}

func (p *clientPool) triggerIdle() {
	var callback func()
	p.mu.Lock()
	if len(p.clients) == 0 && !p.released {
		callback = p.onIdle
	}
	p.idleTimer = nil
	p.mu.Unlock()
	if callback != nil {
		callback()
	}
}
