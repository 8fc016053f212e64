package memory

import (
	"context"
	"path"
	"sync"

	"github.com/alanyoungcy/celomarket/internal/domain"
)

const subscriberBuffer = 128

type subscriber struct {
	pattern string
	ch      chan []byte
}

// SignalBus is an in-process domain.SignalBus. Channel arguments to
// Subscribe may be glob patterns ("ch:intent:*"). Slow subscribers drop
// messages rather than block publishers.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[*subscriber]struct{})}
}

// Publish delivers payload to every subscriber whose pattern matches channel.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx ends, then closes its channel.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	if _, err := path.Match(channel, ""); err != nil {
		return nil, err
	}
	s := &subscriber{pattern: channel, ch: make(chan []byte, subscriberBuffer)}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}
