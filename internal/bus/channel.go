package bus

import (
	"context"
	"sync"
)

// ChannelBus is an in-process Bus: offers go to per-contractor channels,
// status events to per-job subscriber channels. Used in tests and for
// embedded deployments; the websocket server is the networked
// counterpart.
type ChannelBus struct {
	mu        sync.RWMutex
	offers    map[string]chan OfferEvent
	watchers  map[string][]chan StatusEvent
	responses chan OfferResponse
}

func NewChannelBus() *ChannelBus {
	return &ChannelBus{
		offers:    make(map[string]chan OfferEvent),
		watchers:  make(map[string][]chan StatusEvent),
		responses: make(chan OfferResponse, 64),
	}
}

// Connect attaches a contractor endpoint and returns its offer channel.
func (b *ChannelBus) Connect(contractorID string) <-chan OfferEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan OfferEvent, 8)
	b.offers[contractorID] = ch
	return ch
}

func (b *ChannelBus) Disconnect(contractorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.offers[contractorID]; ok {
		close(ch)
		delete(b.offers, contractorID)
	}
}

func (b *ChannelBus) SendOffer(ctx context.Context, ev OfferEvent) error {
	b.mu.RLock()
	ch, ok := b.offers[ev.ContractorID]
	b.mu.RUnlock()
	if !ok {
		return ErrUnreachable
	}
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrUnreachable
	}
}

// Watch subscribes to a job's status events.
func (b *ChannelBus) Watch(jobID string) <-chan StatusEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan StatusEvent, 16)
	b.watchers[jobID] = append(b.watchers[jobID], ch)
	return ch
}

func (b *ChannelBus) SendStatus(ctx context.Context, ev StatusEvent) error {
	b.mu.RLock()
	watchers := append([]chan StatusEvent(nil), b.watchers[ev.JobID]...)
	b.mu.RUnlock()
	for _, ch := range watchers {
		select {
		case ch <- ev:
		default:
			// Slow watcher; drop rather than stall dispatch.
		}
	}
	return nil
}

// Respond feeds a contractor decision back to the coordinator.
func (b *ChannelBus) Respond(resp OfferResponse) {
	b.responses <- resp
}

func (b *ChannelBus) Responses() <-chan OfferResponse {
	return b.responses
}
