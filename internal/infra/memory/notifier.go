package memory

import (
	"context"
	"sync"

	"ctf-scoring-service/internal/domain"
)

// Notifier is an in-process implementation of app.Notifier. Each scope keeps
// its own subscriber set; a full subscriber buffer drops its oldest change.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[domain.Scope]map[chan domain.Change]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{
		subscribers: make(map[domain.Scope]map[chan domain.Change]struct{}),
	}
}

func (n *Notifier) Publish(_ context.Context, change domain.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subscribers[change.Scope] {
		select {
		case ch <- change:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- change
		}
	}
	return nil
}

func (n *Notifier) Subscribe(_ context.Context, scope domain.Scope) (<-chan domain.Change, func(), error) {
	ch := make(chan domain.Change, 8)

	n.mu.Lock()
	if n.subscribers[scope] == nil {
		n.subscribers[scope] = make(map[chan domain.Change]struct{})
	}
	n.subscribers[scope][ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subs := n.subscribers[scope]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(n.subscribers, scope)
		}
	}
	return ch, cancel, nil
}

// Subscribers reports the number of open subscriptions for scope.
func (n *Notifier) Subscribers(scope domain.Scope) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers[scope])
}
