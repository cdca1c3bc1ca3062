package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rzbill/cruise/pkg/log"
)

// watchHub fans events out to watchers registered per resource type and
// namespace. Slow watchers lose events rather than block writers.
type watchHub struct {
	mu     sync.RWMutex
	conns  map[string][]chan WatchEvent // key is resourceType:namespace
	closed bool
	logger log.Logger
}

func newWatchHub(logger log.Logger) *watchHub {
	return &watchHub{conns: make(map[string][]chan WatchEvent), logger: logger}
}

func watchKey(resourceType ResourceType, namespace string) string {
	return fmt.Sprintf("%s:%s", resourceType, namespace)
}

func (h *watchHub) watch(ctx context.Context, resourceType ResourceType, namespace string) (<-chan WatchEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("cannot create new watch: %w", ErrClosed)
	}

	ch := make(chan WatchEvent, 10)
	key := watchKey(resourceType, namespace)
	h.conns[key] = append(h.conns[key], ch)

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		conns := h.conns[key]
		for i, c := range conns {
			if c == ch {
				h.conns[key] = append(conns[:i], conns[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.conns[key]) == 0 {
			delete(h.conns, key)
		}
	}()
	return ch, nil
}

func (h *watchHub) emit(event WatchEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	keys := []string{watchKey(event.ResourceType, "")}
	if event.Namespace != "" {
		keys = append(keys, watchKey(event.ResourceType, event.Namespace))
	}
	for _, key := range keys {
		for _, ch := range h.conns[key] {
			select {
			case ch <- event:
			default:
				h.logger.Warn("Watch client channel is full, dropping event",
					log.Any("type", event.Type),
					log.Any("resourceType", event.ResourceType),
					log.Str("namespace", event.Namespace),
					log.Str("name", event.Name))
			}
		}
	}
}

func (h *watchHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, conns := range h.conns {
		for _, ch := range conns {
			close(ch)
		}
	}
	h.conns = map[string][]chan WatchEvent{}
}
