package app

import (
	"sync"
	"time"

	"omr-scan-service/internal/domain"
)

// StatusEvent is one scan status transition pushed to watchers.
type StatusEvent struct {
	ScanID    string            `json:"scan_id"`
	Status    domain.ScanStatus `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// WatchHub fans scan status transitions out to subscribers, a push alternative
// to polling GET /scans/{id}.
type WatchHub struct {
	mu   sync.Mutex
	subs map[string]map[chan StatusEvent]struct{}
}

func NewWatchHub() *WatchHub {
	return &WatchHub{subs: make(map[string]map[chan StatusEvent]struct{})}
}

// Subscribe returns a channel of status events for one scan. The caller must
// invoke the returned cancel function to avoid leaks.
func (h *WatchHub) Subscribe(scanID string) (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 8)

	h.mu.Lock()
	if h.subs[scanID] == nil {
		h.subs[scanID] = make(map[chan StatusEvent]struct{})
	}
	h.subs[scanID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[scanID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, scanID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every watcher of the scan. Slow watchers lose
// the oldest buffered event rather than blocking the publisher.
func (h *WatchHub) Publish(ev StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.ScanID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
