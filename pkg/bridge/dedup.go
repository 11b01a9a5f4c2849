package bridge

import "sync"

// recentIDs remembers the last N message keys so a message the chat client
// reports twice is forwarded once. It lives as long as the bridge.
type recentIDs struct {
	mu    sync.Mutex
	ring  []string
	next  int
	index map[string]struct{}
}

func newRecentIDs(size int) *recentIDs {
	if size <= 0 {
		size = 1
	}
	return &recentIDs{
		ring:  make([]string, size),
		index: make(map[string]struct{}, size),
	}
}

// Seen records key and reports whether it was already present.
func (r *recentIDs) Seen(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[key]; ok {
		return true
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.index, old)
	}
	r.ring[r.next] = key
	r.index[key] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return false
}
