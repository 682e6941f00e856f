// pkg/events/deduplicator.go
package events

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

const defaultDedupWindow = 5 * time.Minute

// EventDeduplicator prevents duplicate events within a time window. A tuple is
// re-observed every tick, so without it a matched connection would raise the
// same event for as long as it lives.
type EventDeduplicator struct {
	seen          map[string]time.Time
	window        time.Duration
	mu            sync.Mutex
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewEventDeduplicator creates a new event deduplicator
func NewEventDeduplicator(window time.Duration) *EventDeduplicator {
	if window <= 0 {
		window = defaultDedupWindow
	}
	ed := &EventDeduplicator{
		seen:        make(map[string]time.Time),
		window:      window,
		stopCleanup: make(chan struct{}),
	}

	ed.cleanupTicker = time.NewTicker(window / 2)
	go ed.cleanupLoop()

	return ed
}

// IsDuplicate checks if event is a duplicate within the time window
func (ed *EventDeduplicator) IsDuplicate(event VerdictEvent) bool {
	hash := ed.eventHash(event)

	ed.mu.Lock()
	defer ed.mu.Unlock()

	lastSeen, exists := ed.seen[hash]
	if exists && time.Since(lastSeen) < ed.window {
		return true
	}
	ed.seen[hash] = time.Now()
	return false
}

// eventHash keys an event on its type, the tuple and the matched label.
func (ed *EventDeduplicator) eventHash(event VerdictEvent) string {
	data := fmt.Sprintf("%s:%s:%s", event.Type, event.Target, event.Verdict.Label)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Len returns the number of tracked keys.
func (ed *EventDeduplicator) Len() int {
	ed.mu.Lock()
	defer ed.mu.Unlock()
	return len(ed.seen)
}

// cleanupLoop removes old entries
func (ed *EventDeduplicator) cleanupLoop() {
	for {
		select {
		case <-ed.cleanupTicker.C:
			ed.cleanup()
		case <-ed.stopCleanup:
			ed.cleanupTicker.Stop()
			return
		}
	}
}

// cleanup removes expired entries
func (ed *EventDeduplicator) cleanup() {
	ed.mu.Lock()
	defer ed.mu.Unlock()

	cutoff := time.Now().Add(-ed.window)
	for hash, timestamp := range ed.seen {
		if timestamp.Before(cutoff) {
			delete(ed.seen, hash)
		}
	}
}

// Stop stops the deduplicator
func (ed *EventDeduplicator) Stop() {
	ed.stopOnce.Do(func() { close(ed.stopCleanup) })
}
