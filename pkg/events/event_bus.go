// pkg/events/event_bus.go
package events

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/lucid-vigil/markov-sentinel/pkg/classifier"
	"github.com/rs/zerolog"
)

// EventType defines the type of verdict event
type EventType string

const (
	// EventBehaviorMatch is a sequence matched by a malicious model.
	EventBehaviorMatch EventType = "behavior_match"
	// EventBenignMatch is a sequence matched by a model of normal traffic.
	EventBenignMatch EventType = "benign_match"
	// EventRepeatedMatch is raised by the correlation engine.
	EventRepeatedMatch EventType = "repeated_match"
)

// VerdictEvent is a classifier verdict on its way to the alerting side.
type VerdictEvent struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Source      string                 `json:"source"` // Which component generated this
	Target      string                 `json:"target"` // Tuple id of the classified connection
	Severity    string                 `json:"severity"`
	Timestamp   time.Time              `json:"timestamp"`
	Description string                 `json:"description"`
	Verdict     classifier.Verdict     `json:"verdict"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Tags        []string               `json:"tags"`
}

// EventHandler defines the interface for event handlers
type EventHandler interface {
	Handle(ctx context.Context, event VerdictEvent) error
	GetEventTypes() []EventType
}

// EventBus fans verdict events out to the handlers subscribed to their type.
type EventBus struct {
	handlers    map[EventType][]EventHandler
	buffer      chan VerdictEvent
	dedup       *EventDeduplicator
	logger      zerolog.Logger
	mu          sync.RWMutex
	metrics     EventMetrics
	running     bool
	stopChannel chan struct{}
	wg          sync.WaitGroup
}

type EventMetrics struct {
	EventsPublished   int64            `json:"events_published"`
	EventsProcessed   int64            `json:"events_processed"`
	EventsSuppressed  int64            `json:"events_suppressed"`
	EventsByType      map[string]int64 `json:"events_by_type"`
	EventsBySeverity  map[string]int64 `json:"events_by_severity"`
	HandlerErrors     int64            `json:"handler_errors"`
	AverageProcessing time.Duration    `json:"average_processing_time"`
}

// NewEventBus creates a new event bus
func NewEventBus(logger zerolog.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	return &EventBus{
		handlers:    make(map[EventType][]EventHandler),
		buffer:      make(chan VerdictEvent, bufferSize),
		logger:      logger.With().Str("component", "event_bus").Logger(),
		stopChannel: make(chan struct{}),
		metrics: EventMetrics{
			EventsByType:     make(map[string]int64),
			EventsBySeverity: make(map[string]int64),
		},
	}
}

// WithDeduplicator makes PublishVerdict drop repeats seen by d.
func (eb *EventBus) WithDeduplicator(d *EventDeduplicator) *EventBus {
	eb.dedup = d
	return eb
}

// Subscribe registers an event handler for specific event types
func (eb *EventBus) Subscribe(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eventTypes := handler.GetEventTypes()
	for _, eventType := range eventTypes {
		eb.handlers[eventType] = append(eb.handlers[eventType], handler)
		eb.logger.Info().
			Str("event_type", string(eventType)).
			Msg("Handler subscribed to event type")
	}
}

// PublishVerdict turns a verdict into an event and publishes it. Verdicts
// without a selected model are not events and are ignored.
func (eb *EventBus) PublishVerdict(ctx context.Context, v classifier.Verdict) error {
	if !v.Found {
		return nil
	}

	event := VerdictEvent{
		Type:     EventBehaviorMatch,
		Source:   "classifier",
		Target:   v.SequenceID,
		Severity: "high",
		Description: fmt.Sprintf("Sequence %s matched model %d (%s) after %d symbols",
			v.SequenceID, v.ModelID, v.Label, v.MatchLength),
		Verdict: v,
		Tags:    []string{"markov", v.Protocol},
	}
	if !v.Matched {
		event.Type = EventBenignMatch
		event.Severity = "info"
	}

	if eb.dedup != nil && eb.dedup.IsDuplicate(event) {
		eb.mu.Lock()
		eb.metrics.EventsSuppressed++
		eb.mu.Unlock()
		eb.logger.Debug().
			Str("target", event.Target).
			Str("label", v.Label).
			Msg("Duplicate verdict suppressed")
		return nil
	}
	return eb.Publish(ctx, event)
}

// Publish sends an event to all registered handlers
func (eb *EventBus) Publish(ctx context.Context, event VerdictEvent) error {
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.buffer <- event:
		eb.updateMetrics(event, true)
		eb.logger.Debug().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Str("source", event.Source).
			Msg("Event published to bus")
		return nil
	default:
		eb.logger.Error().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Event bus buffer full, dropping event")
		return ErrEventBusBufferFull
	}
}

// Start begins processing events from the buffer
func (eb *EventBus) Start(ctx context.Context) {
	eb.mu.Lock()
	if eb.running {
		eb.mu.Unlock()
		return
	}
	eb.running = true
	eb.mu.Unlock()

	eb.logger.Info().Msg("Event bus starting...")

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event := <-eb.buffer:
				eb.processEvent(ctx, event)
			case <-ctx.Done():
				eb.logger.Info().Msg("Event bus shutting down due to context cancellation...")
				return
			case <-eb.stopChannel:
				eb.drain(ctx)
				eb.logger.Info().Msg("Event bus shutting down...")
				return
			}
		}
	}()
}

// drain delivers whatever is still buffered when Stop is called.
func (eb *EventBus) drain(ctx context.Context) {
	for {
		select {
		case event := <-eb.buffer:
			eb.processEvent(ctx, event)
		default:
			return
		}
	}
}

// Stop gracefully shuts down the event bus
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return
	}
	eb.running = false
	eb.mu.Unlock()

	close(eb.stopChannel)
	eb.wg.Wait()
	eb.logger.Info().Msg("Event bus stopped")
}

// processEvent handles distribution of events to handlers
func (eb *EventBus) processEvent(ctx context.Context, event VerdictEvent) {
	start := time.Now()

	eb.mu.RLock()
	handlers, exists := eb.handlers[event.Type]
	eb.mu.RUnlock()

	if !exists || len(handlers) == 0 {
		eb.logger.Debug().
			Str("event_type", string(event.Type)).
			Msg("No handlers registered for event type")
		return
	}

	// Process handlers concurrently
	var wg sync.WaitGroup
	errorChan := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h EventHandler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errorChan <- err
				eb.logger.Error().
					Err(err).
					Str("event_id", event.ID).
					Str("event_type", string(event.Type)).
					Msg("Handler error processing event")
			}
		}(handler)
	}

	wg.Wait()
	close(errorChan)

	errorCount := 0
	for range errorChan {
		errorCount++
	}

	eb.mu.Lock()
	eb.metrics.HandlerErrors += int64(errorCount)
	eb.metrics.AverageProcessing = time.Since(start)
	eb.mu.Unlock()

	eb.updateMetrics(event, false)

	eb.logger.Debug().
		Str("event_id", event.ID).
		Dur("processing_time", time.Since(start)).
		Int("handlers", len(handlers)).
		Int("errors", errorCount).
		Msg("Event processed by all handlers")
}

// updateMetrics updates internal metrics
func (eb *EventBus) updateMetrics(event VerdictEvent, published bool) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if published {
		eb.metrics.EventsPublished++
		eb.metrics.EventsByType[string(event.Type)]++
		eb.metrics.EventsBySeverity[event.Severity]++
		return
	}
	eb.metrics.EventsProcessed++
}

// GetMetrics returns current event bus metrics
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	metricsCopy := EventMetrics{
		EventsPublished:   eb.metrics.EventsPublished,
		EventsProcessed:   eb.metrics.EventsProcessed,
		EventsSuppressed:  eb.metrics.EventsSuppressed,
		HandlerErrors:     eb.metrics.HandlerErrors,
		AverageProcessing: eb.metrics.AverageProcessing,
		EventsByType:      make(map[string]int64),
		EventsBySeverity:  make(map[string]int64),
	}

	for k, v := range eb.metrics.EventsByType {
		metricsCopy.EventsByType[k] = v
	}
	for k, v := range eb.metrics.EventsBySeverity {
		metricsCopy.EventsBySeverity[k] = v
	}

	return metricsCopy
}

// generateEventID creates a unique event ID
func generateEventID() string {
	timestamp := time.Now().Format("20060102_150405")
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("evt_%s_%d", timestamp, time.Now().UnixNano()%10000)
	}
	return fmt.Sprintf("evt_%s_%s", timestamp, hex.EncodeToString(randomBytes))
}

// Errors
var (
	ErrEventBusBufferFull = fmt.Errorf("event bus buffer is full")
)
