// pkg/events/correlation_engine.go
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CorrelationEngine watches malicious matches and raises a repeated-match
// event when one behaviour keeps showing up.
type CorrelationEngine struct {
	eventWindow      time.Duration
	recentEvents     []VerdictEvent
	correlationRules []CorrelationRule
	fired            map[string]firing
	mutex            sync.Mutex
	logger           zerolog.Logger
	eventBus         *EventBus
}

// firing remembers when a rule last fired for a key, and for how long that
// blocks it from firing again.
type firing struct {
	at     time.Time
	window time.Duration
}

// GroupBy selects the verdict field a rule counts events by.
type GroupBy string

const (
	GroupByLabel GroupBy = "label"
	GroupByTuple GroupBy = "tuple"
)

type CorrelationRule struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	GroupBy     GroupBy       `json:"group_by"`
	TimeWindow  time.Duration `json:"time_window"`
	Threshold   int           `json:"threshold"`
	Severity    string        `json:"severity"`
	Description string        `json:"description"`
}

// NewCorrelationEngine creates a new correlation engine and subscribes it to bus.
func NewCorrelationEngine(logger zerolog.Logger, eventWindow time.Duration, eventBus *EventBus) *CorrelationEngine {
	if eventWindow <= 0 {
		eventWindow = 30 * time.Minute
	}
	engine := &CorrelationEngine{
		eventWindow:      eventWindow,
		correlationRules: getDefaultCorrelationRules(),
		fired:            make(map[string]firing),
		logger:           logger.With().Str("component", "correlation_engine").Logger(),
		eventBus:         eventBus,
	}

	if eventBus != nil {
		eventBus.Subscribe(engine)
	}

	return engine
}

// Handle processes events for correlation analysis
func (ce *CorrelationEngine) Handle(ctx context.Context, event VerdictEvent) error {
	ce.mutex.Lock()
	ce.recentEvents = append(ce.recentEvents, event)
	cutoff := time.Now().Add(-ce.eventWindow)
	ce.recentEvents = filterEventsByTime(ce.recentEvents, cutoff)
	ce.pruneFired()

	var triggered []VerdictEvent
	for _, rule := range ce.correlationRules {
		key := groupKey(rule.GroupBy, event)
		matching, distinct := ce.matchingEvents(rule, key)
		if distinct < rule.Threshold || ce.recentlyFired(rule, key) {
			continue
		}
		ce.fired[rule.ID+"\x00"+key] = firing{at: time.Now(), window: rule.TimeWindow}
		triggered = append(triggered, ce.correlationEvent(rule, key, event, matching))
	}
	ce.mutex.Unlock()

	for _, ev := range triggered {
		ce.logger.Warn().
			Str("rule_id", ev.Data["rule_id"].(string)).
			Str("key", ev.Data["key"].(string)).
			Str("triggering_event", event.ID).
			Msg("Correlation rule triggered")
		if ce.eventBus != nil {
			if err := ce.eventBus.Publish(ctx, ev); err != nil {
				ce.logger.Error().Err(err).Msg("Failed to publish correlation event")
			}
		}
	}
	return nil
}

// GetEventTypes returns event types this engine handles
func (ce *CorrelationEngine) GetEventTypes() []EventType {
	return []EventType{EventBehaviorMatch}
}

func groupKey(by GroupBy, event VerdictEvent) string {
	if by == GroupByTuple {
		return event.Target
	}
	return event.Verdict.Label
}

// countedKey is what a rule counts within a group: labels seen on one tuple,
// or tuples seen with one label.
func countedKey(by GroupBy, event VerdictEvent) string {
	if by == GroupByTuple {
		return event.Verdict.Label
	}
	return event.Target
}

// matchingEvents returns the ids of recent events sharing key under rule and
// the number of distinct counted values among them.
func (ce *CorrelationEngine) matchingEvents(rule CorrelationRule, key string) ([]string, int) {
	var ids []string
	seen := make(map[string]struct{})
	cutoff := time.Now().Add(-rule.TimeWindow)
	for _, event := range ce.recentEvents {
		if event.Timestamp.After(cutoff) && groupKey(rule.GroupBy, event) == key {
			ids = append(ids, event.ID)
			seen[countedKey(rule.GroupBy, event)] = struct{}{}
		}
	}
	return ids, len(seen)
}

// recentlyFired keeps a rule from firing again for the same key within its window.
func (ce *CorrelationEngine) recentlyFired(rule CorrelationRule, key string) bool {
	last, ok := ce.fired[rule.ID+"\x00"+key]
	return ok && time.Since(last.at) < rule.TimeWindow
}

// pruneFired forgets firings whose window has passed.
func (ce *CorrelationEngine) pruneFired() {
	now := time.Now()
	for key, f := range ce.fired {
		if now.Sub(f.at) >= f.window {
			delete(ce.fired, key)
		}
	}
}

func (ce *CorrelationEngine) correlationEvent(rule CorrelationRule, key string, trigger VerdictEvent, matching []string) VerdictEvent {
	return VerdictEvent{
		Type:        EventRepeatedMatch,
		Source:      "correlation_engine",
		Target:      trigger.Target,
		Severity:    rule.Severity,
		Description: fmt.Sprintf("Correlation rule triggered: %s", rule.Description),
		Verdict:     trigger.Verdict,
		Data: map[string]interface{}{
			"rule_id":          rule.ID,
			"rule_name":        rule.Name,
			"key":              key,
			"triggering_event": trigger.ID,
			"matching_events":  matching,
		},
		Tags: []string{"correlation", string(rule.GroupBy)},
	}
}

// filterEventsByTime removes events older than the cutoff time
func filterEventsByTime(events []VerdictEvent, cutoff time.Time) []VerdictEvent {
	filtered := make([]VerdictEvent, 0, len(events))
	for _, event := range events {
		if event.Timestamp.After(cutoff) {
			filtered = append(filtered, event)
		}
	}
	return filtered
}

// AddRule adds a custom correlation rule
func (ce *CorrelationEngine) AddRule(rule CorrelationRule) {
	ce.mutex.Lock()
	defer ce.mutex.Unlock()

	ce.correlationRules = append(ce.correlationRules, rule)
	ce.logger.Info().
		Str("rule_id", rule.ID).
		Str("rule_name", rule.Name).
		Msg("Correlation rule added")
}

// RemoveRule removes a correlation rule by ID
func (ce *CorrelationEngine) RemoveRule(ruleID string) bool {
	ce.mutex.Lock()
	defer ce.mutex.Unlock()

	for i, rule := range ce.correlationRules {
		if rule.ID == ruleID {
			ce.correlationRules = append(ce.correlationRules[:i], ce.correlationRules[i+1:]...)
			ce.logger.Info().
				Str("rule_id", ruleID).
				Msg("Correlation rule removed")
			return true
		}
	}
	return false
}

// GetRules returns all correlation rules
func (ce *CorrelationEngine) GetRules() []CorrelationRule {
	ce.mutex.Lock()
	defer ce.mutex.Unlock()

	rules := make([]CorrelationRule, len(ce.correlationRules))
	copy(rules, ce.correlationRules)
	return rules
}

// GetStats returns correlation engine statistics
func (ce *CorrelationEngine) GetStats() map[string]interface{} {
	ce.mutex.Lock()
	defer ce.mutex.Unlock()

	return map[string]interface{}{
		"total_rules":   len(ce.correlationRules),
		"recent_events": len(ce.recentEvents),
		"fired":         len(ce.fired),
		"event_window":  ce.eventWindow.String(),
	}
}

func getDefaultCorrelationRules() []CorrelationRule {
	return []CorrelationRule{
		{
			ID:          "label_spread",
			Name:        "Behaviour Spreading",
			GroupBy:     GroupByLabel,
			TimeWindow:  10 * time.Minute,
			Threshold:   5,
			Severity:    "critical",
			Description: "The same malicious behaviour matched on several connections",
		},
		{
			ID:          "tuple_multi_behaviour",
			Name:        "Connection With Several Behaviours",
			GroupBy:     GroupByTuple,
			TimeWindow:  30 * time.Minute,
			Threshold:   2,
			Severity:    "high",
			Description: "One connection matched more than one malicious behaviour",
		},
	}
}
