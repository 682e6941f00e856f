package events

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lucid-vigil/markov-sentinel/pkg/classifier"
	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/lucid-vigil/markov-sentinel/pkg/ingest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu     sync.Mutex
	types  []EventType
	events []VerdictEvent
}

func (h *recordingHandler) GetEventTypes() []EventType { return h.types }

func (h *recordingHandler) Handle(_ context.Context, event VerdictEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return nil
}

func (h *recordingHandler) received() []VerdictEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]VerdictEvent, len(h.events))
	copy(out, h.events)
	return out
}

func malicious(tuple, label string) classifier.Verdict {
	return classifier.Verdict{
		SequenceID:  tuple,
		Protocol:    "tcp",
		Length:      6,
		Found:       true,
		Matched:     true,
		Label:       label,
		MatchLength: 6,
		ModelID:     1,
		Distance:    1.2,
	}
}

func TestEventBus_PublishVerdict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewEventBus(zerolog.Nop(), 10)
	handler := &recordingHandler{types: []EventType{EventBehaviorMatch, EventBenignMatch}}
	bus.Subscribe(handler)
	bus.Start(ctx)

	require.NoError(t, bus.PublishVerdict(ctx, classifier.Verdict{SequenceID: "none"}))
	require.NoError(t, bus.PublishVerdict(ctx, malicious("1", "From-Botnet-tcp-CC")))

	benign := malicious("2", "From-Normal-tcp-web")
	benign.Matched = false
	require.NoError(t, bus.PublishVerdict(ctx, benign))

	assert.Eventually(t, func() bool { return len(handler.received()) == 2 }, time.Second, 10*time.Millisecond)
	bus.Stop()

	got := handler.received()
	byTarget := map[string]VerdictEvent{got[0].Target: got[0], got[1].Target: got[1]}
	assert.Equal(t, EventBehaviorMatch, byTarget["1"].Type)
	assert.Equal(t, "high", byTarget["1"].Severity)
	assert.Equal(t, "From-Botnet-tcp-CC", byTarget["1"].Verdict.Label)
	assert.NotEmpty(t, byTarget["1"].ID)
	assert.False(t, byTarget["1"].Timestamp.IsZero())
	assert.Equal(t, EventBenignMatch, byTarget["2"].Type)
	assert.Equal(t, "info", byTarget["2"].Severity)

	m := bus.GetMetrics()
	assert.Equal(t, int64(2), m.EventsPublished)
	assert.Equal(t, int64(2), m.EventsProcessed)
	assert.Equal(t, int64(1), m.EventsByType[string(EventBehaviorMatch)])
}

func TestEventBus_Deduplication(t *testing.T) {
	dedup := NewEventDeduplicator(time.Minute)
	defer dedup.Stop()
	bus := NewEventBus(zerolog.Nop(), 10).WithDeduplicator(dedup)

	ctx := context.Background()
	require.NoError(t, bus.PublishVerdict(ctx, malicious("1", "From-Botnet-tcp-CC")))
	require.NoError(t, bus.PublishVerdict(ctx, malicious("1", "From-Botnet-tcp-CC")))
	require.NoError(t, bus.PublishVerdict(ctx, malicious("1", "From-Botnet-tcp-Spam")))
	require.NoError(t, bus.PublishVerdict(ctx, malicious("2", "From-Botnet-tcp-CC")))

	m := bus.GetMetrics()
	assert.Equal(t, int64(3), m.EventsPublished)
	assert.Equal(t, int64(1), m.EventsSuppressed)
	assert.Equal(t, 3, dedup.Len())
}

func TestEventBus_BufferFull(t *testing.T) {
	bus := NewEventBus(zerolog.Nop(), 1)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, VerdictEvent{Type: EventBehaviorMatch}))
	assert.ErrorIs(t, bus.Publish(ctx, VerdictEvent{Type: EventBehaviorMatch}), ErrEventBusBufferFull)
}

func TestEventBus_StopDrainsBuffer(t *testing.T) {
	bus := NewEventBus(zerolog.Nop(), 10)
	handler := &recordingHandler{types: []EventType{EventBehaviorMatch}}
	bus.Subscribe(handler)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, bus.PublishVerdict(ctx, malicious(fmt.Sprint(i), "From-Botnet-tcp-CC")))
	}
	bus.Start(ctx)
	bus.Stop()

	assert.Len(t, handler.received(), 5)
}

func TestEventDeduplicator_Window(t *testing.T) {
	dedup := NewEventDeduplicator(50 * time.Millisecond)
	defer dedup.Stop()

	event := VerdictEvent{Type: EventBehaviorMatch, Target: "1", Verdict: malicious("1", "x-x-tcp")}
	assert.False(t, dedup.IsDuplicate(event))
	assert.True(t, dedup.IsDuplicate(event))

	time.Sleep(60 * time.Millisecond)
	assert.False(t, dedup.IsDuplicate(event), "window expired")
}

func TestObservationValidator(t *testing.T) {
	v := NewObservationValidator(0, 0, 10)

	tests := []struct {
		name    string
		obs     ingest.Observation
		wantErr bool
	}{
		{"valid", ingest.Observation{SequenceID: "1", Protocol: "tcp", State: "abcd"}, false},
		{"missing tuple", ingest.Observation{Protocol: "tcp", State: "abcd"}, true},
		{"missing protocol", ingest.Observation{SequenceID: "1", State: "abcd"}, true},
		{"bad protocol", ingest.Observation{SequenceID: "1", Protocol: "tc p", State: "abcd"}, true},
		{"missing state", ingest.Observation{SequenceID: "1", Protocol: "udp"}, true},
		{"state too long", ingest.Observation{SequenceID: "1", Protocol: "udp", State: "abcdefghijk"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.obs)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, serrors.IsType(err, serrors.TypeValidation))
		})
	}
}

func TestObservationValidator_RateLimit(t *testing.T) {
	v := NewObservationValidator(0.001, 2, 0)
	tcp := ingest.Observation{SequenceID: "1", Protocol: "tcp", State: "abcd"}

	require.NoError(t, v.Validate(tcp))
	require.NoError(t, v.Validate(tcp))
	err := v.Validate(tcp)
	assert.True(t, errors.Is(err, ErrRateLimited))

	// Limits are per protocol, case-insensitively.
	assert.ErrorIs(t, v.Validate(ingest.Observation{SequenceID: "1", Protocol: "TCP", State: "abcd"}), ErrRateLimited)
	assert.NoError(t, v.Validate(ingest.Observation{SequenceID: "1", Protocol: "udp", State: "abcd"}))
}

func TestCorrelationEngine_LabelSpread(t *testing.T) {
	bus := NewEventBus(zerolog.Nop(), 10)
	engine := NewCorrelationEngine(zerolog.Nop(), time.Hour, bus)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		event := VerdictEvent{
			ID:        fmt.Sprintf("evt_%d", i),
			Type:      EventBehaviorMatch,
			Target:    fmt.Sprintf("tuple-%d", i),
			Timestamp: time.Now(),
			Verdict:   malicious(fmt.Sprintf("tuple-%d", i), "From-Botnet-tcp-CC"),
		}
		require.NoError(t, engine.Handle(ctx, event))
	}

	m := bus.GetMetrics()
	assert.Equal(t, int64(1), m.EventsByType[string(EventRepeatedMatch)], "fires once per window")
	assert.Equal(t, int64(1), m.EventsBySeverity["critical"])
	assert.Equal(t, 6, engine.GetStats()["recent_events"])
}

func TestCorrelationEngine_TupleRule(t *testing.T) {
	bus := NewEventBus(zerolog.Nop(), 10)
	engine := NewCorrelationEngine(zerolog.Nop(), time.Hour, bus)
	ctx := context.Background()

	for i, label := range []string{"From-Botnet-tcp-CC", "From-Botnet-tcp-Spam"} {
		require.NoError(t, engine.Handle(ctx, VerdictEvent{
			ID:        fmt.Sprintf("evt_%d", i),
			Type:      EventBehaviorMatch,
			Target:    "tuple-1",
			Timestamp: time.Now(),
			Verdict:   malicious("tuple-1", label),
		}))
	}

	m := bus.GetMetrics()
	assert.Equal(t, int64(1), m.EventsBySeverity["high"])
}

func TestCorrelationEngine_RepeatedLabelIsOneBehaviour(t *testing.T) {
	bus := NewEventBus(zerolog.Nop(), 10)
	engine := NewCorrelationEngine(zerolog.Nop(), time.Hour, bus)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, engine.Handle(ctx, VerdictEvent{
			ID:        fmt.Sprintf("evt_%d", i),
			Type:      EventBehaviorMatch,
			Target:    "tuple-1",
			Timestamp: time.Now(),
			Verdict:   malicious("tuple-1", "From-Botnet-tcp-CC"),
		}))
	}

	m := bus.GetMetrics()
	assert.Zero(t, m.EventsBySeverity["high"], "one tuple with one label is a single behaviour")
	assert.Zero(t, m.EventsByType[string(EventRepeatedMatch)])
}

func TestCorrelationEngine_LabelSpreadCountsConnections(t *testing.T) {
	bus := NewEventBus(zerolog.Nop(), 10)
	engine := NewCorrelationEngine(zerolog.Nop(), time.Hour, bus)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, engine.Handle(ctx, VerdictEvent{
			ID:        fmt.Sprintf("evt_%d", i),
			Type:      EventBehaviorMatch,
			Target:    "tuple-1",
			Timestamp: time.Now(),
			Verdict:   malicious("tuple-1", "From-Botnet-tcp-CC"),
		}))
	}

	assert.Zero(t, bus.GetMetrics().EventsBySeverity["critical"])
}

func TestCorrelationEngine_FiredExpires(t *testing.T) {
	engine := NewCorrelationEngine(zerolog.Nop(), time.Hour, nil)
	require.True(t, engine.RemoveRule("label_spread"))
	require.True(t, engine.RemoveRule("tuple_multi_behaviour"))
	engine.AddRule(CorrelationRule{ID: "any", GroupBy: GroupByTuple, TimeWindow: 500 * time.Millisecond, Threshold: 1})
	ctx := context.Background()

	handle := func(tuple string) {
		require.NoError(t, engine.Handle(ctx, VerdictEvent{
			ID:        "evt_" + tuple,
			Type:      EventBehaviorMatch,
			Target:    tuple,
			Timestamp: time.Now(),
			Verdict:   malicious(tuple, "From-Botnet-tcp-CC"),
		}))
	}

	for i := 0; i < 50; i++ {
		handle(fmt.Sprintf("tuple-%d", i))
	}
	assert.Equal(t, 50, engine.GetStats()["fired"])

	time.Sleep(600 * time.Millisecond)
	handle("tuple-last")
	assert.Equal(t, 1, engine.GetStats()["fired"])
}

func TestCorrelationEngine_Rules(t *testing.T) {
	engine := NewCorrelationEngine(zerolog.Nop(), 0, nil)
	assert.Len(t, engine.GetRules(), 2)

	engine.AddRule(CorrelationRule{ID: "custom", GroupBy: GroupByLabel, TimeWindow: time.Minute, Threshold: 1})
	assert.Len(t, engine.GetRules(), 3)
	assert.True(t, engine.RemoveRule("custom"))
	assert.False(t, engine.RemoveRule("custom"))
	assert.Equal(t, "30m0s", engine.GetStats()["event_window"])
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewLogHandler(zerolog.New(&buf))
	assert.ElementsMatch(t, []EventType{EventBehaviorMatch, EventBenignMatch, EventRepeatedMatch}, h.GetEventTypes())

	require.NoError(t, h.Handle(context.Background(), VerdictEvent{
		ID:          "evt_1",
		Type:        EventBehaviorMatch,
		Severity:    "high",
		Description: "Sequence 1 matched",
		Verdict:     malicious("1", "From-Botnet-tcp-CC"),
	}))

	out := buf.String()
	assert.Contains(t, out, `"level":"warn"`)
	assert.Contains(t, out, `"label":"From-Botnet-tcp-CC"`)
	assert.Contains(t, out, `"match_length":6`)
	assert.Contains(t, out, `"message":"Sequence 1 matched"`)
}
