package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogHandler writes verdict events as structured log lines. It is the hand-off
// point to whatever turns matches into alerts.
type LogHandler struct {
	logger zerolog.Logger
}

func NewLogHandler(logger zerolog.Logger) *LogHandler {
	return &LogHandler{logger: logger.With().Str("component", "verdict_log").Logger()}
}

func (h *LogHandler) GetEventTypes() []EventType {
	return []EventType{EventBehaviorMatch, EventBenignMatch, EventRepeatedMatch}
}

func (h *LogHandler) Handle(_ context.Context, event VerdictEvent) error {
	var e *zerolog.Event
	switch event.Type {
	case EventBenignMatch:
		e = h.logger.Info()
	default:
		e = h.logger.Warn()
	}

	v := event.Verdict
	e = e.Str("event_id", event.ID).
		Str("type", string(event.Type)).
		Str("severity", event.Severity).
		Str("tuple_id", v.SequenceID).
		Str("protocol", v.Protocol).
		Str("label", v.Label).
		Int("model_id", v.ModelID).
		Int("match_length", v.MatchLength).
		Float64("distance", v.Distance)
	if event.Data != nil {
		e = e.Interface("data", event.Data)
	}
	e.Msg(event.Description)
	return nil
}
