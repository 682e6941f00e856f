// pkg/events/validator.go
package events

import (
	"errors"
	"strings"
	"sync"
	"unicode"

	serrors "github.com/lucid-vigil/markov-sentinel/pkg/errors"
	"github.com/lucid-vigil/markov-sentinel/pkg/ingest"
	"golang.org/x/time/rate"
)

// ErrRateLimited is wrapped by validation errors caused by the rate limit.
var ErrRateLimited = errors.New("observation rate limit exceeded")

// ObservationValidator checks observations from the producer before they are
// classified, and limits how fast each protocol may submit them.
type ObservationValidator struct {
	mu           sync.Mutex
	rateLimiters map[string]*rate.Limiter // protocol -> rate limiter
	perSecond    float64
	burst        int
	maxState     int
}

// NewObservationValidator creates a validator. perSecond <= 0 disables rate
// limiting; maxState <= 0 leaves state length unbounded.
func NewObservationValidator(perSecond float64, burst, maxState int) *ObservationValidator {
	if burst < 1 {
		burst = 1
	}
	return &ObservationValidator{
		rateLimiters: make(map[string]*rate.Limiter),
		perSecond:    perSecond,
		burst:        burst,
		maxState:     maxState,
	}
}

// Validate implements ingest.Validator.
func (ov *ObservationValidator) Validate(obs ingest.Observation) error {
	if obs.SequenceID == "" {
		return invalid("tuple_id is required", obs)
	}
	if obs.Protocol == "" {
		return invalid("protocol is required", obs)
	}
	if !isToken(obs.Protocol) {
		return invalid("protocol must be alphanumeric", obs)
	}
	if obs.State == "" {
		return invalid("state is required", obs)
	}
	if ov.maxState > 0 && len(obs.State) > ov.maxState {
		return invalid("state too long", obs)
	}

	if !ov.checkRateLimit(strings.ToLower(obs.Protocol)) {
		err := invalid("rate limit exceeded for protocol", obs)
		err.Cause = ErrRateLimited
		return err
	}
	return nil
}

// checkRateLimit checks if the protocol is within rate limits
func (ov *ObservationValidator) checkRateLimit(protocol string) bool {
	if ov.perSecond <= 0 {
		return true
	}

	ov.mu.Lock()
	limiter, exists := ov.rateLimiters[protocol]
	if !exists {
		limiter = rate.NewLimiter(rate.Limit(ov.perSecond), ov.burst)
		ov.rateLimiters[protocol] = limiter
	}
	ov.mu.Unlock()

	return limiter.Allow()
}

func invalid(reason string, obs ingest.Observation) *serrors.SentinelError {
	return serrors.NewValidationError("ingest", reason, map[string]interface{}{
		"tuple_id": obs.SequenceID,
		"protocol": obs.Protocol,
	})
}

func isToken(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
