package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectProtocol string

func (p rejectProtocol) Validate(obs Observation) error {
	if obs.Protocol == string(p) {
		return errors.New("protocol not allowed")
	}
	return nil
}

func collect(t *testing.T, r *Reader, input string) []Observation {
	t.Helper()
	out := make(chan Observation, 16)
	require.NoError(t, r.Run(context.Background(), strings.NewReader(input), out))

	var got []Observation
	for obs := range out {
		got = append(got, obs)
	}
	return got
}

func TestReader_Run(t *testing.T) {
	input := strings.Join([]string{
		`{"tuple_id": "1", "protocol": "tcp", "state": "88*y*y*"}`,
		``,
		`not json`,
		`{"tuple_id": " 2 ", "protocol": " UDP ", "state": "a,a,a,"}`,
		`{"tuple_id": "3", "protocol": "icmp", "state": "abcd"}`,
		`{"tuple_id": "4", "protocol": "tcp", "state": "ab"}`,
	}, "\n")

	r := NewReader(zerolog.Nop()).
		WithValidator(rejectProtocol("icmp")).
		WithSelector(func(obs Observation) bool { return len(obs.State) >= 4 })

	got := collect(t, r, input)
	require.Len(t, got, 2)
	assert.Equal(t, Observation{SequenceID: "1", Protocol: "tcp", State: "88*y*y*"}, got[0])
	assert.Equal(t, Observation{SequenceID: "2", Protocol: "UDP", State: "a,a,a,"}, got[1])

	assert.Equal(t, ReaderStats{Lines: 5, Accepted: 2, Malformed: 1, Invalid: 1, Filtered: 1}, r.Stats())
}

func TestReader_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make(chan Observation)
	r := NewReader(zerolog.Nop())
	err := r.Run(ctx, strings.NewReader(`{"tuple_id": "1", "protocol": "tcp", "state": "abcd"}`), out)
	assert.NoError(t, err)

	_, open := <-out
	assert.False(t, open)
}

func TestObservation_Symbols(t *testing.T) {
	obs := Observation{State: "a,B*"}
	assert.Equal(t, []string{"a", ",", "B", "*"}, obs.Symbols())
}

func TestObservation_NormalizeKeepsState(t *testing.T) {
	obs := Observation{SequenceID: " 7 ", Protocol: "\ttcp ", State: " a,b "}.Normalize()
	assert.Equal(t, "7", obs.SequenceID)
	assert.Equal(t, "tcp", obs.Protocol)
	assert.Equal(t, " a,b ", obs.State)
	assert.Equal(t, []string{" ", "a", ",", "b", " "}, obs.Symbols())
}
