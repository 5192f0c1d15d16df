package tracing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace_PhasesAndStatus(t *testing.T) {
	trace := NewTrace("handle_message")

	end := trace.StartPhase("route")
	end(nil)
	end = trace.StartPhase("generate")
	end(errors.New("provider down"))
	trace.End()

	phases := trace.Phases()
	require.Len(t, phases, 2)
	assert.Equal(t, "route", phases[0].Name)
	assert.Empty(t, phases[0].Error)
	assert.Equal(t, "generate", phases[1].Name)
	assert.Equal(t, "provider down", phases[1].Error)
	assert.Equal(t, StatusError, trace.Status)
}

func TestTrace_TagsAndDuration(t *testing.T) {
	trace := NewTrace("handle_message")
	trace.SetTag("route", "GENERAL")
	trace.End()

	assert.Equal(t, "GENERAL", trace.Tags["route"])
	assert.GreaterOrEqual(t, trace.Duration().Nanoseconds(), int64(0))
}

func TestTraceIDHex_StripsDashes(t *testing.T) {
	got := traceIDHex("123e4567-e89b-12d3-a456-426614174000")
	assert.Len(t, got, 32)
	assert.NotContains(t, got, "-")
}

func TestOTLPSpan_CarriesPhasesAsEvents(t *testing.T) {
	trace := NewTrace("handle_message")
	end := trace.StartPhase("route")
	end(nil)
	trace.SetTag("route", "FACT")
	trace.End()

	span := toOTLPSpan(trace)
	assert.Equal(t, "handle_message", span.Name)
	require.Len(t, span.Events, 1)
	assert.Equal(t, "route", span.Events[0].Name)
	assert.GreaterOrEqual(t, span.EndTimeUnixNano, span.StartTimeUnixNano)
}
