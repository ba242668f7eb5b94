package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopBuildsAllThreeFacets(t *testing.T) {
	tel := Noop()
	require.NotNil(t, tel.Log)
	require.NotNil(t, tel.Metrics)
	require.NotNil(t, tel.Tracer)
}

func TestNoopLoggerDiscardsWithoutPanicking(t *testing.T) {
	l := NewNoopLogger()
	ctx := context.Background()
	assert.NotPanics(t, func() {
		l.Debug(ctx, "debug msg", "k", "v")
		l.Info(ctx, "info msg")
		l.Warn(ctx, "warn msg", "k", 1)
		l.Error(ctx, "error msg")
	})
}

func TestNoopMetricsDiscardsWithoutPanicking(t *testing.T) {
	m := NewNoopMetrics()
	assert.NotPanics(t, func() {
		m.IncCounter("reqs", 1, "route", "/v1/messages")
		m.RecordTimer("latency", 5*time.Millisecond, "route", "/v1/messages")
		m.RecordGauge("sessions", 3)
	})
}

func TestNoopTracerStartAndSpanReturnUsableSpan(t *testing.T) {
	tr := NewNoopTracer()
	ctx, span := tr.Start(context.Background(), "op")
	require.NotNil(t, span)
	assert.NotPanics(t, func() {
		span.AddEvent("event")
		span.SetStatus(0, "ok")
		span.RecordError(nil)
		span.End()
	})

	span2 := tr.Span(ctx)
	require.NotNil(t, span2)
}

func TestFieldersPairsKeyvalsAndSkipsNonStringKeys(t *testing.T) {
	fs := fielders("hello", []any{"a", 1, 2, "skipped-because-key-not-string", "b", "two"})
	assert.Len(t, fs, 3) // msg + "a" pair + "b" pair; the non-string-keyed pair is dropped
}

func TestFieldersHandlesOddLengthKeyvals(t *testing.T) {
	fs := fielders("hello", []any{"a", 1, "dangling"})
	assert.Len(t, fs, 2) // msg + "a" pair; dangling key with no value is dropped
}

func TestTagsToAttrsPairsUpTags(t *testing.T) {
	attrs := tagsToAttrs([]string{"route", "/v1/messages", "method", "POST"})
	assert.Len(t, attrs, 2)
}

func TestTagsToAttrsDropsTrailingUnpairedTag(t *testing.T) {
	attrs := tagsToAttrs([]string{"route", "/v1/messages", "dangling"})
	assert.Len(t, attrs, 1)
}

func TestKVToAttrsHandlesEachSupportedType(t *testing.T) {
	attrs := kvToAttrs([]any{
		"s", "str",
		"i", 1,
		"i64", int64(2),
		"f", 3.5,
		"b", true,
		"other", struct{}{},
	})
	assert.Len(t, attrs, 6)
}
