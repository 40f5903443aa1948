// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))

	_, span := Tracer("test").Start(context.Background(), "op")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestUnsupportedExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ServiceName: "x", ExporterType: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestNilProviderShutdown(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestRecordErrorSetsStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(TranscodeAttributes("42_0", "transcode", "")...)
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Len(t, ended[0].Attributes(), 2)
}
