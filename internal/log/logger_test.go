// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithTranscodeID(ctx, "42_1")

	enriched := WithContext(ctx, l)
	enriched.Info().Str(FieldEvent, "test").Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "42_1", entry[FieldTranscodeID])
	assert.Equal(t, "test", entry[FieldEvent])
}

func TestWithContextWithoutFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	out := WithContext(context.Background(), l)
	out.Info().Msg("x")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, has := entry[FieldRequestID]
	assert.False(t, has)
}

func TestContextHelpersTolerateNil(t *testing.T) {
	//nolint:staticcheck // nil context is part of the contract
	assert.Equal(t, "", RequestIDFromContext(nil))
	//nolint:staticcheck
	ctx := ContextWithTranscodeID(nil, "abc")
	assert.Equal(t, "abc", TranscodeIDFromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	t.Setenv("LOG_LEVEL", "warn")
	assert.Equal(t, zerolog.WarnLevel, parseLevel(""))
}
