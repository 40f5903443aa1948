// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log provides structured logging utilities.
package log

import (
	"context"

	"github.com/rs/zerolog"
)

type ctxKey string

const (
	requestIDKey   ctxKey = "request_id"
	transcodeIDKey ctxKey = "transcode_id"
)

// ContextWithRequestID stores the provided request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithTranscodeID stores the transcode job identity in the context.
func ContextWithTranscodeID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, transcodeIDKey, id)
}

// RequestIDFromContext extracts the request ID from context if present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// TranscodeIDFromContext extracts the transcode ID from context if present.
func TranscodeIDFromContext(ctx context.Context) string {
	return stringValue(ctx, transcodeIDKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// WithContext enriches the supplied logger with correlation fields from context.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rid := RequestIDFromContext(ctx)
	tid := TranscodeIDFromContext(ctx)
	if rid == "" && tid == "" {
		return logger
	}
	builder := logger.With()
	if rid != "" {
		builder = builder.Str(FieldRequestID, rid)
	}
	if tid != "" {
		builder = builder.Str(FieldTranscodeID, tid)
	}
	return builder.Logger()
}

// WithComponentFromContext returns a component logger carrying the
// correlation fields found in ctx.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	return WithContext(ctx, WithComponent(component))
}
