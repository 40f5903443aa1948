// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared across spans.
const (
	TranscodeIDKey   = "transcode.id"
	TranscodeModeKey = "transcode.mode"
	EncoderKey       = "encoder.id"
	EncoderResultKey = "encoder.result"
	MediaContainer   = "media.container"
	MediaVideoCodec  = "media.video_codec"
	MediaAudioCodec  = "media.audio_codec"
	CacheResultKey   = "cache.result"
)

// TranscodeAttributes describes a job.
func TranscodeAttributes(id, mode, encoder string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if id != "" {
		attrs = append(attrs, attribute.String(TranscodeIDKey, id))
	}
	if mode != "" {
		attrs = append(attrs, attribute.String(TranscodeModeKey, mode))
	}
	if encoder != "" {
		attrs = append(attrs, attribute.String(EncoderKey, encoder))
	}
	return attrs
}

// MediaAttributes describes probed media facts.
func MediaAttributes(container, video, audio string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(MediaContainer, container),
		attribute.String(MediaVideoCodec, video),
		attribute.String(MediaAudioCodec, audio),
	}
}

// RecordError marks the span failed. Nil errors are ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
