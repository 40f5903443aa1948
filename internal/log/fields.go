// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID   = "request_id"
	FieldTranscodeID = "transcode_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldExitCode  = "exit_code"

	// Media / encoder fields
	FieldMode    = "mode"
	FieldReason  = "reason"
	FieldEncoder = "encoder"
	FieldVendor  = "vendor"
	FieldDevice  = "device"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath         = "path"
	FieldSourcePath   = "source_path"
	FieldPlaylistPath = "playlist_path"
)
