// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package encoder maps an encoder identifier onto the ffmpeg invocation details
// needed to drive it.
package encoder

import "strings"

// ID identifies an encoder family.
type ID string

const (
	Software ID = "software"
	NVENC    ID = "nvenc"
	QSV      ID = "qsv"
	AMF      ID = "amf"
	VAAPI    ID = "vaapi"
)

// HardwareIDs lists every hardware family in detection preference order.
var HardwareIDs = []ID{NVENC, QSV, AMF, VAAPI}

type Category string

const (
	CategorySoftware Category = "software"
	CategoryHardware Category = "hardware"
)

type Vendor string

const (
	VendorNone   Vendor = ""
	VendorNVIDIA Vendor = "nvidia"
	VendorIntel  Vendor = "intel"
	VendorAMD    Vendor = "amd"
)

// Profile describes how to invoke one encoder.
type Profile struct {
	ID          ID
	DisplayName string
	Category    Category
	Vendor      Vendor
	// Encoder is the ffmpeg encoder name, e.g. h264_nvenc.
	Encoder string
	// HWAccel is the ffmpeg -hwaccel value for hardware decode, empty for software.
	HWAccel string
	Preset  string
	// UsesCRF is true for constant-rate-factor quality control, false when the
	// encoder is driven by bitrate targets.
	UsesCRF bool
}

// IsHardware reports whether the profile targets a GPU encoder.
func (p Profile) IsHardware() bool { return p.Category == CategoryHardware }

var profiles = map[ID]Profile{
	Software: {
		ID: Software, DisplayName: "Software (libx264)", Category: CategorySoftware,
		Encoder: "libx264", Preset: "veryfast", UsesCRF: true,
	},
	NVENC: {
		ID: NVENC, DisplayName: "NVIDIA NVENC", Category: CategoryHardware, Vendor: VendorNVIDIA,
		Encoder: "h264_nvenc", HWAccel: "cuda", Preset: "p4",
	},
	QSV: {
		ID: QSV, DisplayName: "Intel Quick Sync", Category: CategoryHardware, Vendor: VendorIntel,
		Encoder: "h264_qsv", HWAccel: "qsv", Preset: "veryfast",
	},
	AMF: {
		ID: AMF, DisplayName: "AMD AMF", Category: CategoryHardware, Vendor: VendorAMD,
		Encoder: "h264_amf", HWAccel: "d3d11va", Preset: "speed",
	},
	VAAPI: {
		ID: VAAPI, DisplayName: "VA-API", Category: CategoryHardware, Vendor: VendorAMD,
		Encoder: "h264_vaapi", HWAccel: "vaapi",
	},
}

// Resolve returns the profile for id. Unknown identifiers resolve to software.
func Resolve(id ID) Profile {
	if p, ok := profiles[id]; ok {
		return p
	}
	return profiles[Software]
}

// ParseID normalizes a configured encoder name. ok is false for unknown names.
func ParseID(s string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	_, ok := profiles[id]
	return id, ok
}
