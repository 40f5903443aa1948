// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hardware

import (
	"testing"

	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
	"github.com/stretchr/testify/assert"
)

func TestClassifyVendor(t *testing.T) {
	tests := []struct {
		gpu  host.GPU
		want encoder.Vendor
	}{
		{host.GPU{Name: "NVIDIA GeForce RTX 3070"}, encoder.VendorNVIDIA},
		{host.GPU{Name: "Quadro P2000"}, encoder.VendorNVIDIA},
		{host.GPU{Name: "Intel(R) UHD Graphics 630"}, encoder.VendorIntel},
		{host.GPU{Name: "Intel Arc A770"}, encoder.VendorIntel},
		{host.GPU{Name: "AMD Radeon RX 6600"}, encoder.VendorAMD},
		{host.GPU{Name: "Advanced Micro Devices, Inc. [AMD/ATI] Navi 23"}, encoder.VendorAMD},
		{host.GPU{Name: "unknown 0x10de", VendorID: "0x10de"}, encoder.VendorNVIDIA},
		{host.GPU{Name: "Microsoft Basic Display Adapter"}, encoder.VendorNone},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyVendor(tt.gpu), tt.gpu.Name)
	}
}

func TestCandidatesOrder(t *testing.T) {
	all := []encoder.Vendor{encoder.VendorAMD, encoder.VendorIntel, encoder.VendorNVIDIA}
	assert.Equal(t, []encoder.ID{encoder.NVENC, encoder.QSV, encoder.VAAPI}, Candidates(all, false))
	assert.Equal(t, []encoder.ID{encoder.NVENC, encoder.QSV, encoder.AMF}, Candidates(all, true))
	assert.Empty(t, Candidates([]encoder.Vendor{encoder.VendorNone}, true))
}

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, FailureDriverMissing, ClassifyFailure("[h264_nvenc] Cannot load libnvidia-encode.so.1"))
	assert.Equal(t, FailureNoDevice, ClassifyFailure("OpenEncodeSessionEx failed: no encode device"))
	assert.Equal(t, FailureNoDevice, ClassifyFailure("Failed to create a VAAPI device"))
	assert.Equal(t, FailureUnsupported, ClassifyFailure("Unknown encoder 'h264_amf'"))
	assert.Equal(t, FailureUnknown, ClassifyFailure("segfault"))
}

func TestParseEncoderList(t *testing.T) {
	names := ParseEncoderList([]byte(encodersOutput))
	assert.True(t, names["libx264"])
	assert.True(t, names["h264_vaapi"])
	assert.False(t, names["h264_amf"])
	assert.False(t, names["="], "legend rows are skipped")
}

func TestVariants(t *testing.T) {
	v := Variants(encoder.VAAPI, "/dev/dri/renderD128")
	assert.Len(t, v, 3)
	assert.Contains(t, v[0].Args, "/dev/dri/renderD128")

	assert.Len(t, Variants(encoder.VAAPI, ""), 1)
	assert.Nil(t, Variants(encoder.Software, ""))
	for _, id := range encoder.HardwareIDs {
		for _, variant := range Variants(id, "") {
			assert.Equal(t, encoder.Resolve(id).Encoder, argAfter(variant.Args, "-c:v"))
			assert.Contains(t, variant.Args, "lavfi")
		}
	}
}
