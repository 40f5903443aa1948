// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hardware

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/michaeldallariva/NexusM-sub001/internal/encoder"
	"github.com/michaeldallariva/NexusM-sub001/internal/platform/host"
)

// FailureClass explains a failed encoder test. It is for logs and status only.
type FailureClass string

const (
	FailureNone          FailureClass = ""
	FailureNotInBuild    FailureClass = "not_in_build"
	FailureDriverMissing FailureClass = "driver_missing"
	FailureNoDevice      FailureClass = "no_device"
	FailureUnsupported   FailureClass = "unsupported"
	FailureTimeout       FailureClass = "timeout"
	FailureUnknown       FailureClass = "unknown"
)

var failurePatterns = []struct {
	class    FailureClass
	patterns []string
}{
	{FailureDriverMissing, []string{
		"cannot load libcuda", "cannot load nvcuda", "libnvidia-encode", "driver does not support",
		"minimum required nvidia driver", "vainitialize failed", "libva error", "failed to initialise vaapi",
		"libmfx", "libvpl", "mfx session", "amfrt64", "amfrt32", "failed to load", "cannot load",
	}},
	{FailureNoDevice, []string{
		"no capable devices", "no nvenc capable", "no device available", "device creation failed",
		"failed to create a vaapi device", "no va display", "no such file or directory", "openencodesessionex failed",
		"unable to find a suitable", "no usable device",
	}},
	{FailureUnsupported, []string{
		"unknown encoder", "encoder not found", "not compiled", "unrecognized option",
		"function not implemented", "not supported", "invalid argument",
	}},
}

// ClassifyFailure maps encoder diagnostics onto a FailureClass.
func ClassifyFailure(output string) FailureClass {
	lower := strings.ToLower(output)
	for _, group := range failurePatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.class
			}
		}
	}
	return FailureUnknown
}

// ParseEncoderList extracts encoder names from `ffmpeg -encoders` output.
// Rows look like " V....D libx264  libx264 H.264 / AVC ...".
func ParseEncoderList(out []byte) map[string]bool {
	names := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	pastHeader := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "------") {
			pastHeader = true
			continue
		}
		if !pastHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		names[fields[1]] = true
	}
	return names
}

// ClassifyVendor maps an adapter onto a vendor, preferring the PCI vendor id.
func ClassifyVendor(gpu host.GPU) encoder.Vendor {
	switch strings.ToLower(gpu.VendorID) {
	case "0x10de":
		return encoder.VendorNVIDIA
	case "0x8086":
		return encoder.VendorIntel
	case "0x1002":
		return encoder.VendorAMD
	}
	name := strings.ToLower(gpu.Name)
	switch {
	case containsAny(name, "nvidia", "geforce", "quadro", "tesla", "rtx", "gtx"):
		return encoder.VendorNVIDIA
	case containsAny(name, "intel", "uhd graphics", "hd graphics", "iris", "arc "):
		return encoder.VendorIntel
	case containsAny(name, "amd", "radeon", "advanced micro devices", "ati "):
		return encoder.VendorAMD
	}
	return encoder.VendorNone
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Candidates orders the encoders worth testing for the detected vendors:
// NVENC, then QSV, then AMF where the platform ships it and VA-API elsewhere.
func Candidates(vendors []encoder.Vendor, amf bool) []encoder.ID {
	has := make(map[encoder.Vendor]bool, len(vendors))
	for _, v := range vendors {
		has[v] = true
	}
	var out []encoder.ID
	if has[encoder.VendorNVIDIA] {
		out = append(out, encoder.NVENC)
	}
	if has[encoder.VendorIntel] {
		out = append(out, encoder.QSV)
	}
	if has[encoder.VendorAMD] {
		if amf {
			out = append(out, encoder.AMF)
		} else {
			out = append(out, encoder.VAAPI)
		}
	}
	return out
}
