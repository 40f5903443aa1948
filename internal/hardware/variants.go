// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hardware

import "github.com/michaeldallariva/NexusM-sub001/internal/encoder"

// Variant is one way of invoking a synthetic encode.
type Variant struct {
	Name string
	Args []string
}

// Two seconds of a black 256x256 frame. Small enough to be fast, large enough
// for NVENC's minimum frame size.
var syntheticInput = []string{"-f", "lavfi", "-i", "color=c=black:s=256x256:r=25:d=2"}

func synthetic(pre []string, vf string, enc string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, pre...)
	args = append(args, syntheticInput...)
	if vf != "" {
		args = append(args, "-vf", vf)
	}
	return append(args, "-c:v", enc, "-frames:v", "10", "-an", "-f", "null", "-")
}

// Variants returns the synthetic encode attempts for id, in order.
func Variants(id encoder.ID, vaapiDevice string) []Variant {
	enc := encoder.Resolve(id).Encoder
	switch id {
	case encoder.NVENC:
		return []Variant{
			{Name: "default", Args: synthetic(nil, "", enc)},
		}
	case encoder.QSV:
		return []Variant{
			{Name: "init_hw_device", Args: synthetic(
				[]string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"},
				"format=nv12,hwupload=extra_hw_frames=64", enc)},
			{Name: "system_memory", Args: synthetic(nil, "format=nv12", enc)},
		}
	case encoder.AMF:
		return []Variant{
			{Name: "default", Args: synthetic(nil, "format=nv12", enc)},
		}
	case encoder.VAAPI:
		var out []Variant
		if vaapiDevice != "" {
			out = append(out,
				Variant{Name: "vaapi_device", Args: synthetic(
					[]string{"-vaapi_device", vaapiDevice}, "format=nv12,hwupload", enc)},
				Variant{Name: "init_hw_device", Args: synthetic(
					[]string{"-init_hw_device", "vaapi=va:" + vaapiDevice, "-filter_hw_device", "va"}, "format=nv12,hwupload", enc)},
			)
		}
		return append(out, Variant{Name: "default_device", Args: synthetic(
			[]string{"-init_hw_device", "vaapi=va", "-filter_hw_device", "va"}, "format=nv12,hwupload", enc)})
	default:
		return nil
	}
}
