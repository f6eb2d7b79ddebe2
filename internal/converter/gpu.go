package converter

import (
	"fmt"
	"slices"
	"strings"
)

// Vendor identifies the GPU vendor whose encoders may be used.
type Vendor string

const (
	VendorNone   Vendor = ""
	VendorNVIDIA Vendor = "nvidia"
	VendorAMD    Vendor = "amd"
	VendorIntel  Vendor = "intel"
	VendorApple  Vendor = "apple"
)

// ParseVendor parses a forced vendor name.
func ParseVendor(s string) (Vendor, error) {
	switch v := Vendor(strings.ToLower(strings.TrimSpace(s))); v {
	case VendorNVIDIA, VendorAMD, VendorIntel, VendorApple:
		return v, nil
	default:
		return VendorNone, fmt.Errorf("%s. Valid options: amd, intel, nvidia, apple", s)
	}
}

// Article returns "a" or "an" for log lines such as "detected an intel GPU".
func (v Vendor) Article() string {
	switch v {
	case VendorAMD, VendorApple, VendorIntel:
		return "an"
	default:
		return "a"
	}
}

// EncoderFamily groups encoders that share option vocabularies.
type EncoderFamily string

const (
	FamilySoftware     EncoderFamily = "software"
	FamilyNVENC        EncoderFamily = "nvenc"
	FamilyAMF          EncoderFamily = "amf"
	FamilyQSV          EncoderFamily = "qsv"
	FamilyVAAPI        EncoderFamily = "vaapi"
	FamilyVideoToolbox EncoderFamily = "videotoolbox"
)

type vendorEncoders struct {
	family EncoderFamily
	codecs []string
}

// vendorFamily reports which encoder family a vendor exposes on goos.
func vendorFamily(v Vendor, goos string) (vendorEncoders, bool) {
	switch v {
	case VendorNVIDIA:
		return vendorEncoders{FamilyNVENC, []string{"h264", "av1"}}, true
	case VendorIntel:
		return vendorEncoders{FamilyQSV, []string{"h264", "av1", "vp9"}}, true
	case VendorAMD:
		if goos == "windows" {
			return vendorEncoders{FamilyAMF, []string{"h264", "av1"}}, true
		}
		return vendorEncoders{FamilyVAAPI, []string{"h264", "av1", "vp9", "vp8"}}, true
	case VendorApple:
		return vendorEncoders{FamilyVideoToolbox, []string{"h264"}}, true
	default:
		return vendorEncoders{}, false
	}
}

// AcceleratedName returns the hardware encoder name for a codec family on the
// given vendor and OS, for example "h264_nvenc".
func AcceleratedName(v Vendor, goos, codec string) (string, bool) {
	enc, ok := vendorFamily(v, goos)
	if !ok || !slices.Contains(enc.codecs, codec) {
		return "", false
	}
	return codec + "_" + string(enc.family), true
}

// AcceleratedNames lists every hardware encoder the vendor could provide.
func AcceleratedNames(v Vendor, goos string) []string {
	enc, ok := vendorFamily(v, goos)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(enc.codecs))
	for _, c := range enc.codecs {
		out = append(out, c+"_"+string(enc.family))
	}
	return out
}

// FamilyOf reports the family of an encoder name.
func FamilyOf(encoder string) EncoderFamily {
	_, suffix, ok := strings.Cut(encoder, "_")
	if !ok {
		return FamilySoftware
	}
	switch f := EncoderFamily(suffix); f {
	case FamilyNVENC, FamilyAMF, FamilyQSV, FamilyVAAPI, FamilyVideoToolbox:
		return f
	default:
		return FamilySoftware
	}
}
