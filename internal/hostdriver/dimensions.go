package hostdriver

import "strings"

// Dimensions is a device's logical point size and pixel scale factor.
type Dimensions struct {
	PointWidth  int
	PointHeight int
	Scale       int
}

// knownDimensions approximates the handful of device families exposed by
// simctl's device type catalog. Device identity alone does not carry point
// size over the CLI; a real deployment would additionally probe the
// simulator's device bezel metadata, but for the control plane's purposes a
// lookup keyed by the device type name it already has is sufficient and
// keeps dimension resolution from depending on a booted device.
var knownDimensions = []struct {
	match string
	dims  Dimensions
}{
	{"iPhone 15 Pro Max", Dimensions{430, 932, 3}},
	{"iPhone 15 Pro", Dimensions{393, 852, 3}},
	{"iPhone 15", Dimensions{390, 844, 3}},
	{"iPhone 14", Dimensions{390, 844, 3}},
	{"iPhone SE", Dimensions{375, 667, 2}},
	{"iPad Pro", Dimensions{1024, 1366, 2}},
	{"iPad Air", Dimensions{820, 1180, 2}},
	{"iPad", Dimensions{810, 1080, 2}},
}

// DimensionsFor returns the best-effort logical dimensions for a device
// type name, defaulting to an iPhone-class size when unrecognized.
func DimensionsFor(deviceType string) Dimensions {
	for _, k := range knownDimensions {
		if strings.Contains(deviceType, k.match) {
			return k.dims
		}
	}
	return Dimensions{PointWidth: 390, PointHeight: 844, Scale: 3}
}
