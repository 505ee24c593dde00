package model

import "time"

// Frame is a single JPEG-encoded snapshot of a device's screen. Frames are
// transient and are never persisted.
type Frame struct {
	Payload     []byte
	PixelWidth  int
	PixelHeight int
	PointWidth  int
	PointHeight int
	Sequence    uint64
	CapturedAt  time.Time
	Format      string // always "jpeg" today, carried for forward-compat
}

// Quality is a capture quality preset (spec.md §4.4).
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

// QualityPreset holds the tunables for one quality level.
type QualityPreset struct {
	ResolutionFactor float64
	TargetFPS        int
	JPEGQuality      int
}

var qualityPresets = map[Quality]QualityPreset{
	QualityLow:    {ResolutionFactor: 0.60, TargetFPS: 45, JPEGQuality: 50},
	QualityMedium: {ResolutionFactor: 0.80, TargetFPS: 60, JPEGQuality: 65},
	QualityHigh:   {ResolutionFactor: 1.00, TargetFPS: 75, JPEGQuality: 80},
	QualityUltra:  {ResolutionFactor: 1.20, TargetFPS: 90, JPEGQuality: 95},
}

// PresetFor returns the preset for q, falling back to medium for an unknown
// value instead of panicking — capture configuration changes come from
// client-controlled WebSocket messages and must never crash the worker.
func PresetFor(q Quality) QualityPreset {
	if p, ok := qualityPresets[q]; ok {
		return p
	}
	return qualityPresets[QualityMedium]
}

// ValidQuality reports whether q names a known preset.
func ValidQuality(q string) bool {
	_, ok := qualityPresets[Quality(q)]
	return ok
}
