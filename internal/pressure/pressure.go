// Package pressure provides the resource-pressure signals consumed by the
// queue's admission controller: a memory-pressure sampler and a
// connection-quality source.
package pressure

// Level is the memory-pressure level derived from periodic sampling.
type Level string

// Memory-pressure levels.
const (
	LevelNormal Level = "normal"
	LevelHigh   Level = "high"
)

// Quality describes the current network connection quality.
type Quality string

// Connection quality levels, worst to best.
const (
	QualityOffline   Quality = "offline"
	QualitySlow      Quality = "slow"
	QualityModerate  Quality = "moderate"
	QualityFast      Quality = "fast"
	QualityExcellent Quality = "excellent"
)

// State is a point-in-time snapshot of both pressure signals.
type State struct {
	Memory    Level
	UsedBytes uint64
	Quality   Quality
}

// QualitySource reports the current connection quality.
type QualitySource interface {
	Quality() Quality
}

// StaticQuality is a QualitySource pinned to one value. Deployments
// without a network probe use it; tests use it to simulate offline.
type StaticQuality Quality

func (s StaticQuality) Quality() Quality {
	return Quality(s)
}
