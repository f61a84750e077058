package reliability

import (
	"fmt"
	"time"
)

// Config tunes the reliability engine. Start from DefaultConfig; the zero
// value does not validate.
type Config struct {
	// DecayFactor is the per-window exponential decay applied to records
	// backfilled from outside the scoring window. Must be in (0, 1).
	DecayFactor float64

	// SuccessWeight, ConfidenceWeight and SpeedWeight blend the three scoring
	// factors. Each must be non-negative and at least one must be positive.
	// They need not sum to one — the blend normalizes by their sum.
	SuccessWeight    float64
	ConfidenceWeight float64
	SpeedWeight      float64

	// MinDataPoints is the number of in-window records required before the
	// full blend is trusted over the biased default.
	MinDataPoints int

	// DefaultReliability is the cold-start score for unknown pairs, in [0, 1].
	DefaultReliability float64

	// MemorySize bounds the records kept per pair; oldest are dropped first.
	MemorySize int

	// WindowSize is the scoring window. Records older than this contribute
	// only through decayed backfill.
	WindowSize time.Duration

	// MinReliabilityDiff is the margin an alternative must beat the current
	// target by before it is suggested, in [0, 1].
	MinReliabilityDiff float64

	// CacheValidity bounds how long a computed score may be served without
	// recomputation. Zero disables reuse entirely.
	CacheValidity time.Duration

	// MaxPairs caps the number of tracked pairs; 0 means unlimited. When the
	// cap is hit, the least recently observed pair is evicted.
	MaxPairs int
}

// DefaultConfig returns the standard engine tuning.
func DefaultConfig() Config {
	return Config{
		DecayFactor:        0.9,
		SuccessWeight:      0.6,
		ConfidenceWeight:   0.3,
		SpeedWeight:        0.1,
		MinDataPoints:      5,
		DefaultReliability: 0.5,
		MemorySize:         100,
		WindowSize:         24 * time.Hour,
		MinReliabilityDiff: 0.1,
		CacheValidity:      5 * time.Minute,
		MaxPairs:           0,
	}
}

// Validate checks every tuning parameter and fails fast on the first problem.
// New refuses any config that does not pass.
func (c Config) Validate() error {
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		return fmt.Errorf("reliability: DecayFactor must be in (0, 1), got %v", c.DecayFactor)
	}
	if c.SuccessWeight < 0 || c.ConfidenceWeight < 0 || c.SpeedWeight < 0 {
		return fmt.Errorf("reliability: weights must be non-negative, got success=%v confidence=%v speed=%v",
			c.SuccessWeight, c.ConfidenceWeight, c.SpeedWeight)
	}
	if c.SuccessWeight+c.ConfidenceWeight+c.SpeedWeight == 0 {
		return fmt.Errorf("reliability: at least one weight must be positive")
	}
	if c.MinDataPoints < 1 {
		return fmt.Errorf("reliability: MinDataPoints must be at least 1, got %d", c.MinDataPoints)
	}
	if c.DefaultReliability < 0 || c.DefaultReliability > 1 {
		return fmt.Errorf("reliability: DefaultReliability must be in [0, 1], got %v", c.DefaultReliability)
	}
	if c.MemorySize < 1 {
		return fmt.Errorf("reliability: MemorySize must be at least 1, got %d", c.MemorySize)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("reliability: WindowSize must be positive, got %v", c.WindowSize)
	}
	if c.MinReliabilityDiff < 0 || c.MinReliabilityDiff > 1 {
		return fmt.Errorf("reliability: MinReliabilityDiff must be in [0, 1], got %v", c.MinReliabilityDiff)
	}
	if c.CacheValidity < 0 {
		return fmt.Errorf("reliability: CacheValidity must not be negative, got %v", c.CacheValidity)
	}
	if c.MaxPairs < 0 {
		return fmt.Errorf("reliability: MaxPairs must not be negative, got %d", c.MaxPairs)
	}
	return nil
}
