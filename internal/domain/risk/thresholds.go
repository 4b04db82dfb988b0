package risk

import "fmt"

// Thresholds holds the upper bounds of the low, medium and high bands for
// one category. Bands are half-open intervals over the score range:
//
//	[0, LowUpper)        -> low
//	[LowUpper, MedUpper) -> medium
//	[MedUpper, HighUpper)-> high
//	[HighUpper, 1]       -> critical
type Thresholds struct {
	LowUpper  float64 `mapstructure:"low_upper" json:"low_upper"`
	MedUpper  float64 `mapstructure:"med_upper" json:"med_upper"`
	HighUpper float64 `mapstructure:"high_upper" json:"high_upper"`
}

// DefaultThresholds mirror the platform's stock model calibration:
// medium from 0.6, high from 0.8, critical from 0.9.
func DefaultThresholds() Thresholds {
	return Thresholds{LowUpper: 0.6, MedUpper: 0.8, HighUpper: 0.9}
}

// Validate checks that the bounds are strictly increasing and partition
// [0,1] without gaps or overlap.
func (t Thresholds) Validate() error {
	if t.LowUpper <= 0 || t.LowUpper >= 1 {
		return fmt.Errorf("low_upper must be in (0,1), got %v", t.LowUpper)
	}
	if t.MedUpper <= t.LowUpper {
		return fmt.Errorf("med_upper (%v) must be greater than low_upper (%v)", t.MedUpper, t.LowUpper)
	}
	if t.HighUpper <= t.MedUpper {
		return fmt.Errorf("high_upper (%v) must be greater than med_upper (%v)", t.HighUpper, t.MedUpper)
	}
	if t.HighUpper > 1 {
		return fmt.Errorf("high_upper must not exceed 1, got %v", t.HighUpper)
	}
	return nil
}

// Band classifies a score in [0,1] into its band.
func (t Thresholds) Band(value float64) Band {
	switch {
	case value < t.LowUpper:
		return BandLow
	case value < t.MedUpper:
		return BandMedium
	case value < t.HighUpper:
		return BandHigh
	default:
		return BandCritical
	}
}

// ThresholdMap maps categories to their band thresholds.
type ThresholdMap map[Category]Thresholds

// Validate checks every entry and rejects unknown categories.
func (m ThresholdMap) Validate() error {
	for cat, t := range m {
		if !cat.Valid() {
			return fmt.Errorf("thresholds for unknown category %q", cat)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("thresholds for %s: %w", cat, err)
		}
	}
	return nil
}

// For returns the thresholds for a category, falling back to defaults when
// the category has no explicit entry.
func (m ThresholdMap) For(c Category) Thresholds {
	if t, ok := m[c]; ok {
		return t
	}
	return DefaultThresholds()
}
