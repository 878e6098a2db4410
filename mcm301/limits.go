package mcm301

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/physic"
)

// Millimetres converts a length in millimetres to a Distance.
func Millimetres(mm float64) physic.Distance {
	return physic.Distance(math.Round(mm * float64(physic.MilliMetre)))
}

// ToMillimetres converts a Distance to millimetres.
func ToMillimetres(d physic.Distance) float64 {
	return float64(d) / float64(physic.MilliMetre)
}

// ParseDistance parses a length such as "2.5mm" or "-300um". A bare number
// is taken as millimetres.
func ParseDistance(s string) (physic.Distance, error) {
	s = strings.TrimSpace(s)
	if mm, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(mm) || math.IsInf(mm, 0) {
			return 0, fmt.Errorf("invalid distance %q", s)
		}
		return Millimetres(mm), nil
	}
	var d physic.Distance
	if err := d.Set(s); err != nil {
		return 0, fmt.Errorf("invalid distance %q: %w", s, err)
	}
	return d, nil
}

// roundMicrometre rounds d to the nearest micrometre.
func roundMicrometre(d physic.Distance) physic.Distance {
	return physic.Distance(math.Round(float64(d)/float64(physic.MicroMetre))) * physic.MicroMetre
}

// Limits is the software travel range of a channel, in stage coordinates.
type Limits struct {
	Min physic.Distance
	Max physic.Distance
}

// NewLimits builds the travel range from the configured bounds in
// millimetres. A stage homed to its maximum counts down from zero, so the
// range is negated to [-max, -min].
func NewLimits(minMM, maxMM float64, homeToMin bool) (Limits, error) {
	if math.IsNaN(minMM) || math.IsNaN(maxMM) {
		return Limits{}, fmt.Errorf("invalid limits: min=%v max=%v", minMM, maxMM)
	}
	if minMM > maxMM {
		return Limits{}, fmt.Errorf("invalid limits: min (%v) must not exceed max (%v)", minMM, maxMM)
	}
	if !homeToMin {
		minMM, maxMM = -maxMM, -minMM
	}
	return Limits{Min: Millimetres(minMM), Max: Millimetres(maxMM)}, nil
}

// Contains reports whether d lies inside the range, bounds included.
func (l Limits) Contains(d physic.Distance) bool {
	return d >= l.Min && d <= l.Max
}

// Span returns the length of the range.
func (l Limits) Span() physic.Distance {
	return l.Max - l.Min
}

func (l Limits) String() string {
	return fmt.Sprintf("[%.3f mm, %.3f mm]", ToMillimetres(l.Min), ToMillimetres(l.Max))
}
