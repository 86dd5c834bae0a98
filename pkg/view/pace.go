package view

import (
	"fmt"
	"math"
	"strings"
)

// ScanRate scales the per-tick work quota.
type ScanRate uint8

const (
	RateDisabled ScanRate = iota
	RateSlow
	RateNormal
	RateFast
)

var rateNames = [...]string{"disabled", "slow", "normal", "fast"}

func (r ScanRate) String() string {
	if int(r) < len(rateNames) {
		return rateNames[r]
	}
	return fmt.Sprintf("rate(%d)", uint8(r))
}

// Factor returns the multiplier applied to sqrt(total).
func (r ScanRate) Factor() float64 {
	switch r {
	case RateSlow:
		return 0.5
	case RateNormal:
		return 1
	case RateFast:
		return 2
	default:
		return 0
	}
}

func ParseScanRate(s string) (ScanRate, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range rateNames {
		if n == s {
			return ScanRate(i), nil
		}
	}
	return RateDisabled, fmt.Errorf("unknown scan rate %q", s)
}

// Acceleration shapes how fast the quota grows while a view keeps seeing
// changes.
type Acceleration uint8

const (
	AccelNone Acceleration = iota
	AccelLinear
	AccelTriangular
	AccelExponential
)

var accelNames = [...]string{"none", "linear", "triangular", "exponential"}

func (a Acceleration) String() string {
	if int(a) < len(accelNames) {
		return accelNames[a]
	}
	return fmt.Sprintf("acceleration(%d)", uint8(a))
}

// MaxLevel caps the acceleration level.
const MaxLevel = 16

// Factor returns the quota multiplier at the given level.
func (a Acceleration) Factor(level int) float64 {
	l := float64(min(max(level, 0), MaxLevel))
	switch a {
	case AccelLinear:
		return l + 1
	case AccelTriangular:
		return (l + 1) * (l + 2) / 2
	case AccelExponential:
		return math.Exp2(l)
	default:
		return 1
	}
}

func ParseAcceleration(s string) (Acceleration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range accelNames {
		if n == s {
			return Acceleration(i), nil
		}
	}
	return AccelNone, fmt.Errorf("unknown scan acceleration %q", s)
}

// Quota returns the number of work items for one tick over total
// candidates, clamped to [1, total]. A disabled rate or an empty source
// gives zero.
func Quota(total int, rate ScanRate, accel Acceleration, level int) int {
	f := rate.Factor()
	if total <= 0 || f == 0 {
		return 0
	}
	q := math.Ceil(math.Sqrt(float64(total)) * f * accel.Factor(level))
	if q >= float64(total) {
		return total
	}
	return max(int(q), 1)
}
