// Package fee computes the protocol fee charged when a distribution is funded.
package fee

import (
	"errors"
	"math/bits"
)

const (
	// BasisPointsDivisor is the number of basis points in a whole.
	BasisPointsDivisor = 10_000

	// MaxFeeAmount caps any single fee, in base units of the mint.
	MaxFeeAmount uint64 = 1_000_000_000
)

// ErrOverflow is returned when amount times basis points does not fit in 64 bits.
var ErrOverflow = errors.New("fee calculation overflow")

// Tier applies BasisPoints to any amount at or above Threshold.
type Tier struct {
	Threshold   uint64
	BasisPoints uint64
}

// Schedule is an ordered list of tiers, highest threshold first. The first tier whose
// threshold the amount reaches wins; amounts below every tier pay nothing.
type Schedule struct {
	Tiers []Tier
	Max   uint64
}

// DefaultSchedule is the schedule applied to every funding.
var DefaultSchedule = Schedule{
	Tiers: []Tier{
		{Threshold: 10_000_000_000_000, BasisPoints: 1},
		{Threshold: 1_000_000_000_000, BasisPoints: 2},
		{Threshold: 100_000_000_000, BasisPoints: 5},
		{Threshold: 10_000_000_000, BasisPoints: 10},
	},
	Max: MaxFeeAmount,
}

// BasisPointsFor returns the basis points that apply to amount.
func (s Schedule) BasisPointsFor(amount uint64) uint64 {
	for _, tier := range s.Tiers {
		if amount >= tier.Threshold {
			return tier.BasisPoints
		}
	}
	return 0
}

// Calculate returns floor(amount * bps / 10000) capped at s.Max. A zero Max disables the cap.
func (s Schedule) Calculate(amount uint64) (uint64, error) {
	bps := s.BasisPointsFor(amount)
	if bps == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(amount, bps)
	if hi != 0 {
		return 0, ErrOverflow
	}
	fee := lo / BasisPointsDivisor
	if s.Max > 0 && fee > s.Max {
		fee = s.Max
	}
	return fee, nil
}

// CalculateFee applies DefaultSchedule.
func CalculateFee(amount uint64) (uint64, error) {
	return DefaultSchedule.Calculate(amount)
}
