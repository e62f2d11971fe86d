package fee

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatch_Fee_CalculateFee(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount uint64
		want   uint64
	}{
		{name: "zero amount", amount: 0, want: 0},
		{name: "just below lowest tier", amount: 9_999_999_999, want: 0},
		{name: "lowest tier boundary", amount: 10_000_000_000, want: 10_000_000},
		{name: "inside 10 bps tier", amount: 99_999_999_999, want: 99_999_999},
		{name: "5 bps tier boundary", amount: 100_000_000_000, want: 50_000_000},
		{name: "2 bps tier boundary", amount: 1_000_000_000_000, want: 200_000_000},
		{name: "1 bps tier boundary", amount: 10_000_000_000_000, want: 1_000_000_000},
		{name: "capped above max", amount: 50_000_000_000_000, want: MaxFeeAmount},
		{name: "largest amount is capped", amount: math.MaxUint64, want: MaxFeeAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := CalculateFee(tt.amount)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDispatch_Fee_Schedule_Calculate(t *testing.T) {
	t.Parallel()

	t.Run("fails closed on multiply overflow", func(t *testing.T) {
		t.Parallel()

		s := Schedule{Tiers: []Tier{{Threshold: 0, BasisPoints: BasisPointsDivisor}}}
		_, err := s.Calculate(math.MaxUint64)
		require.ErrorIs(t, err, ErrOverflow)
	})

	t.Run("zero max disables the cap", func(t *testing.T) {
		t.Parallel()

		s := Schedule{Tiers: []Tier{{Threshold: 0, BasisPoints: 100}}}
		got, err := s.Calculate(1_000_000_000_000)
		require.NoError(t, err)
		require.Equal(t, uint64(10_000_000_000), got)
	})

	t.Run("first matching tier wins", func(t *testing.T) {
		t.Parallel()

		require.Equal(t, uint64(1), DefaultSchedule.BasisPointsFor(10_000_000_000_000))
		require.Equal(t, uint64(2), DefaultSchedule.BasisPointsFor(9_999_999_999_999))
		require.Equal(t, uint64(0), DefaultSchedule.BasisPointsFor(1))
	})
}
