package bitmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatch_Bitmap_RequiredWords(t *testing.T) {
	t.Parallel()

	require.Equal(t, uint64(0), RequiredWords(0))
	require.Equal(t, uint64(1), RequiredWords(1))
	require.Equal(t, uint64(1), RequiredWords(64))
	require.Equal(t, uint64(2), RequiredWords(65))
	require.Equal(t, uint64(1094), RequiredWords(70_000))
}

func TestDispatch_Bitmap_New(t *testing.T) {
	t.Parallel()

	t.Run("small distributions are fully allocated", func(t *testing.T) {
		t.Parallel()

		b, full := New(100)
		require.True(t, full)
		require.Equal(t, 2, b.Len())
		require.Equal(t, 16, b.ByteSize())
		require.Zero(t, b.ExpansionNeeded())
	})

	t.Run("large distributions start at one step", func(t *testing.T) {
		t.Parallel()

		b, full := New(70_000)
		require.False(t, full)
		require.Equal(t, Step, b.Len())
		require.Equal(t, uint64(94), b.ExpansionNeeded())

		require.True(t, b.Expand())
		require.Equal(t, 1094, b.Len())
		require.Zero(t, b.ExpansionNeeded())

		require.True(t, b.Expand())
		require.Equal(t, 1094, b.Len())
	})

	t.Run("very large distributions grow one step at a time", func(t *testing.T) {
		t.Parallel()

		b, full := New(200_000)
		require.False(t, full)
		require.False(t, b.Expand())
		require.Equal(t, 2000, b.Len())
		require.False(t, b.Expand())
		require.Equal(t, 3000, b.Len())
		require.True(t, b.Expand())
		require.Equal(t, 3125, b.Len())
	})
}

func TestDispatch_Bitmap_SetIsSet(t *testing.T) {
	t.Parallel()

	t.Run("set bits stay set and neighbours are untouched", func(t *testing.T) {
		t.Parallel()

		b, _ := New(130)
		for _, i := range []uint64{0, 63, 64, 129} {
			set, err := b.IsSet(i)
			require.NoError(t, err)
			require.False(t, set)

			require.NoError(t, b.Set(i))

			set, err = b.IsSet(i)
			require.NoError(t, err)
			require.True(t, set)
		}
		set, err := b.IsSet(1)
		require.NoError(t, err)
		require.False(t, set)
		require.Equal(t, []uint64{1 | 1<<63, 1, 2}, b.Words())
	})

	t.Run("index at total is out of bounds", func(t *testing.T) {
		t.Parallel()

		b, _ := New(10)
		_, err := b.IsSet(10)
		require.ErrorIs(t, err, ErrIndexOutOfBounds)
		require.ErrorIs(t, b.Set(10), ErrIndexOutOfBounds)
	})

	t.Run("index in an unallocated word is out of bounds", func(t *testing.T) {
		t.Parallel()

		b, _ := New(70_000)
		require.ErrorIs(t, b.Set(64_000), ErrIndexOutOfBounds)
		require.NoError(t, b.Set(63_999))
	})

	t.Run("clear releases words and clone is independent", func(t *testing.T) {
		t.Parallel()

		b, _ := New(64)
		require.NoError(t, b.Set(5))
		c := b.Clone()
		b.Clear()
		require.Zero(t, b.Len())

		set, err := c.IsSet(5)
		require.NoError(t, err)
		require.True(t, set)
	})
}
