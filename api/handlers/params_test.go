package handlers_test

import (
	"encoding/json"
	"testing"

	"github.com/malbeclabs/dispatch/api/handlers"
	"github.com/malbeclabs/dispatch/distributor/pkg/merkle"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
)

func TestDispatch_API_ParseHash(t *testing.T) {
	t.Parallel()

	want := merkle.Keccak256([]byte("leaf"))

	t.Run("accepts hex and base58", func(t *testing.T) {
		t.Parallel()

		for _, s := range []string{want.String(), "0x" + want.String(), base58.Encode(want[:])} {
			got, err := handlers.ParseHash(s)
			require.NoError(t, err, s)
			require.Equal(t, want, got)
		}
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		t.Parallel()

		for _, s := range []string{"", "zz", base58.Encode([]byte("short")), want.String()[:62]} {
			_, err := handlers.ParseHash(s)
			require.ErrorIs(t, err, merkle.ErrMalformedHash, s)
		}
	})

	t.Run("json hashes are written as hex", func(t *testing.T) {
		t.Parallel()

		var proof []handlers.Hash
		require.NoError(t, json.Unmarshal([]byte(`["`+base58.Encode(want[:])+`"]`), &proof))
		require.Equal(t, handlers.Hash(want), proof[0])

		out, err := json.Marshal(proof)
		require.NoError(t, err)
		require.JSONEq(t, `["`+want.String()+`"]`, string(out))
	})
}
