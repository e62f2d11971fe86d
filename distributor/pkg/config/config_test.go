package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDispatch_Config_EnvironmentFor(t *testing.T) {
	t.Parallel()

	t.Run("resolves every known environment", func(t *testing.T) {
		t.Parallel()

		mints := make(map[string]bool)
		for _, env := range Envs() {
			e, err := EnvironmentFor(string(env))
			require.NoError(t, err)
			require.Equal(t, env, e.Env)
			require.Equal(t, uint8(MintDecimals), e.Decimals)
			require.Equal(t, ProgramID, e.ProgramID)
			require.Equal(t, GatewayProgram, e.GatewayProgram)
			require.NotEmpty(t, e.RPCURL)
			mints[e.Mint.String()] = true
		}
		require.Len(t, mints, len(Envs()))
	})

	t.Run("mainnet uses the production mint", func(t *testing.T) {
		t.Parallel()

		e, err := EnvironmentFor("mainnet-beta")
		require.NoError(t, err)
		require.Equal(t, "2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo", e.Mint.String())
		require.Contains(t, e.RPCURL, "mainnet-beta")
	})

	t.Run("returns error for unknown environments", func(t *testing.T) {
		t.Parallel()

		_, err := EnvironmentFor("testnet")
		require.ErrorContains(t, err, `unknown environment "testnet"`)
	})
}
