// Package config resolves the network a distributor runs against.
package config

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type Env string

const (
	EnvLocalnet    Env = "localnet"
	EnvDevnet      Env = "devnet"
	EnvMainnetBeta Env = "mainnet-beta"
)

// MintDecimals is the number of decimals of every supported mint.
const MintDecimals = 6

var (
	ProgramID      = solana.MustPublicKeyFromBase58("D1STwmxtNRt9NWcZThPTCLZWzVsk7pPryWz3GjVgRtzo")
	GatewayProgram = solana.MustPublicKeyFromBase58("gatem74V238djXdzWnJf94Wo1DcnuGkfijbf3AuBhfs")
)

// Environment is everything that differs between networks.
type Environment struct {
	Env            Env
	Mint           solana.PublicKey
	Decimals       uint8
	ProgramID      solana.PublicKey
	GatewayProgram solana.PublicKey
	RPCURL         string
}

var environments = map[Env]Environment{
	EnvLocalnet: {
		Env:            EnvLocalnet,
		Mint:           solana.MustPublicKeyFromBase58("PyuSdRak7SLogVeLcj8tgAk1JCJvHpfZ9R5keq25BkS"),
		Decimals:       MintDecimals,
		ProgramID:      ProgramID,
		GatewayProgram: GatewayProgram,
		RPCURL:         rpc.LocalNet_RPC,
	},
	EnvDevnet: {
		Env:            EnvDevnet,
		Mint:           solana.MustPublicKeyFromBase58("CXk2AMBfi3TwaEL2468s6zP8xq9NxTXjp9gjMgzeUynM"),
		Decimals:       MintDecimals,
		ProgramID:      ProgramID,
		GatewayProgram: GatewayProgram,
		RPCURL:         rpc.DevNet_RPC,
	},
	EnvMainnetBeta: {
		Env:            EnvMainnetBeta,
		Mint:           solana.MustPublicKeyFromBase58("2b1kV6DkPAnxd5ixfnxCpjxmKwqjjaYmCZfHsFu24GXo"),
		Decimals:       MintDecimals,
		ProgramID:      ProgramID,
		GatewayProgram: GatewayProgram,
		RPCURL:         rpc.MainNetBeta_RPC,
	},
}

// Envs lists the known environments.
func Envs() []Env {
	return []Env{EnvLocalnet, EnvDevnet, EnvMainnetBeta}
}

// EnvironmentFor returns the settings of env.
func EnvironmentFor(env string) (Environment, error) {
	e, ok := environments[Env(env)]
	if !ok {
		return Environment{}, fmt.Errorf("unknown environment %q (want one of %v)", env, Envs())
	}
	return e, nil
}
