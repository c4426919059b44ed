package config

import (
	"github.com/rs/zerolog/log"
)

// Chain endpoint configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function in live mode.
var (
	// ChainRPC is the JSON-RPC endpoint for the EVM node.
	ChainRPC string
	// ChainID is the chain ID of the target network.
	ChainID uint64
	// ClearingContract is the deployed clearing contract address.
	ClearingContract string
	// ReputationContract is the deployed reputation registry address.
	ReputationContract string
	// OperatorKey is the hex-encoded private key of the clearing operator.
	OperatorKey string
)

// loadChainConfig loads chain configuration from environment variables.
// This function is called by LoadConfig() in General.go when live mode is
// selected.
func loadChainConfig() error {
	log.Info().Msg("Loading chain configuration from environment variables...")

	var err error

	ChainRPC, err = getEnv("CHAIN_RPC_URL")
	if err != nil {
		return err
	}

	ChainID, err = getEnvAsUint64("CHAIN_ID")
	if err != nil {
		return err
	}

	ClearingContract, err = getEnv("CLEARING_CONTRACT")
	if err != nil {
		return err
	}

	ReputationContract, err = getEnv("REPUTATION_CONTRACT")
	if err != nil {
		return err
	}

	OperatorKey, err = getEnv("CLEARING_OPERATOR_KEY")
	if err != nil {
		return err
	}

	log.Debug().
		Str("ChainRPC", ChainRPC).
		Uint64("ChainID", ChainID).
		Str("ClearingContract", ClearingContract).
		Str("ReputationContract", ReputationContract).
		Msg("Chain configuration loaded successfully.")

	return nil
}
