// Package config provides configuration management for the facilitator.
//
// This package defines the Config structure that controls the facilitator
// process: network settings, RPC endpoint, operator key, contract addresses,
// fee policy, HTTP settings and timeouts.
//
// # Basic Configuration
//
// The minimum required configuration needs an RPC endpoint and the operator key:
//
//	cfg := &config.Config{
//		RPCAddr:    "https://mainnet.base.org",
//		PrivateKey: "YOUR_PRIVATE_KEY",
//	}
//
// # Network Selection
//
// Two predefined networks are available:
//
//	config.Base        - Base mainnet (ChainID: 8453, network "base")
//	config.BaseSepolia - Base Sepolia testnet (ChainID: 84532, network "base-sepolia")
//
// The network name is the x402 network identifier advertised in /supported and
// in every 402 challenge, and it must match the "network" field of incoming
// payment payloads.
//
// # Contracts
//
// BaseContracts holds the USDC (EIP-3009) and USDCx super token addresses and
// the Superfluid CFA and CFA forwarder deployments on Base. Other chains need
// all four addresses set explicitly, and Validate rejects any Base mainnet
// address on them.
//
// # Fee Policy
//
// The fee is max(MinFee, amount*Percent/Divisor) in the smallest unit of the
// underlying token. DefaultFee charges max(0.1 USDC, 0.1%).
//
// # Environment
//
// FromEnv reads the deployment variables (FACILITATOR_PRIVATE_KEY,
// BASE_RPC_URL, PORT, ALLOWED_ORIGIN) plus optional overrides into a raw map
// and decodes it onto Default() with go-config's cfgx, using Validate as the
// validator:
//
//	cfg, err := config.FromEnv()
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
// # Timeouts
//
// Zero values are replaced with defaults via WithDefaults(). ReceiptWait bounds
// each transaction confirmation wait; exceeding it surfaces as a chain timeout
// instead of a hung request.
//
// # Thread Safety
//
// Config instances are created once at process start and passed by reference
// into the gateway and the pipeline. They are read-only afterwards.
package config
