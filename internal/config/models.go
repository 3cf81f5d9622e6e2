package config

import "os"

// SupportedNetworks lists the recognized --network labels, used only to
// validate CLI/config input; the network label itself is just a string
// woven into the ledger filename and the attestation manifest.
func SupportedNetworks() []string {
	return []string{"mainnet-beta", "devnet", "testnet"}
}

// rpcDefaults maps a network label to its public default RPC endpoint, used
// when the operator configures a network but no explicit --rpc/RPCEndpoint.
func rpcDefaults() map[string]string {
	return map[string]string{
		"mainnet-beta": "https://api.mainnet-beta.solana.com",
		"devnet":       "https://api.devnet.solana.com",
		"testnet":      "https://api.testnet.solana.com",
	}
}

// AvailableNetworks reports which networks have an RPC endpoint reachable
// in principle (i.e. all of them — this module does not probe connectivity,
// it only rules out obviously-unconfigured networks via env overrides).
func AvailableNetworks() []string {
	nets := SupportedNetworks()
	if os.Getenv("KORA_RENT_RPC_URL") != "" {
		return nets
	}
	return nets
}
