package chain

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ParamsForName resolves chain parameters from a configured chain name.
func ParamsForName(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "main", "mainnet", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported chain %q", name)
	}
}

// DecodeAddresses extracts human-readable addresses from a public key script.
// Non-standard scripts yield no addresses.
func DecodeAddresses(pkScript []byte, params *chaincfg.Params) []string {
	if len(pkScript) == 0 {
		return nil
	}
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || len(addrs) == 0 {
		return nil
	}

	result := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		result = append(result, addr.EncodeAddress())
	}
	return result
}

// ScriptClass names the standard script class of pkScript.
func ScriptClass(pkScript []byte) string {
	return txscript.GetScriptClass(pkScript).String()
}
