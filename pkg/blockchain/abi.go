package blockchain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// underlyingTokenABI covers the ERC-20 and EIP-3009 surface of USDC used by
// the facilitator.
const underlyingTokenABI = `[
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transferWithAuthorization","stateMutability":"nonpayable",
   "inputs":[
     {"name":"from","type":"address"},{"name":"to","type":"address"},
     {"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},
     {"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},
     {"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],
   "outputs":[]}
]`

// superTokenABI is the subset of the Superfluid super token used for wrapping.
const superTokenABI = `[
  {"type":"function","name":"upgrade","stateMutability":"nonpayable",
   "inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"upgradeTo","stateMutability":"nonpayable",
   "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable",
   "inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"success","type":"bool"}]},
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"balance","type":"uint256"}]}
]`

const cfaABI = `[
  {"type":"function","name":"getFlowOperatorData","stateMutability":"view",
   "inputs":[{"name":"token","type":"address"},{"name":"sender","type":"address"},{"name":"flowOperator","type":"address"}],
   "outputs":[{"name":"flowOperatorId","type":"bytes32"},{"name":"permissions","type":"uint8"},{"name":"flowrateAllowance","type":"int96"}]}
]`

const cfaForwarderABI = `[
  {"type":"function","name":"getFlowrate","stateMutability":"view",
   "inputs":[{"name":"token","type":"address"},{"name":"sender","type":"address"},{"name":"receiver","type":"address"}],
   "outputs":[{"name":"flowrate","type":"int96"}]},
  {"type":"function","name":"setFlowrateFrom","stateMutability":"nonpayable",
   "inputs":[{"name":"token","type":"address"},{"name":"sender","type":"address"},{"name":"receiver","type":"address"},{"name":"flowrate","type":"int96"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var (
	UnderlyingTokenABI = mustParseABI(underlyingTokenABI)
	SuperTokenABI      = mustParseABI(superTokenABI)
	CFAABI             = mustParseABI(cfaABI)
	CFAForwarderABI    = mustParseABI(cfaForwarderABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("blockchain: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
