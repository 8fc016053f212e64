package celo

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// marketplaceABIJSON covers the marketplace contract methods the client uses.
const marketplaceABIJSON = `[
  {"type":"function","name":"getProductsLength","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"readProduct","stateMutability":"view",
   "inputs":[{"name":"_index","type":"uint256"}],
   "outputs":[
     {"name":"","type":"address"},{"name":"","type":"string"},{"name":"","type":"string"},
     {"name":"","type":"string"},{"name":"","type":"string"},{"name":"","type":"uint256"},
     {"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
  {"type":"function","name":"likedProduct","stateMutability":"view",
   "inputs":[{"name":"_index","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getComments","stateMutability":"view",
   "inputs":[{"name":"_index","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"commenter","type":"address"},
     {"name":"timeStamp","type":"uint256"},
     {"name":"comment","type":"string"}]}]},
  {"type":"function","name":"buyProduct","stateMutability":"nonpayable",
   "inputs":[{"name":"_index","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"like","stateMutability":"nonpayable",
   "inputs":[{"name":"_index","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"unlike","stateMutability":"nonpayable",
   "inputs":[{"name":"_index","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"makeComment","stateMutability":"nonpayable",
   "inputs":[{"name":"_index","type":"uint256"},{"name":"_comment","type":"string"}],"outputs":[]}
]`

// erc20ABIJSON is the subset of ERC20 used for spending authorization.
const erc20ABIJSON = `[
  {"type":"function","name":"approve","stateMutability":"nonpayable",
   "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
   "outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]}
]`

var (
	marketplaceABI = mustParseABI(marketplaceABIJSON)
	erc20ABI       = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic("celo: invalid embedded ABI: " + err.Error())
	}
	return parsed
}
