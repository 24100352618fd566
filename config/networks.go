package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// MainnetChainID is the only network the bot trades on. Relay simulation is
// refused anywhere else.
const MainnetChainID uint64 = 1

// Token is one registry entry for a tradable asset.
type Token struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// Addr returns the parsed token address.
func (t Token) Addr() common.Address { return common.HexToAddress(t.Address) }

// DexRouter describes one liquidity venue: the router (or quoter) contract to
// query and the pricing model behind it.
type DexRouter struct {
	Name   string `yaml:"name"`
	Router string `yaml:"router"`
	Kind   string `yaml:"kind"` // v2, v3 or curve
}

// Addr returns the parsed router address.
func (d DexRouter) Addr() common.Address { return common.HexToAddress(d.Router) }

// FallbackFees are the hardcoded gas values used when the node cannot be
// asked. Wei-denominated fields are decimal strings in YAML.
type FallbackFees struct {
	GasLimit    uint64 `yaml:"gas_limit"`
	MaxFee      string `yaml:"max_fee"`
	PriorityFee string `yaml:"priority_fee"`
	GasCost     string `yaml:"gas_cost"` // scanner fallback when pricing a candidate fails
}

// Network bundles everything the core needs to know about one chain.
type Network struct {
	Name     string       `yaml:"name"`
	ChainID  uint64       `yaml:"chain_id"`
	Tokens   []Token      `yaml:"tokens"`
	Dexes    []DexRouter  `yaml:"dexes"`
	Fallback FallbackFees `yaml:"fallback"`
	// TipWei is forwarded to the arbitrage contract as the builder tip.
	TipWei string `yaml:"tip_wei"`
}

// FallbackMaxFee returns the hardcoded max fee per gas.
func (n *Network) FallbackMaxFee() *big.Int { return mustBig(n.Fallback.MaxFee) }

// FallbackPriorityFee returns the hardcoded priority fee per gas.
func (n *Network) FallbackPriorityFee() *big.Int { return mustBig(n.Fallback.PriorityFee) }

// FallbackGasCost returns the flat gas cost the scanner substitutes when the
// estimator fails for a candidate.
func (n *Network) FallbackGasCost() *big.Int { return mustBig(n.Fallback.GasCost) }

// Tip returns the builder tip in wei.
func (n *Network) Tip() *big.Int { return mustBig(n.TipWei) }

// IsMainnet reports whether this network is the live target.
func (n *Network) IsMainnet() bool { return n.ChainID == MainnetChainID }

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// Mainnet returns the built-in mainnet registry.
func Mainnet() *Network {
	return &Network{
		Name:    "mainnet",
		ChainID: MainnetChainID,
		Tokens: []Token{
			{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
			{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
			{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
			{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
			{Symbol: "LINK", Address: "0x514910771AF9Ca656af840dff83E8264EcF986CA", Decimals: 18},
			{Symbol: "UNI", Address: "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984", Decimals: 18},
		},
		Dexes: []DexRouter{
			{Name: "uniswap_v2", Router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", Kind: "v2"},
			{Name: "sushiswap", Router: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F", Kind: "v2"},
			{Name: "uniswap_v3", Router: "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6", Kind: "v3"},
			{Name: "curve_3pool", Router: "0xbEbc44782C7dB0a1A60Cb6fe97d0b483032FF1C7", Kind: "curve"},
		},
		Fallback: FallbackFees{
			GasLimit:    1_500_000,
			MaxFee:      "10000000000", // 10 gwei
			PriorityFee: "500000000",   // 0.5 gwei
			GasCost:     "1500000",
		},
		TipWei: "10000000000000000", // 0.01 ETH
	}
}

// LoadNetwork returns the registry for name, optionally overridden by a YAML
// file. Only mainnet is built in.
func LoadNetwork(name, file string) (*Network, error) {
	if name != "mainnet" {
		return nil, fmt.Errorf("config: unsupported network %q", name)
	}
	net := Mainnet()
	if file == "" {
		return net, nil
	}

	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("config: read registry file: %w", err)
	}
	if err := yaml.Unmarshal(raw, net); err != nil {
		return nil, fmt.Errorf("config: parse registry file: %w", err)
	}
	if net.ChainID != MainnetChainID {
		return nil, fmt.Errorf("config: registry file changes chain id to %d", net.ChainID)
	}
	if len(net.Dexes) == 0 {
		return nil, fmt.Errorf("config: registry file lists no dexes")
	}
	return net, nil
}
