package config

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultVolatility is assumed for tokens without an entry.
const DefaultVolatility = 0.04

var symbolVolatility = map[string]float64{
	"WETH": 0.03,
	"USDC": 0.04,
	"WBTC": 0.05,
	"DAI":  0.03,
	"LINK": 0.04,
	"UNI":  0.04,
}

// VolatilityTable maps token addresses to an observed volatility in [0,1].
// The scanner derives dynamic slippage from it.
type VolatilityTable struct {
	values map[common.Address]float64
}

// NewVolatilityTable seeds the table from the network's token registry.
func NewVolatilityTable(net *Network) *VolatilityTable {
	t := &VolatilityTable{values: make(map[common.Address]float64, len(net.Tokens))}
	for _, tok := range net.Tokens {
		vol, ok := symbolVolatility[strings.ToUpper(tok.Symbol)]
		if !ok {
			vol = DefaultVolatility
		}
		t.values[tok.Addr()] = vol
	}
	return t
}

// Lookup returns the volatility for token, or DefaultVolatility when absent.
func (t *VolatilityTable) Lookup(token common.Address) float64 {
	if v, ok := t.values[token]; ok {
		return v
	}
	return DefaultVolatility
}
