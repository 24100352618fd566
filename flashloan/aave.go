// Package flashloan resolves how much of an asset can be borrowed for one
// atomic arbitrage.
package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Source reports the loan liquidity available for an asset. A zero amount
// means the asset cannot be borrowed right now; it is not an error.
type Source interface {
	AvailableLiquidity(ctx context.Context, asset common.Address) (*big.Int, error)
}

// Aave pool getReserveData. The first word of the tuple is the available
// liquidity.
const poolABI = `[{
	"inputs": [{"name": "asset", "type": "address"}],
	"name": "getReserveData",
	"outputs": [
		{"name": "availableLiquidity", "type": "uint256"},
		{"name": "totalStableDebt", "type": "uint256"},
		{"name": "totalVariableDebt", "type": "uint256"},
		{"name": "liquidityRate", "type": "uint256"},
		{"name": "variableBorrowRate", "type": "uint256"},
		{"name": "stableBorrowRate", "type": "uint256"},
		{"name": "averageStableBorrowRate", "type": "uint256"},
		{"name": "liquidityIndex", "type": "uint256"},
		{"name": "variableBorrowIndex", "type": "uint256"},
		{"name": "lastUpdateTimestamp", "type": "uint40"}
	],
	"stateMutability": "view",
	"type": "function"
}]`

// PoolResolver returns the lending pool address, typically read from the
// arbitrage contract's POOL() getter.
type PoolResolver interface {
	Pool(ctx context.Context) (common.Address, error)
}

// AavePool reads available reserve liquidity from the Aave lending pool. The
// pool address is resolved lazily on first use and cached.
type AavePool struct {
	caller   bind.ContractCaller
	resolver PoolResolver
	logger   *zap.Logger
	parsed   abi.ABI

	mu    sync.Mutex
	bound *bind.BoundContract
}

// NewAavePool creates a liquidity source backed by the Aave pool that
// resolver points at.
func NewAavePool(caller bind.ContractCaller, resolver PoolResolver, logger *zap.Logger) (*AavePool, error) {
	parsed, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("flashloan: parse pool ABI: %w", err)
	}
	return &AavePool{
		caller:   caller,
		resolver: resolver,
		logger:   logger,
		parsed:   parsed,
	}, nil
}

// AvailableLiquidity returns the asset's borrowable reserve. Read failures
// degrade to zero liquidity so the scanner can move on.
func (p *AavePool) AvailableLiquidity(ctx context.Context, asset common.Address) (*big.Int, error) {
	bound, err := p.pool(ctx)
	if err != nil {
		p.logger.Warn("Failed resolving lending pool", zap.Error(err))
		return big.NewInt(0), nil
	}

	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "getReserveData", asset); err != nil {
		p.logger.Warn("Failed reading reserve data",
			zap.String("asset", asset.Hex()),
			zap.Error(err))
		return big.NewInt(0), nil
	}

	liquidity, ok := out[0].(*big.Int)
	if !ok {
		return big.NewInt(0), fmt.Errorf("flashloan: malformed getReserveData response")
	}
	return liquidity, nil
}

func (p *AavePool) pool(ctx context.Context) (*bind.BoundContract, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bound != nil {
		return p.bound, nil
	}

	addr, err := p.resolver.Pool(ctx)
	if err != nil {
		return nil, err
	}
	p.bound = bind.NewBoundContract(addr, p.parsed, p.caller, nil, nil)
	return p.bound, nil
}
