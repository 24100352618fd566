// Package contract wraps the deployed flash-loan arbitrage contract.
package contract

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

const arbitrageABI = `[{
	"inputs": [{"name": "token", "type": "address"}],
	"name": "tokenWhitelist",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"inputs": [],
	"name": "POOL",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}, {
	"inputs": [
		{"name": "asset", "type": "address"},
		{"name": "amount", "type": "uint256"},
		{"name": "routers", "type": "address[]"},
		{"name": "pathIn", "type": "address[]"},
		{"name": "pathOut", "type": "address[]"},
		{"name": "fees", "type": "uint24[]"},
		{"name": "slippageBps", "type": "uint256"},
		{"name": "minProfit", "type": "uint256"},
		{"name": "tip", "type": "uint256"}
	],
	"name": "executeFlashLoanAave",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
}]`

// ExecuteParams are the arguments of the contract's flash-loan entry point.
type ExecuteParams struct {
	Asset       common.Address
	Amount      *big.Int
	Routers     []common.Address
	PathIn      []common.Address
	PathOut     []common.Address
	Fees        []*big.Int
	SlippageBps *big.Int
	MinProfit   *big.Int
	Tip         *big.Int
}

// Arbitrage is a read/pack handle on the deployed arbitrage contract.
// Broadcast and signing stay with the executor.
type Arbitrage struct {
	address common.Address
	parsed  abi.ABI
	bound   *bind.BoundContract
}

// New binds the handle to the contract at address. caller is the read-call
// surface, satisfied by *ethclient.Client.
func New(address common.Address, caller bind.ContractCaller) (*Arbitrage, error) {
	parsed, err := abi.JSON(strings.NewReader(arbitrageABI))
	if err != nil {
		return nil, fmt.Errorf("contract: parse ABI: %w", err)
	}
	return &Arbitrage{
		address: address,
		parsed:  parsed,
		bound:   bind.NewBoundContract(address, parsed, caller, nil, nil),
	}, nil
}

// Address returns the contract address.
func (a *Arbitrage) Address() common.Address { return a.address }

// TokenWhitelist reports whether the contract allows trading token.
func (a *Arbitrage) TokenWhitelist(ctx context.Context, token common.Address) (bool, error) {
	var out []interface{}
	err := a.bound.Call(&bind.CallOpts{Context: ctx}, &out, "tokenWhitelist", token)
	if err != nil {
		return false, fmt.Errorf("contract: tokenWhitelist: %w", err)
	}
	allowed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("contract: malformed tokenWhitelist response")
	}
	return allowed, nil
}

// Pool returns the lending pool the contract borrows from.
func (a *Arbitrage) Pool(ctx context.Context) (common.Address, error) {
	var out []interface{}
	err := a.bound.Call(&bind.CallOpts{Context: ctx}, &out, "POOL")
	if err != nil {
		return common.Address{}, fmt.Errorf("contract: POOL: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("contract: malformed POOL response")
	}
	return addr, nil
}

// PackExecuteFlashLoan builds the calldata for one arbitrage execution.
func (a *Arbitrage) PackExecuteFlashLoan(p ExecuteParams) ([]byte, error) {
	data, err := a.parsed.Pack("executeFlashLoanAave",
		p.Asset, p.Amount, p.Routers, p.PathIn, p.PathOut,
		p.Fees, p.SlippageBps, p.MinProfit, p.Tip)
	if err != nil {
		return nil, fmt.Errorf("contract: pack executeFlashLoanAave: %w", err)
	}
	return data, nil
}
