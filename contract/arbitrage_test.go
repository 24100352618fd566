package contract

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contractAddr = common.HexToAddress("0x9999999999999999999999999999999999999999")

type mockCaller struct {
	reply func(data []byte) ([]byte, error)
}

func (m *mockCaller) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (m *mockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.reply(call.Data)
}

func testParams() ExecuteParams {
	return ExecuteParams{
		Asset:   common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Amount:  big.NewInt(1_000_000),
		Routers: []common.Address{contractAddr, contractAddr},
		PathIn:  []common.Address{common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")},
		PathOut: []common.Address{common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")},
		Fees:    []*big.Int{big.NewInt(0), big.NewInt(3000)},

		SlippageBps: big.NewInt(100),
		MinProfit:   big.NewInt(0),
		Tip:         big.NewInt(1),
	}
}

func TestPackExecuteFlashLoan(t *testing.T) {
	arb, err := New(contractAddr, &mockCaller{})
	require.NoError(t, err)

	data, err := arb.PackExecuteFlashLoan(testParams())
	require.NoError(t, err)

	method := arb.parsed.Methods["executeFlashLoanAave"]
	assert.Equal(t, []byte(method.ID), data[:4])

	// Round trip through the ABI to confirm argument order.
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	assert.Equal(t, testParams().Asset, args[0].(common.Address))
	assert.Equal(t, int64(1_000_000), args[1].(*big.Int).Int64())
}

func TestTokenWhitelist(t *testing.T) {
	caller := &mockCaller{}
	arb, err := New(contractAddr, caller)
	require.NoError(t, err)

	method := arb.parsed.Methods["tokenWhitelist"]
	caller.reply = func([]byte) ([]byte, error) {
		return method.Outputs.Pack(true)
	}

	allowed, err := arb.TokenWhitelist(context.Background(), testParams().Asset)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestPool(t *testing.T) {
	caller := &mockCaller{}
	arb, err := New(contractAddr, caller)
	require.NoError(t, err)

	pool := common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	method := arb.parsed.Methods["POOL"]
	caller.reply = func([]byte) ([]byte, error) {
		return method.Outputs.Pack(pool)
	}

	got, err := arb.Pool(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pool, got)
}
