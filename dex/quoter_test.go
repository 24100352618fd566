package dex

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	routerAddr = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	tokenA     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	tokenB     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
)

// mockCaller matches calls by method selector.
type mockCaller struct {
	responses map[string]func(data []byte) ([]byte, error)
	calls     map[string]int
}

func newMockCaller() *mockCaller {
	return &mockCaller{
		responses: make(map[string]func([]byte) ([]byte, error)),
		calls:     make(map[string]int),
	}
}

func (m *mockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	sel := string(call.Data[:4])
	m.calls[sel]++
	fn, ok := m.responses[sel]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return fn(call.Data)
}

func newTestSource(t *testing.T, caller ContractCaller) *Source {
	t.Helper()
	s, err := NewSource(caller, 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func selector(s *Source, which string, method string) string {
	switch which {
	case "v2":
		return string(s.v2ABI.Methods[method].ID)
	case "v3":
		return string(s.v3ABI.Methods[method].ID)
	default:
		return string(s.curveABI.Methods[method].ID)
	}
}

func TestParseKind(t *testing.T) {
	for raw, want := range map[string]PoolKind{"v2": PoolV2, "V3": PoolV3, "Curve": PoolCurve} {
		got, err := ParseKind(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("balancer")
	require.Error(t, err)
}

func TestQuoteV2(t *testing.T) {
	caller := newMockCaller()
	source := newTestSource(t, caller)

	out := big.NewInt(1_850_000_000)
	caller.responses[selector(source, "v2", "getAmountsOut")] = func([]byte) ([]byte, error) {
		return source.v2ABI.Methods["getAmountsOut"].Outputs.Pack(
			[]*big.Int{big.NewInt(1_000_000_000_000_000_000), out})
	}

	quote, err := source.Quote(context.Background(), routerAddr, tokenA, tokenB,
		big.NewInt(1_000_000_000_000_000_000), PoolV2)
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, 0, quote.AmountOut.Cmp(out))
	assert.Equal(t, int64(0), quote.Fee.Int64())
}

func TestQuoteV3PicksBestTier(t *testing.T) {
	caller := newMockCaller()
	source := newTestSource(t, caller)

	// Only the 500 and 3000 tiers have pools, 3000 pays better.
	outputs := map[int64]*big.Int{
		500:  big.NewInt(900),
		3000: big.NewInt(1100),
	}
	method := source.v3ABI.Methods["quoteExactInputSingle"]
	caller.responses[selector(source, "v3", "quoteExactInputSingle")] = func(data []byte) ([]byte, error) {
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		tier := args[2].(*big.Int).Int64()
		out, ok := outputs[tier]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(out)
	}

	quote, err := source.Quote(context.Background(), routerAddr, tokenA, tokenB, big.NewInt(1000), PoolV3)
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, int64(1100), quote.AmountOut.Int64())
	assert.Equal(t, int64(3000), quote.Fee.Int64())
}

func TestQuoteCurve(t *testing.T) {
	caller := newMockCaller()
	source := newTestSource(t, caller)

	coins := []common.Address{tokenB, tokenA} // tokenIn at slot 1, tokenOut at slot 0
	coinsMethod := source.curveABI.Methods["coins"]
	caller.responses[selector(source, "curve", "coins")] = func(data []byte) ([]byte, error) {
		args, err := coinsMethod.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		i := args[0].(*big.Int).Int64()
		if i >= int64(len(coins)) {
			return nil, errors.New("execution reverted")
		}
		return coinsMethod.Outputs.Pack(coins[i])
	}

	dyMethod := source.curveABI.Methods["get_dy"]
	caller.responses[selector(source, "curve", "get_dy")] = func(data []byte) ([]byte, error) {
		args, err := dyMethod.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, err
		}
		// tokenA sits at slot 1, tokenB at slot 0.
		if args[0].(*big.Int).Int64() != 1 || args[1].(*big.Int).Int64() != 0 {
			return nil, errors.New("wrong coin indices")
		}
		return dyMethod.Outputs.Pack(big.NewInt(995))
	}

	quote, err := source.Quote(context.Background(), routerAddr, tokenA, tokenB, big.NewInt(1000), PoolCurve)
	require.NoError(t, err)
	require.NotNil(t, quote)
	assert.Equal(t, int64(995), quote.AmountOut.Int64())
}

func TestQuoteExhaustsRetries(t *testing.T) {
	caller := newMockCaller()
	source := newTestSource(t, caller)

	// Malformed response: a single-element amounts array on every attempt.
	sel := selector(source, "v2", "getAmountsOut")
	caller.responses[sel] = func([]byte) ([]byte, error) {
		return source.v2ABI.Methods["getAmountsOut"].Outputs.Pack([]*big.Int{big.NewInt(1000)})
	}

	start := time.Now()
	quote, err := source.Quote(context.Background(), routerAddr, tokenA, tokenB, big.NewInt(1000), PoolV2)
	require.NoError(t, err)
	assert.Nil(t, quote)
	assert.Equal(t, 3, caller.calls[sel])
	// Two linear waits happened in between: 500ms + 1000ms.
	assert.GreaterOrEqual(t, time.Since(start), 1500*time.Millisecond)
}

func TestQuoteUnknownKind(t *testing.T) {
	caller := newMockCaller()
	source := newTestSource(t, caller)

	quote, err := source.Quote(context.Background(), routerAddr, tokenA, tokenB, big.NewInt(1000), PoolKind("balancer"))
	require.NoError(t, err)
	assert.Nil(t, quote)
	assert.Empty(t, caller.calls)
}

func TestV3NoLiquidityAnywhere(t *testing.T) {
	caller := newMockCaller()
	source := newTestSource(t, caller)

	// Every tier reverts; after retries the route reports no quote.
	quote, err := source.Quote(context.Background(), routerAddr, tokenA, tokenB, big.NewInt(1000), PoolV3)
	require.NoError(t, err)
	assert.Nil(t, quote)
}
