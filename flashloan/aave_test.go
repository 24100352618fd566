package flashloan

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	poolAddr = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

type mockCaller struct {
	liquidity *big.Int
	callErr   error
}

func (m *mockCaller) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (m *mockCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if m.callErr != nil {
		return nil, m.callErr
	}
	parsed, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, err
	}
	zero := big.NewInt(0)
	return parsed.Methods["getReserveData"].Outputs.Pack(
		m.liquidity, zero, zero, zero, zero, zero, zero, zero, zero, zero)
}

type mockResolver struct {
	addr  common.Address
	err   error
	calls int
}

func (m *mockResolver) Pool(ctx context.Context) (common.Address, error) {
	m.calls++
	return m.addr, m.err
}

func TestAvailableLiquidity(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("ReadsReserve", func(t *testing.T) {
		caller := &mockCaller{liquidity: big.NewInt(5_000_000)}
		pool, err := NewAavePool(caller, &mockResolver{addr: poolAddr}, logger)
		require.NoError(t, err)

		amount, err := pool.AvailableLiquidity(context.Background(), weth)
		require.NoError(t, err)
		assert.Equal(t, int64(5_000_000), amount.Int64())
	})

	t.Run("ResolverFailureDegradesToZero", func(t *testing.T) {
		caller := &mockCaller{liquidity: big.NewInt(1)}
		pool, err := NewAavePool(caller, &mockResolver{err: errors.New("rpc down")}, logger)
		require.NoError(t, err)

		amount, err := pool.AvailableLiquidity(context.Background(), weth)
		require.NoError(t, err)
		assert.Equal(t, int64(0), amount.Int64())
	})

	t.Run("ReadFailureDegradesToZero", func(t *testing.T) {
		caller := &mockCaller{callErr: errors.New("execution reverted")}
		pool, err := NewAavePool(caller, &mockResolver{addr: poolAddr}, logger)
		require.NoError(t, err)

		amount, err := pool.AvailableLiquidity(context.Background(), weth)
		require.NoError(t, err)
		assert.Equal(t, int64(0), amount.Int64())
	})

	t.Run("PoolResolvedOnce", func(t *testing.T) {
		caller := &mockCaller{liquidity: big.NewInt(1)}
		resolver := &mockResolver{addr: poolAddr}
		pool, err := NewAavePool(caller, resolver, logger)
		require.NoError(t, err)

		_, err = pool.AvailableLiquidity(context.Background(), weth)
		require.NoError(t, err)
		_, err = pool.AvailableLiquidity(context.Background(), weth)
		require.NoError(t, err)
		assert.Equal(t, 1, resolver.calls)
	})
}
