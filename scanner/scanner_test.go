package scanner

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jvaldesl/flasharb/config"
	"github.com/jvaldesl/flasharb/contract"
	"github.com/jvaldesl/flasharb/dex"
	"github.com/jvaldesl/flasharb/gas"
	"github.com/jvaldesl/flasharb/notify"
)

type mockContract struct {
	mu             sync.Mutex
	whitelistCalls int
	denied         map[common.Address]bool
}

func (m *mockContract) Address() common.Address {
	return common.HexToAddress("0x9999999999999999999999999999999999999999")
}

func (m *mockContract) TokenWhitelist(ctx context.Context, token common.Address) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.whitelistCalls++
	return !m.denied[token], nil
}

func (m *mockContract) PackExecuteFlashLoan(p contract.ExecuteParams) ([]byte, error) {
	return []byte{0xde, 0xad, 0xbe, 0xef}, nil
}

type mockLiquidity struct {
	mu      sync.Mutex
	amounts map[common.Address]*big.Int
	calls   int
}

func (m *mockLiquidity) AvailableLiquidity(ctx context.Context, asset common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if amt, ok := m.amounts[asset]; ok {
		return amt, nil
	}
	return big.NewInt(1_000_000), nil
}

// mockQuotes returns the input amount on the first leg and a per-router
// marked-up amount on the return leg.
type mockQuotes struct {
	mu      sync.Mutex
	markup  map[common.Address]int64 // return-leg profit per router
	calls   int
	returns map[common.Address]*dex.Quote
}

func (m *mockQuotes) Quote(ctx context.Context, router, tokenIn, tokenOut common.Address, amountIn *big.Int, kind dex.PoolKind) (*dex.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	profit := int64(1000)
	if p, ok := m.markup[router]; ok {
		profit = p
	}
	return &dex.Quote{
		AmountOut: new(big.Int).Add(amountIn, big.NewInt(profit)),
		Fee:       big.NewInt(0),
	}, nil
}

type mockEstimator struct {
	gasCost *big.Int
}

func (m *mockEstimator) Estimate(ctx context.Context, call ethereum.CallMsg, strategy gas.Strategy, opts gas.Options) (*gas.Plan, error) {
	cost := m.gasCost
	if cost == nil {
		cost = big.NewInt(100)
	}
	return &gas.Plan{
		GasLimit:             500_000,
		MaxFeePerGas:         big.NewInt(10_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		EstimatedGasCost:     cost,
		SimulationSuccess:    true,
	}, nil
}

func testTokens() []config.Token {
	return []config.Token{
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
	}
}

func testDexes() []config.DexRouter {
	return []config.DexRouter{
		{Name: "uniswap_v2", Router: "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D", Kind: "v2"},
		{Name: "sushiswap", Router: "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F", Kind: "v2"},
	}
}

func newTestScanner(t *testing.T, arb *mockContract, liq *mockLiquidity, quotes *mockQuotes, est *mockEstimator) *Scanner {
	t.Helper()
	if arb == nil {
		arb = &mockContract{}
	}
	if liq == nil {
		liq = &mockLiquidity{}
	}
	if quotes == nil {
		quotes = &mockQuotes{}
	}
	if est == nil {
		est = &mockEstimator{}
	}
	net := config.Mainnet()
	return New(arb, liq, quotes, est, config.NewVolatilityTable(net), notify.Nop{}, net, zaptest.NewLogger(t))
}

func TestScan(t *testing.T) {
	t.Run("RequiresTwoDexes", func(t *testing.T) {
		s := newTestScanner(t, nil, nil, nil, nil)
		_, err := s.Scan(context.Background(), testTokens(), testDexes()[:1], Options{})
		require.Error(t, err)
	})

	t.Run("WalksOrderedCombinations", func(t *testing.T) {
		quotes := &mockQuotes{}
		s := newTestScanner(t, nil, nil, quotes, nil)

		opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)

		// 2 ordered token pairs x 2 ordered router pairs, two quote legs each.
		assert.Len(t, opps, 4)
		assert.Equal(t, 8, quotes.calls)

		for _, o := range opps {
			assert.True(t, o.Validate())
			assert.Len(t, o.Path, 2)
			assert.Len(t, o.Dexes, 2)
			assert.NotEqual(t, o.Dexes[0], o.Dexes[1])
		}
	})

	t.Run("ProfitThresholdIsStrict", func(t *testing.T) {
		// gasCost 10_000 at the default 300 bps margin puts the threshold at
		// exactly 300; a profit of 300 must be rejected, 301 kept.
		est := &mockEstimator{gasCost: big.NewInt(10_000)}

		quotes := &mockQuotes{markup: map[common.Address]int64{
			testDexes()[0].Addr(): 300,
			testDexes()[1].Addr(): 300,
		}}
		s := newTestScanner(t, nil, nil, quotes, est)
		opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)
		assert.Empty(t, opps)

		quotes = &mockQuotes{markup: map[common.Address]int64{
			testDexes()[0].Addr(): 301,
			testDexes()[1].Addr(): 301,
		}}
		s = newTestScanner(t, nil, nil, quotes, est)
		opps, err = s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)
		assert.Len(t, opps, 4)
	})

	t.Run("OrdersByProfitDescending", func(t *testing.T) {
		quotes := &mockQuotes{markup: map[common.Address]int64{
			testDexes()[0].Addr(): 5_000,
			testDexes()[1].Addr(): 9_000,
		}}
		s := newTestScanner(t, nil, nil, quotes, nil)

		opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)
		require.NotEmpty(t, opps)

		for i := 1; i < len(opps); i++ {
			assert.True(t, opps[i-1].EstimatedProfit.Cmp(opps[i].EstimatedProfit) >= 0)
		}
		assert.Equal(t, int64(9_000), opps[0].EstimatedProfit.Int64())
	})

	t.Run("SkipsNonWhitelistedTokens", func(t *testing.T) {
		arb := &mockContract{denied: map[common.Address]bool{
			testTokens()[1].Addr(): true,
		}}
		s := newTestScanner(t, arb, nil, nil, nil)

		opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)
		assert.Empty(t, opps)
	})

	t.Run("CachesWhitelistPerScan", func(t *testing.T) {
		arb := &mockContract{}
		s := newTestScanner(t, arb, nil, nil, nil)

		_, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)

		// Two tokens appear in several ordered pairs but hit the contract once
		// each.
		assert.Equal(t, 2, arb.whitelistCalls)
	})

	t.Run("TracksNoLiquidityTokens", func(t *testing.T) {
		liq := &mockLiquidity{amounts: map[common.Address]*big.Int{
			testTokens()[0].Addr(): big.NewInt(0),
			testTokens()[1].Addr(): big.NewInt(0),
		}}
		s := newTestScanner(t, nil, liq, nil, nil)

		for i := 0; i < 3; i++ {
			opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
			require.NoError(t, err)
			assert.Empty(t, opps)
		}
		liq.mu.Lock()
		after3 := liq.calls
		liq.mu.Unlock()

		// Fourth scan skips both tokens without touching the pool.
		_, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)
		liq.mu.Lock()
		assert.Equal(t, after3, liq.calls)
		liq.mu.Unlock()
	})

	t.Run("DeadlineReturnsPartialResults", func(t *testing.T) {
		s := newTestScanner(t, nil, nil, nil, nil)
		base := time.Now()
		calls := 0
		s.now = func() time.Time {
			calls++
			if calls == 1 {
				return base
			}
			return base.Add(time.Hour)
		}

		opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{Timeout: time.Minute})
		require.NoError(t, err)
		assert.Empty(t, opps)
	})

	t.Run("CapsResultCount", func(t *testing.T) {
		// Six tokens and four dexes yield far more than MaxOpportunities
		// viable routes.
		net := config.Mainnet()
		quotes := &mockQuotes{}
		s := newTestScanner(t, nil, nil, quotes, nil)

		dexes := net.Dexes
		for i := range dexes {
			dexes[i].Kind = "v2" // keep the quote mock uniform
		}

		opps, err := s.Scan(context.Background(), net.Tokens, dexes, Options{})
		require.NoError(t, err)
		assert.Len(t, opps, MaxOpportunities)
	})

	t.Run("DynamicSlippageClamped", func(t *testing.T) {
		s := newTestScanner(t, nil, nil, nil, nil)

		opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{DynamicSlippage: true})
		require.NoError(t, err)
		require.NotEmpty(t, opps)
		for _, o := range opps {
			assert.GreaterOrEqual(t, o.SlippageBps, int64(minSlippageBps))
			assert.LessOrEqual(t, o.SlippageBps, int64(maxSlippageBps))
		}
	})

	t.Run("FixedSlippageByDefault", func(t *testing.T) {
		s := newTestScanner(t, nil, nil, nil, nil)

		opps, err := s.Scan(context.Background(), testTokens(), testDexes(), Options{})
		require.NoError(t, err)
		require.NotEmpty(t, opps)
		assert.Equal(t, int64(fixedSlippageBps), opps[0].SlippageBps)
	})
}

func TestSlippage(t *testing.T) {
	s := newTestScanner(t, nil, nil, nil, nil)
	weth := testTokens()[0].Addr()

	assert.Equal(t, int64(fixedSlippageBps), s.slippage(weth, false))

	// Dynamic: 100 + volatility*1000, clamped to [50, 1000].
	dynamic := s.slippage(weth, true)
	assert.GreaterOrEqual(t, dynamic, int64(minSlippageBps))
	assert.LessOrEqual(t, dynamic, int64(maxSlippageBps))

	unknown := common.HexToAddress("0x0000000000000000000000000000000000000042")
	assert.Equal(t, int64(140), s.slippage(unknown, true)) // default volatility 0.04
}
