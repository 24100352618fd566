// Package scanner enumerates token pairs and router combinations looking for
// profitable flash-loan round trips.
package scanner

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jvaldesl/flasharb/config"
	"github.com/jvaldesl/flasharb/contract"
	"github.com/jvaldesl/flasharb/dex"
	"github.com/jvaldesl/flasharb/flashloan"
	"github.com/jvaldesl/flasharb/gas"
	"github.com/jvaldesl/flasharb/notify"
	"github.com/jvaldesl/flasharb/types"
)

// MaxOpportunities caps how many candidates one scan returns.
const MaxOpportunities = 20

// DefaultScanTimeout bounds one scan's wall clock.
const DefaultScanTimeout = 30 * time.Second

// Slippage bounds in basis points for the dynamic mode; fixed mode always
// uses 100 bps.
const (
	fixedSlippageBps = 100
	minSlippageBps   = 50
	maxSlippageBps   = 1000
)

const whitelistCacheSize = 128

// Contract is the arbitrage contract surface the scanner needs.
type Contract interface {
	Address() common.Address
	TokenWhitelist(ctx context.Context, token common.Address) (bool, error)
	PackExecuteFlashLoan(p contract.ExecuteParams) ([]byte, error)
}

// QuoteSource prices one directed swap leg.
type QuoteSource interface {
	Quote(ctx context.Context, router, tokenIn, tokenOut common.Address, amountIn *big.Int, kind dex.PoolKind) (*dex.Quote, error)
}

// GasEstimator prices a candidate trade's gas.
type GasEstimator interface {
	Estimate(ctx context.Context, call ethereum.CallMsg, strategy gas.Strategy, opts gas.Options) (*gas.Plan, error)
}

// Options tune one scan.
type Options struct {
	DynamicSlippage bool
	ProfitMarginBps int64
	Timeout         time.Duration
}

// Scanner finds arbitrage opportunities across the configured venues.
type Scanner struct {
	contract   Contract
	liquidity  flashloan.Source
	quotes     QuoteSource
	gas        GasEstimator
	volatility *config.VolatilityTable
	tracker    *liquidityTracker
	net        *config.Network
	logger     *zap.Logger
	now        func() time.Time

	metrics struct {
		pairsScanned       prometheus.Counter
		opportunitiesFound prometheus.Counter
	}
}

// New creates a scanner for one network.
func New(
	arb Contract,
	liquidity flashloan.Source,
	quotes QuoteSource,
	estimator GasEstimator,
	volatility *config.VolatilityTable,
	notifier notify.Notifier,
	net *config.Network,
	logger *zap.Logger,
) *Scanner {
	s := &Scanner{
		contract:   arb,
		liquidity:  liquidity,
		quotes:     quotes,
		gas:        estimator,
		volatility: volatility,
		tracker:    newLiquidityTracker(notifier),
		net:        net,
		logger:     logger,
		now:        time.Now,
	}

	s.metrics.pairsScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_pairs_scanned_total",
		Help: "Number of token pairs examined",
	})
	s.metrics.opportunitiesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scanner_opportunities_found_total",
		Help: "Number of opportunities clearing the profit threshold",
	})

	return s
}

// Scan walks every ordered pair of distinct tokens and every ordered pair of
// distinct routers, keeping round trips whose gross profit clears the
// gas-derived threshold. It returns the best candidates first, at most
// MaxOpportunities of them. Hitting the wall-clock budget ends the scan early
// with whatever was found; partial results are valid.
func (s *Scanner) Scan(ctx context.Context, tokens []config.Token, dexes []config.DexRouter, opts Options) ([]*types.Opportunity, error) {
	if len(dexes) < 2 {
		return nil, fmt.Errorf("scanner: need at least two dexes, got %d", len(dexes))
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultScanTimeout
	}
	if opts.ProfitMarginBps <= 0 {
		opts.ProfitMarginBps = 300
	}
	deadline := s.now().Add(opts.Timeout)

	// Whitelist lookups repeat across pairs within one scan; cache them for
	// the session.
	whitelist, err := lru.New(whitelistCacheSize)
	if err != nil {
		return nil, fmt.Errorf("scanner: create whitelist cache: %w", err)
	}

	strategy := gas.StrategyBalanced
	if opts.DynamicSlippage {
		strategy = gas.StrategyAggressive
	}

	var found []*types.Opportunity
	seen := make(map[uint64]struct{})

	for _, tokenIn := range tokens {
		if s.now().After(deadline) {
			s.logger.Warn("Scan budget exhausted, returning partial results",
				zap.Int("found", len(found)))
			break
		}

		trackKey := fmt.Sprintf("%s:%s", s.net.Name, tokenIn.Symbol)
		if s.tracker.ShouldSkip(trackKey) {
			continue
		}

		for _, tokenOut := range tokens {
			if tokenIn.Addr() == tokenOut.Addr() {
				continue
			}
			s.metrics.pairsScanned.Inc()

			if !s.whitelisted(ctx, whitelist, tokenIn.Addr()) || !s.whitelisted(ctx, whitelist, tokenOut.Addr()) {
				continue
			}

			amount, err := s.liquidity.AvailableLiquidity(ctx, tokenIn.Addr())
			if err != nil {
				s.logger.Warn("Liquidity lookup failed",
					zap.String("token", tokenIn.Symbol), zap.Error(err))
				continue
			}
			if amount.Sign() <= 0 {
				s.tracker.Mark(trackKey)
				continue
			}
			s.tracker.Reset(trackKey)

			slippageBps := s.slippage(tokenIn.Addr(), opts.DynamicSlippage)

			for _, dex1 := range dexes {
				for _, dex2 := range dexes {
					if dex1.Addr() == dex2.Addr() {
						continue
					}

					routeKey := xxhash.Sum64String(
						tokenIn.Address + tokenOut.Address + dex1.Router + dex2.Router)
					if _, dup := seen[routeKey]; dup {
						continue
					}
					seen[routeKey] = struct{}{}

					opp := s.evaluate(ctx, tokenIn, tokenOut, dex1, dex2, amount, slippageBps, strategy, opts.ProfitMarginBps)
					if opp != nil {
						s.metrics.opportunitiesFound.Inc()
						found = append(found, opp)
					}
				}
			}
		}
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].EstimatedProfit.Cmp(found[j].EstimatedProfit) > 0
	})
	if len(found) > MaxOpportunities {
		found = found[:MaxOpportunities]
	}
	return found, nil
}

// evaluate prices one round trip through (dex1, dex2) and returns an
// opportunity when it clears the profit threshold, nil otherwise.
func (s *Scanner) evaluate(
	ctx context.Context,
	tokenIn, tokenOut config.Token,
	dex1, dex2 config.DexRouter,
	amount *big.Int,
	slippageBps int64,
	strategy gas.Strategy,
	marginBps int64,
) *types.Opportunity {
	kind1, err := dex.ParseKind(dex1.Kind)
	if err != nil {
		s.logger.Warn("Skipping misconfigured dex", zap.String("dex", dex1.Name), zap.Error(err))
		return nil
	}
	kind2, err := dex.ParseKind(dex2.Kind)
	if err != nil {
		s.logger.Warn("Skipping misconfigured dex", zap.String("dex", dex2.Name), zap.Error(err))
		return nil
	}

	// Both legs are priced in parallel.
	var leg1, leg2 *dex.Quote
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		leg1, err = s.quotes.Quote(gctx, dex1.Addr(), tokenIn.Addr(), tokenOut.Addr(), amount, kind1)
		return err
	})
	g.Go(func() error {
		var err error
		leg2, err = s.quotes.Quote(gctx, dex2.Addr(), tokenOut.Addr(), tokenIn.Addr(), amount, kind2)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Warn("Quote fan-out failed", zap.Error(err))
		return nil
	}
	if leg1 == nil || leg2 == nil {
		return nil
	}

	profit := new(big.Int).Sub(leg2.AmountOut, amount)
	if profit.Sign() <= 0 {
		return nil
	}

	fees := []*big.Int{feeFor(kind1, leg1), feeFor(kind2, leg2)}
	gasCost := s.priceGas(ctx, tokenIn.Addr(), amount, dex1.Addr(), dex2.Addr(), tokenOut.Addr(), fees, slippageBps, strategy)

	threshold := new(big.Int).Mul(gasCost, big.NewInt(marginBps))
	threshold.Div(threshold, big.NewInt(10_000))
	if profit.Cmp(threshold) <= 0 {
		return nil
	}

	s.logger.Info("Opportunity found",
		zap.String("pair", tokenIn.Symbol+"/"+tokenOut.Symbol),
		zap.String("route", dex1.Name+"->"+dex2.Name),
		zap.String("profit", profit.String()),
		zap.String("gas_cost", gasCost.String()))

	return &types.Opportunity{
		Path:             []common.Address{tokenIn.Addr(), tokenOut.Addr()},
		AmountIn:         new(big.Int).Set(amount),
		MinAmountOut:     big.NewInt(0),
		Dexes:            []common.Address{dex1.Addr(), dex2.Addr()},
		EstimatedProfit:  profit,
		EstimatedGasCost: gasCost,
		Fees:             fees,
		SlippageBps:      slippageBps,
	}
}

// priceGas builds the draft execution call and asks the estimator. A failed
// estimate falls back to the network's flat gas cost; the candidate is kept.
func (s *Scanner) priceGas(
	ctx context.Context,
	asset common.Address,
	amount *big.Int,
	router1, router2, tokenOut common.Address,
	fees []*big.Int,
	slippageBps int64,
	strategy gas.Strategy,
) *big.Int {
	data, err := s.contract.PackExecuteFlashLoan(contract.ExecuteParams{
		Asset:       asset,
		Amount:      amount,
		Routers:     []common.Address{router1, router2},
		PathIn:      []common.Address{asset},
		PathOut:     []common.Address{tokenOut},
		Fees:        fees,
		SlippageBps: big.NewInt(slippageBps),
		MinProfit:   big.NewInt(0),
		Tip:         s.net.Tip(),
	})
	if err != nil {
		s.logger.Warn("Calldata packing failed, using fallback gas cost", zap.Error(err))
		return s.net.FallbackGasCost()
	}

	to := s.contract.Address()
	plan, err := s.gas.Estimate(ctx, ethereum.CallMsg{To: &to, Data: data}, strategy, gas.Options{})
	if err != nil {
		s.logger.Warn("Gas pricing failed, using fallback gas cost", zap.Error(err))
		return s.net.FallbackGasCost()
	}
	return plan.EstimatedGasCost
}

func (s *Scanner) whitelisted(ctx context.Context, cache *lru.Cache, token common.Address) bool {
	if v, ok := cache.Get(token); ok {
		return v.(bool)
	}
	allowed, err := s.contract.TokenWhitelist(ctx, token)
	if err != nil {
		s.logger.Warn("Whitelist lookup failed", zap.String("token", token.Hex()), zap.Error(err))
		return false
	}
	cache.Add(token, allowed)
	return allowed
}

// slippage derives the tolerance in basis points: fixed 1%, or volatility
// scaled and clamped when dynamic slippage is on.
func (s *Scanner) slippage(token common.Address, dynamic bool) int64 {
	if !dynamic {
		return fixedSlippageBps
	}
	bps := int64(100 + s.volatility.Lookup(token)*1000)
	if bps < minSlippageBps {
		bps = minSlippageBps
	}
	if bps > maxSlippageBps {
		bps = maxSlippageBps
	}
	return bps
}

func feeFor(kind dex.PoolKind, q *dex.Quote) *big.Int {
	if kind == dex.PoolV3 && q.Fee != nil {
		return q.Fee
	}
	return big.NewInt(0)
}
