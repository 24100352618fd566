// Package dex prices directed swaps across the configured liquidity venues.
package dex

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jvaldesl/flasharb/utils"
)

// PoolKind is the pricing model behind a router.
type PoolKind string

const (
	PoolV2    PoolKind = "v2"    // constant product
	PoolV3    PoolKind = "v3"    // concentrated liquidity, tiered fees
	PoolCurve PoolKind = "curve" // specialized exchange-rate curve
)

// ParseKind maps a registry kind string to a PoolKind.
func ParseKind(s string) (PoolKind, error) {
	switch PoolKind(strings.ToLower(s)) {
	case PoolV2, PoolV3, PoolCurve:
		return PoolKind(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("dex: unknown pool kind %q", s)
}

// V3 fee tiers probed for the best output: 0.01%, 0.05%, 0.3%, 1%.
var v3FeeTiers = []int64{100, 500, 3000, 10000}

// Curve pools index their coins; probe at most this many slots.
const curveMaxCoins = 8

const (
	quoteRetries   = 3
	quoteRetryStep = 500 * time.Millisecond
)

// Quote is a priced swap leg. Fee is the winning V3 tier, zero otherwise.
type Quote struct {
	AmountOut *big.Int
	Fee       *big.Int
}

// ContractCaller is the read-only call surface the quoter needs. Satisfied by
// *ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Source fetches quotes from routers. A nil Quote with nil error means the
// route has no liquidity; callers continue scanning other combinations.
type Source struct {
	caller   ContractCaller
	limiter  *rate.Limiter
	logger   *zap.Logger
	v2ABI    abi.ABI
	v3ABI    abi.ABI
	curveABI abi.ABI
}

// NewSource creates a quote source. rps bounds the RPC call rate; zero
// disables the limit.
func NewSource(caller ContractCaller, rps float64, logger *zap.Logger) (*Source, error) {
	v2, err := abi.JSON(strings.NewReader(v2RouterABI))
	if err != nil {
		return nil, fmt.Errorf("dex: parse v2 ABI: %w", err)
	}
	v3, err := abi.JSON(strings.NewReader(v3QuoterABI))
	if err != nil {
		return nil, fmt.Errorf("dex: parse v3 ABI: %w", err)
	}
	curve, err := abi.JSON(strings.NewReader(curvePoolABI))
	if err != nil {
		return nil, fmt.Errorf("dex: parse curve ABI: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}

	return &Source{
		caller:   caller,
		limiter:  limiter,
		logger:   logger,
		v2ABI:    v2,
		v3ABI:    v3,
		curveABI: curve,
	}, nil
}

// Quote prices a single directed swap on router. It retries transient
// failures three times with linear backoff before giving up; exhaustion is
// reported as no quote, not as an error.
func (s *Source) Quote(ctx context.Context, router, tokenIn, tokenOut common.Address, amountIn *big.Int, kind PoolKind) (*Quote, error) {
	var out *Quote

	attempt := func() error {
		var err error
		switch kind {
		case PoolV2:
			out, err = s.quoteV2(ctx, router, tokenIn, tokenOut, amountIn)
		case PoolV3:
			out, err = s.quoteV3(ctx, router, tokenIn, tokenOut, amountIn)
		case PoolCurve:
			out, err = s.quoteCurve(ctx, router, tokenIn, tokenOut, amountIn)
		default:
			return backoff.Permanent(fmt.Errorf("dex: unknown pool kind %q", kind))
		}
		return err
	}

	policy := backoff.WithContext(utils.NewLinearBackOff(quoteRetryStep, quoteRetries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		s.logger.Debug("Quote exhausted retries",
			zap.String("router", router.Hex()),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, nil
	}
	return out, nil
}

func (s *Source) quoteV2(ctx context.Context, router, tokenIn, tokenOut common.Address, amountIn *big.Int) (*Quote, error) {
	res, err := s.call(ctx, router, s.v2ABI, "getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, err
	}
	amounts, ok := res[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, fmt.Errorf("dex: malformed getAmountsOut response")
	}
	return &Quote{AmountOut: amounts[1], Fee: big.NewInt(0)}, nil
}

// quoteV3 probes every fee tier and keeps the one with the largest output.
// Individual tier failures are expected (most pairs only have one or two
// pools); only all tiers failing means no liquidity.
func (s *Source) quoteV3(ctx context.Context, quoter, tokenIn, tokenOut common.Address, amountIn *big.Int) (*Quote, error) {
	best := big.NewInt(0)
	bestFee := int64(3000)

	for _, tier := range v3FeeTiers {
		res, err := s.call(ctx, quoter, s.v3ABI, "quoteExactInputSingle",
			tokenIn, tokenOut, big.NewInt(tier), amountIn, big.NewInt(0))
		if err != nil {
			continue
		}
		out, ok := res[0].(*big.Int)
		if !ok {
			continue
		}
		if out.Cmp(best) > 0 {
			best = out
			bestFee = tier
		}
	}

	if best.Sign() == 0 {
		return nil, fmt.Errorf("dex: no v3 tier returned output")
	}
	return &Quote{AmountOut: best, Fee: big.NewInt(bestFee)}, nil
}

func (s *Source) quoteCurve(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn *big.Int) (*Quote, error) {
	i, err := s.curveCoinIndex(ctx, pool, tokenIn)
	if err != nil {
		return nil, err
	}
	j, err := s.curveCoinIndex(ctx, pool, tokenOut)
	if err != nil {
		return nil, err
	}

	res, err := s.call(ctx, pool, s.curveABI, "get_dy", big.NewInt(i), big.NewInt(j), amountIn)
	if err != nil {
		return nil, err
	}
	out, ok := res[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("dex: malformed get_dy response")
	}
	return &Quote{AmountOut: out, Fee: big.NewInt(0)}, nil
}

// curveCoinIndex resolves a token to its slot in the pool's coin array by
// linear probe. A failing coins(i) call marks the end of the array.
func (s *Source) curveCoinIndex(ctx context.Context, pool, token common.Address) (int64, error) {
	for i := int64(0); i < curveMaxCoins; i++ {
		res, err := s.call(ctx, pool, s.curveABI, "coins", big.NewInt(i))
		if err != nil {
			break
		}
		coin, ok := res[0].(common.Address)
		if !ok {
			break
		}
		if coin == token {
			return i, nil
		}
	}
	return 0, fmt.Errorf("dex: token %s not found in curve pool %s", token.Hex(), pool.Hex())
}

func (s *Source) call(ctx context.Context, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	input, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("dex: pack %s: %w", method, err)
	}
	raw, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, err
	}
	res, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("dex: unpack %s: %w", method, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("dex: empty %s response", method)
	}
	return res, nil
}
