package gas

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/jvaldesl/flasharb/config"
	"github.com/jvaldesl/flasharb/wallet"
)

// Gas limit bounds applied to every estimate, however pathological the raw
// network answer is.
const (
	MinGasLimit = 100_000
	MaxGasLimit = 10_000_000

	// Headroom kept below the block gas limit.
	blockLimitMargin = 100_000

	estimateTimeout = 5 * time.Second
	simulateTimeout = 10 * time.Second
)

// Strategy selects the multiplier set applied to raw estimates.
type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyBalanced     Strategy = "balanced"
	StrategyConservative Strategy = "conservative"
)

// multipliers are percentages: buffer scales the raw gas estimate, fee and
// priority scale the fee snapshot.
type multipliers struct {
	gasBuffer int64
	fee       int64
	priority  int64
}

var strategyMultipliers = map[Strategy]multipliers{
	StrategyAggressive:   {gasBuffer: 100, fee: 200, priority: 200},
	StrategyBalanced:     {gasBuffer: 125, fee: 100, priority: 100},
	StrategyConservative: {gasBuffer: 150, fee: 80, priority: 70},
}

// Backend is the subset of the RPC client the gas engine needs. Satisfied by
// *ethclient.Client.
type Backend interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Relay is the private-relay simulation endpoint.
type Relay interface {
	Simulate(ctx context.Context, signedTx []byte, targetBlock uint64) error
}

// Options refine one estimate call.
type Options struct {
	// Simulate runs a relay dry run with the computed fee fields. Requires a
	// relay and wallet on the estimator and the live network.
	Simulate bool
	// Strict turns a critical simulation failure into a returned error
	// instead of a flag on the plan.
	Strict bool
	// ForceRefresh bypasses the fee cache TTL.
	ForceRefresh bool
}

// Plan is a bounded, validated gas plan for one transaction.
type Plan struct {
	GasLimit             uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	EstimatedGasCost     *big.Int
	SimulationSuccess    bool
	CriticalFailure      bool
}

// Estimator turns a draft call into a gas plan. It degrades gracefully: a
// failed node estimate, fee fetch or header fetch falls back to hardcoded
// values, and only malformed input or a strict critical simulation failure
// surface as errors.
type Estimator struct {
	client Backend
	fees   *FeeCache
	relay  Relay          // optional
	signer *wallet.Wallet // optional, required for simulation
	net    *config.Network
	logger *zap.Logger
}

// NewEstimator creates a gas estimator. relay and signer may be nil when
// simulation is never requested.
func NewEstimator(client Backend, fees *FeeCache, relay Relay, signer *wallet.Wallet, net *config.Network, logger *zap.Logger) *Estimator {
	return &Estimator{
		client: client,
		fees:   fees,
		relay:  relay,
		signer: signer,
		net:    net,
		logger: logger,
	}
}

// Estimate computes a gas plan for call under the given strategy.
func (e *Estimator) Estimate(ctx context.Context, call ethereum.CallMsg, strategy Strategy, opts Options) (*Plan, error) {
	if call.To == nil || len(call.Data) == 0 {
		return nil, fmt.Errorf("gas: invalid transaction: missing to or data")
	}

	mult, ok := strategyMultipliers[strategy]
	if !ok {
		mult = strategyMultipliers[StrategyBalanced]
	}

	plan := &Plan{SimulationSuccess: true}

	// 1. Raw node estimate, buffered and clamped.
	estCtx, cancel := context.WithTimeout(ctx, estimateTimeout)
	raw, err := e.client.EstimateGas(estCtx, call)
	cancel()
	if err != nil {
		plan.GasLimit = e.net.Fallback.GasLimit
		plan.SimulationSuccess = false
		plan.CriticalFailure = isCriticalError(err.Error())
		e.logger.Warn("Gas estimation failed, using fallback",
			zap.Error(err),
			zap.Uint64("fallback_gas_limit", plan.GasLimit),
			zap.Bool("critical", plan.CriticalFailure))
	} else {
		plan.GasLimit = bufferAndClamp(raw, mult.gasBuffer)
		e.logger.Debug("Gas estimated",
			zap.Uint64("raw", raw),
			zap.Uint64("buffered", plan.GasLimit))
	}

	// 2. Fee snapshot, strategy-scaled.
	snap := e.fees.Get(ctx, e.net.ChainID, opts.ForceRefresh)
	plan.MaxFeePerGas = scale(snap.MaxFeePerGas, mult.fee)
	plan.MaxPriorityFeePerGas = scale(snap.MaxPriorityFeePerGas, mult.priority)

	// 3. Clamp to the latest block gas limit. A failed header fetch just
	// skips the clamp.
	if header, err := e.client.HeaderByNumber(ctx, nil); err != nil {
		e.logger.Warn("Failed fetching block gas limit", zap.Error(err))
	} else if header.GasLimit > blockLimitMargin && plan.GasLimit > header.GasLimit {
		e.logger.Warn("Gas limit exceeds block limit, clamping",
			zap.Uint64("gas_limit", plan.GasLimit),
			zap.Uint64("block_limit", header.GasLimit))
		plan.GasLimit = header.GasLimit - blockLimitMargin
	}

	// 4. Optional relay dry run.
	if opts.Simulate && e.relay != nil && e.signer != nil {
		if err := e.simulate(ctx, call, plan, opts.Strict); err != nil {
			return nil, err
		}
	}

	plan.EstimatedGasCost = new(big.Int).Mul(
		new(big.Int).SetUint64(plan.GasLimit),
		plan.MaxFeePerGas,
	)
	return plan, nil
}

// simulate signs the draft with the computed fee fields and submits it to the
// relay's simulation endpoint for the next block. Only the strict-critical
// path returns an error; everything else is recorded on the plan.
func (e *Estimator) simulate(ctx context.Context, call ethereum.CallMsg, plan *Plan, strict bool) error {
	if !e.net.IsMainnet() {
		return fmt.Errorf("gas: relay simulation only supported on mainnet")
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.signer.Address())
	if err != nil {
		e.logger.Warn("Simulation setup failed", zap.Error(err))
		plan.SimulationSuccess = false
		return nil
	}
	header, err := e.client.HeaderByNumber(ctx, nil)
	if err != nil {
		e.logger.Warn("Simulation setup failed", zap.Error(err))
		plan.SimulationSuccess = false
		return nil
	}

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   e.signer.ChainID(),
		Nonce:     nonce,
		To:        call.To,
		Value:     call.Value,
		Data:      call.Data,
		Gas:       plan.GasLimit,
		GasFeeCap: plan.MaxFeePerGas,
		GasTipCap: plan.MaxPriorityFeePerGas,
	})
	signed, err := e.signer.SignTx(tx)
	if err != nil {
		e.logger.Warn("Simulation setup failed", zap.Error(err))
		plan.SimulationSuccess = false
		return nil
	}
	rawTx, err := signed.MarshalBinary()
	if err != nil {
		e.logger.Warn("Simulation setup failed", zap.Error(err))
		plan.SimulationSuccess = false
		return nil
	}

	simCtx, cancel := context.WithTimeout(ctx, simulateTimeout)
	defer cancel()

	if err := e.relay.Simulate(simCtx, rawTx, header.Number.Uint64()+1); err != nil {
		plan.SimulationSuccess = false
		if isCriticalError(err.Error()) {
			plan.CriticalFailure = true
			e.logger.Error("Critical simulation failure", zap.Error(err))
			if strict {
				return fmt.Errorf("gas: critical simulation failure: %w", err)
			}
		} else {
			e.logger.Warn("Simulation failed", zap.Error(err))
		}
		return nil
	}

	e.logger.Debug("Simulation succeeded")
	return nil
}

// bufferAndClamp applies the strategy buffer percentage in arbitrary
// precision, then bounds the result to [MinGasLimit, MaxGasLimit].
func bufferAndClamp(raw uint64, bufferPct int64) uint64 {
	buffered := new(big.Int).SetUint64(raw)
	buffered.Mul(buffered, big.NewInt(bufferPct))
	buffered.Div(buffered, big.NewInt(100))

	if buffered.Cmp(big.NewInt(MaxGasLimit)) > 0 {
		return MaxGasLimit
	}
	if buffered.Cmp(big.NewInt(MinGasLimit)) < 0 {
		return MinGasLimit
	}
	return buffered.Uint64()
}

func scale(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

// Revert-class vocabulary. Errors matching it indicate the transaction would
// fail on chain, as opposed to a transient RPC problem.
var revertVocabulary = []string{
	"revert",
	"execution reverted",
	"invalid opcode",
	"invalid jump",
	"insufficient",
	"gas required exceeds allowance",
}

func isCriticalError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, frag := range revertVocabulary {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
