// Package executor drives one selected opportunity through the execution
// pipeline: validation, gas planning, profit and balance checks, transaction
// construction and submission, and profit settlement.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/jvaldesl/flasharb/config"
	"github.com/jvaldesl/flasharb/contract"
	"github.com/jvaldesl/flasharb/gas"
	"github.com/jvaldesl/flasharb/notify"
	"github.com/jvaldesl/flasharb/types"
	"github.com/jvaldesl/flasharb/wallet"
)

const (
	// MaxConsecutiveFailures trips the circuit breaker.
	MaxConsecutiveFailures = 5

	// A plan above this limit is implausible for a two-hop arbitrage and
	// fails the attempt.
	maxPlausibleGasLimit = 5_000_000

	balanceTimeout = 30 * time.Second

	// Deviation between estimated and realized profit that triggers an
	// operator warning, in percent.
	deviationWarnPct = 20
)

// ErrCircuitBreaker is returned when consecutive failures reach the maximum.
// The engine must not be used again until externally reset.
var ErrCircuitBreaker = errors.New("executor: circuit breaker tripped")

// Backend is the subset of the RPC client the executor needs. Satisfied by
// *ethclient.Client.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Relay is the private bundle submission channel.
type Relay interface {
	SendBundle(ctx context.Context, signedTxs [][]byte, targetBlock uint64) error
}

// GasEstimator produces the final gas plan for the execution transaction.
type GasEstimator interface {
	Estimate(ctx context.Context, call ethereum.CallMsg, strategy gas.Strategy, opts gas.Options) (*gas.Plan, error)
}

// Contract packs the arbitrage calldata.
type Contract interface {
	Address() common.Address
	PackExecuteFlashLoan(p contract.ExecuteParams) ([]byte, error)
}

// Ledger accumulates realized profit.
type Ledger interface {
	Record(amount *big.Int) error
}

// Executor owns the execution state machine for one network. The
// consecutive-failure counter belongs to this instance alone; running several
// engines means one counter each.
type Executor struct {
	client   Backend
	signer   *wallet.Wallet
	contract Contract
	gas      GasEstimator
	relay    Relay // nil selects the standard broadcast path
	notifier notify.Notifier
	ledger   Ledger
	net      *config.Network
	logger   *zap.Logger

	dynamicSlippage     bool
	consecutiveFailures int

	// Overridable in tests.
	retryStep time.Duration
	now       func() time.Time

	metrics struct {
		executions  prometheus.Counter
		successes   prometheus.Counter
		failures    prometheus.Counter
		successRate prometheus.Gauge
		latency     prometheus.Histogram
	}
}

// New creates an executor. relay may be nil, which selects the standard
// broadcast path for every execution.
func New(
	client Backend,
	signer *wallet.Wallet,
	arb Contract,
	estimator GasEstimator,
	relay Relay,
	notifier notify.Notifier,
	ledger Ledger,
	net *config.Network,
	dynamicSlippage bool,
	logger *zap.Logger,
) *Executor {
	e := &Executor{
		client:          client,
		signer:          signer,
		contract:        arb,
		gas:             estimator,
		relay:           relay,
		notifier:        notifier,
		ledger:          ledger,
		net:             net,
		logger:          logger,
		dynamicSlippage: dynamicSlippage,
		retryStep:       standardRetryStep,
		now:             time.Now,
	}

	e.metrics.executions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_executions_total",
		Help: "Number of execution attempts",
	})
	e.metrics.successes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_successes_total",
		Help: "Number of successful executions",
	})
	e.metrics.failures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "executor_failures_total",
		Help: "Number of failed executions",
	})
	e.metrics.successRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "executor_success_rate",
		Help: "Fraction of executions that succeeded",
	})
	e.metrics.latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "executor_latency_seconds",
		Help:    "End-to-end execution latency",
		Buckets: prometheus.DefBuckets,
	})

	return e
}

// Execute runs one opportunity through the pipeline. Structural rejection and
// recoverable failures come back as an unsuccessful result with a nil error;
// the only non-nil error is ErrCircuitBreaker.
func (e *Executor) Execute(ctx context.Context, opp *types.Opportunity) (*types.ExecutionResult, error) {
	start := e.now()
	metrics := types.ExecutionMetrics{}

	estimated := big.NewInt(0)
	if opp != nil && opp.EstimatedProfit != nil {
		estimated = opp.EstimatedProfit
	}

	e.metrics.executions.Inc()

	// Stage 1: structural validation. Failing here is an expected skip, not
	// an execution failure; the counter is untouched.
	if !opp.Validate() {
		e.logger.Warn("Invalid opportunity structure, skipping execution")
		metrics.Total = e.now().Sub(start)
		e.updateSuccessRate()
		return e.newResult(false, nil, estimated, nil, metrics), nil
	}

	e.logger.Info("Attempting arbitrage",
		zap.String("estimated_profit", estimated.String()),
		zap.Int("hops", len(opp.Dexes)))

	// Stage 2: calldata. A packing failure means the opportunity itself is
	// malformed, treated as a skip like stage 1.
	prepStart := e.now()
	data, err := e.prepare(opp)
	if err != nil {
		e.logger.Warn("Failed preparing calldata, skipping execution", zap.Error(err))
		metrics.Total = e.now().Sub(start)
		e.updateSuccessRate()
		return e.newResult(false, nil, estimated, nil, metrics), nil
	}
	metrics.Preparation = e.now().Sub(prepStart)

	result, err := e.attempt(ctx, opp, data, &metrics, start)
	if err != nil {
		return e.handleFailure(err, estimated, metrics, start)
	}

	e.consecutiveFailures = 0
	e.metrics.successes.Inc()
	e.metrics.latency.Observe(result.Metrics.Total.Seconds())
	e.updateSuccessRate()
	return result, nil
}

// Health derives the engine's health from the consecutive-failure count.
func (e *Executor) Health() types.HealthStatus {
	switch {
	case e.consecutiveFailures >= MaxConsecutiveFailures:
		return types.HealthCritical
	case e.consecutiveFailures >= 2:
		return types.HealthDegraded
	default:
		return types.HealthOK
	}
}

// attempt runs stages 3 through 8. Any returned error is a hard failure of
// this execution.
func (e *Executor) attempt(ctx context.Context, opp *types.Opportunity, data []byte, metrics *types.ExecutionMetrics, start time.Time) (*types.ExecutionResult, error) {
	// Stage 3: gas plan, with relay simulation when available.
	gasStart := e.now()
	plan, err := e.estimateGas(ctx, data)
	if err != nil {
		return nil, err
	}
	metrics.GasEstimation = e.now().Sub(gasStart)

	// Stage 4: profit must clear gas cost with margin.
	if err := e.validateProfit(opp, plan); err != nil {
		return nil, err
	}

	// Stage 5: wallet must cover gas plus the loan principal. The balance
	// doubles as the pre-execution snapshot for settlement.
	preBalance, err := e.checkBalance(ctx, opp, plan)
	if err != nil {
		return nil, err
	}

	// Stage 6: build the type-2 transaction.
	tx, err := e.buildTx(ctx, data, plan)
	if err != nil {
		return nil, err
	}

	// Stage 7: submit.
	execStart := e.now()
	sub, err := e.submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	metrics.Execution = e.now().Sub(execStart)

	// Stage 8: settle.
	return e.settle(ctx, opp, sub, preBalance, metrics, start)
}

func (e *Executor) prepare(opp *types.Opportunity) ([]byte, error) {
	fees := opp.Fees
	if len(fees) == 0 {
		fees = []*big.Int{big.NewInt(0), big.NewInt(0)}
	}
	slippage := opp.SlippageBps
	if slippage <= 0 {
		slippage = 100
	}

	data, err := e.contract.PackExecuteFlashLoan(contract.ExecuteParams{
		Asset:       opp.Path[0],
		Amount:      opp.AmountIn,
		Routers:     opp.Dexes,
		PathIn:      []common.Address{opp.Path[0]},
		PathOut:     opp.Path[1:],
		Fees:        fees,
		SlippageBps: big.NewInt(slippage),
		MinProfit:   opp.MinAmountOut,
		Tip:         e.net.Tip(),
	})
	if err != nil {
		return nil, fmt.Errorf("prepare transaction: %w", err)
	}
	return data, nil
}

func (e *Executor) estimateGas(ctx context.Context, data []byte) (*gas.Plan, error) {
	strategy := gas.StrategyBalanced
	if e.dynamicSlippage {
		strategy = gas.StrategyAggressive
	}

	to := e.contract.Address()
	plan, err := e.gas.Estimate(ctx, ethereum.CallMsg{To: &to, Data: data}, strategy, gas.Options{
		Simulate: e.relay != nil,
		Strict:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("gas estimation: %w", err)
	}

	if plan.GasLimit == 0 || plan.GasLimit > maxPlausibleGasLimit {
		return nil, fmt.Errorf("invalid gas limit estimated: %d", plan.GasLimit)
	}
	if plan.CriticalFailure {
		return nil, fmt.Errorf("critical relay simulation failure")
	}
	return plan, nil
}

// validateProfit rejects the trade when the estimate does not beat the gas
// cost by at least 10%. The boundary itself rejects.
func (e *Executor) validateProfit(opp *types.Opportunity, plan *gas.Plan) error {
	minProfit := new(big.Int).Add(plan.EstimatedGasCost, new(big.Int).Div(plan.EstimatedGasCost, big.NewInt(10)))
	if opp.EstimatedProfit.Cmp(minProfit) <= 0 {
		return fmt.Errorf("profit too low: %s <= %s", opp.EstimatedProfit, minProfit)
	}
	return nil
}

func (e *Executor) checkBalance(ctx context.Context, opp *types.Opportunity, plan *gas.Plan) (*big.Int, error) {
	balance, err := e.balance(ctx)
	if err != nil {
		return nil, err
	}

	required := new(big.Int).Add(plan.EstimatedGasCost, opp.AmountIn)
	if balance.Cmp(required) < 0 {
		return nil, fmt.Errorf("insufficient wallet balance: have %s, need %s", balance, required)
	}
	return balance, nil
}

func (e *Executor) buildTx(ctx context.Context, data []byte, plan *gas.Plan) (*ethtypes.Transaction, error) {
	nonce, err := e.client.PendingNonceAt(ctx, e.signer.Address())
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}

	to := e.contract.Address()
	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   e.signer.ChainID(),
		Nonce:     nonce,
		To:        &to,
		Gas:       plan.GasLimit,
		GasFeeCap: plan.MaxFeePerGas,
		GasTipCap: plan.MaxPriorityFeePerGas,
		Data:      data,
	}), nil
}

// settle computes realized profit on the standard path, where a receipt and
// balance delta exist. Relay submissions are acknowledged, not confirmed, so
// they settle on the estimate only.
func (e *Executor) settle(ctx context.Context, opp *types.Opportunity, sub *submission, preBalance *big.Int, metrics *types.ExecutionMetrics, start time.Time) (*types.ExecutionResult, error) {
	metrics.GasUsed = sub.gasUsed
	metrics.Total = e.now().Sub(start)

	if sub.receipt == nil {
		e.logger.Info("Bundle submitted, profit settles on inclusion",
			zap.String("tx_hash", sub.txHash.Hex()))
		return e.newResult(true, &sub.txHash, opp.EstimatedProfit, nil, *metrics), nil
	}

	postBalance, err := e.balance(ctx)
	if err != nil {
		return nil, err
	}

	// The wallet paid gas out of the same balance, so add it back to isolate
	// the trade's own profit.
	gasCost := new(big.Int).Mul(
		new(big.Int).SetUint64(sub.receipt.GasUsed),
		sub.receipt.EffectiveGasPrice,
	)
	actual := new(big.Int).Sub(postBalance, preBalance)
	actual.Add(actual, gasCost)

	deviation := new(big.Int).Sub(actual, opp.EstimatedProfit)
	e.evaluateDeviation(deviation, opp.EstimatedProfit)

	if err := e.ledger.Record(actual); err != nil {
		e.logger.Warn("Failed recording profit", zap.Error(err))
	}

	e.logger.Info("Execution settled",
		zap.String("tx_hash", sub.txHash.Hex()),
		zap.String("actual_profit", actual.String()),
		zap.String("deviation", deviation.String()))

	result := e.newResult(true, &sub.txHash, opp.EstimatedProfit, actual, *metrics)
	result.ProfitDeviation = deviation
	return result, nil
}

// evaluateDeviation warns when realized profit strays more than 20% from the
// estimate in either direction.
func (e *Executor) evaluateDeviation(deviation, estimated *big.Int) {
	if estimated.Sign() <= 0 {
		return
	}
	pct := new(big.Int).Abs(deviation)
	pct.Mul(pct, big.NewInt(100))
	pct.Div(pct, estimated)
	if pct.Cmp(big.NewInt(deviationWarnPct)) > 0 {
		e.logger.Warn("Profit deviation above threshold",
			zap.String("deviation", deviation.String()),
			zap.String("estimated", estimated.String()))
		e.notifier.Notify(fmt.Sprintf("Profit deviation: %s wei (estimated %s)", deviation, estimated))
	}
}

// handleFailure converts a hard failure into a result, bumps the counter once
// per execution, and trips the circuit breaker at the maximum.
func (e *Executor) handleFailure(cause error, estimated *big.Int, metrics types.ExecutionMetrics, start time.Time) (*types.ExecutionResult, error) {
	e.consecutiveFailures++
	e.metrics.failures.Inc()
	e.updateSuccessRate()
	metrics.Total = e.now().Sub(start)

	e.logger.Error("Execution failed",
		zap.Error(cause),
		zap.Int("consecutive_failures", e.consecutiveFailures))
	e.notifier.Notify(fmt.Sprintf("Execution failed: %v", cause))

	result := e.newResult(false, nil, estimated, nil, metrics)

	if e.consecutiveFailures >= MaxConsecutiveFailures {
		msg := fmt.Sprintf("Circuit breaker: %d consecutive failures", e.consecutiveFailures)
		e.logger.Error(msg)
		e.notifier.Notify(msg)
		return result, fmt.Errorf("%w: %d consecutive failures", ErrCircuitBreaker, e.consecutiveFailures)
	}
	return result, nil
}

func (e *Executor) newResult(success bool, txHash *common.Hash, estimated, actual *big.Int, metrics types.ExecutionMetrics) *types.ExecutionResult {
	return &types.ExecutionResult{
		Success:         success,
		TxHash:          txHash,
		EstimatedProfit: estimated,
		ActualProfit:    actual,
		Metrics:         metrics,
		Health:          e.Health(),
	}
}

func (e *Executor) balance(ctx context.Context) (*big.Int, error) {
	balCtx, cancel := context.WithTimeout(ctx, balanceTimeout)
	defer cancel()
	balance, err := e.client.BalanceAt(balCtx, e.signer.Address(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch balance: %w", err)
	}
	return balance, nil
}

func (e *Executor) updateSuccessRate() {
	var success, total dto.Metric
	if err := e.metrics.successes.Write(&success); err != nil {
		return
	}
	if err := e.metrics.executions.Write(&total); err != nil {
		return
	}
	if t := total.GetCounter().GetValue(); t > 0 {
		e.metrics.successRate.Set(success.GetCounter().GetValue() / t)
	}
}
