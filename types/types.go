package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HealthStatus reflects the execution engine's consecutive-failure state.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// Opportunity is a candidate flash-loan arbitrage trade produced by the
// scanner. Amounts are base units. An Opportunity is never mutated after
// construction; build a new one if parameters change.
type Opportunity struct {
	Path             []common.Address // ordered token round trip, A -> B -> A
	AmountIn         *big.Int
	MinAmountOut     *big.Int
	Dexes            []common.Address // router per hop
	EstimatedProfit  *big.Int
	EstimatedGasCost *big.Int
	Fees             []*big.Int // V3 fee tier per hop, zero for non-tiered pools
	SlippageBps      int64
}

// Validate reports whether the opportunity is structurally executable:
// at least two tokens and two routers, a positive input amount, a
// non-negative output floor and a strictly positive estimated profit.
func (o *Opportunity) Validate() bool {
	if o == nil {
		return false
	}
	if len(o.Path) < 2 || len(o.Dexes) < 2 {
		return false
	}
	if o.AmountIn == nil || o.AmountIn.Sign() <= 0 {
		return false
	}
	if o.MinAmountOut == nil || o.MinAmountOut.Sign() < 0 {
		return false
	}
	if o.EstimatedProfit == nil || o.EstimatedProfit.Sign() <= 0 {
		return false
	}
	return true
}

// ExecutionMetrics records per-stage durations for one execution attempt.
type ExecutionMetrics struct {
	Preparation   time.Duration
	GasEstimation time.Duration
	Execution     time.Duration
	Total         time.Duration
	GasUsed       uint64
}

// ExecutionResult is the outcome of one Executor.Execute call. ActualProfit
// and ProfitDeviation are only set on the standard submission path; bundles
// submitted through the relay report the estimate only.
type ExecutionResult struct {
	Success         bool
	TxHash          *common.Hash
	EstimatedProfit *big.Int
	ActualProfit    *big.Int
	ProfitDeviation *big.Int
	Metrics         ExecutionMetrics
	Health          HealthStatus
}
