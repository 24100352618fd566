package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/jvaldesl/flasharb/utils"
)

const (
	// Relay submissions target this many upcoming blocks before giving up.
	relayRetryBlocks = 3

	standardMaxRetries = 3
	standardRetryStep  = time.Second

	receiptTimeout     = 30 * time.Second
	receiptPollStep    = 500 * time.Millisecond
	confirmationBlocks = 2
)

// submission is the outcome of stage 7. receipt is nil on the relay path,
// where the bundle is acknowledged but not yet included.
type submission struct {
	txHash  common.Hash
	gasUsed uint64
	receipt *ethtypes.Receipt
}

func (e *Executor) submit(ctx context.Context, tx *ethtypes.Transaction) (*submission, error) {
	signed, err := e.signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if e.relay != nil {
		return e.submitBundle(ctx, signed)
	}
	return e.submitStandard(ctx, signed)
}

// submitBundle signs once and offers the bundle for up to three upcoming
// blocks. The target is refreshed before each attempt; when the refresh fails
// the last known block number carries over. The first relay acknowledgment
// wins, inclusion is not awaited here.
func (e *Executor) submitBundle(ctx context.Context, signed *ethtypes.Transaction) (*submission, error) {
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	baseBlock, err := e.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch block number: %w", err)
	}

	var lastErr error
	for i := 0; i < relayRetryBlocks; i++ {
		if n, err := e.client.BlockNumber(ctx); err == nil {
			baseBlock = n
		} else {
			e.logger.Warn("Block number refresh failed, reusing last known",
				zap.Uint64("block", baseBlock), zap.Error(err))
		}

		target := baseBlock + uint64(i) + 1
		if err := e.relay.SendBundle(ctx, [][]byte{raw}, target); err != nil {
			lastErr = err
			e.logger.Warn("Bundle rejected",
				zap.Uint64("target_block", target), zap.Error(err))
			continue
		}

		e.logger.Info("Bundle accepted",
			zap.Uint64("target_block", target),
			zap.String("tx_hash", signed.Hash().Hex()))
		return &submission{txHash: signed.Hash(), gasUsed: signed.Gas()}, nil
	}

	return nil, fmt.Errorf("bundle not accepted for %d blocks: %w", relayRetryBlocks, lastErr)
}

// submitStandard broadcasts through the public mempool and waits for the
// receipt plus confirmations, retrying the whole broadcast-and-wait up to
// three times with a linearly growing delay.
func (e *Executor) submitStandard(ctx context.Context, signed *ethtypes.Transaction) (*submission, error) {
	var receipt *ethtypes.Receipt

	operation := func() error {
		if err := e.client.SendTransaction(ctx, signed); err != nil {
			return fmt.Errorf("broadcast: %w", err)
		}
		r, err := e.waitMined(ctx, signed.Hash())
		if err != nil {
			return err
		}
		receipt = r
		return nil
	}

	policy := backoff.WithContext(utils.NewLinearBackOff(e.retryStep, standardMaxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("transaction failed after %d attempts: %w", standardMaxRetries, err)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction reverted on chain: %s", signed.Hash().Hex())
	}

	return &submission{
		txHash:  signed.Hash(),
		gasUsed: receipt.GasUsed,
		receipt: receipt,
	}, nil
}

// waitMined polls for the receipt and then for two confirmations on top of
// the inclusion block, all within one 30s window.
func (e *Executor) waitMined(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollStep)
	defer ticker.Stop()

	var receipt *ethtypes.Receipt
	for receipt == nil {
		r, err := e.client.TransactionReceipt(waitCtx, txHash)
		if err == nil && r != nil {
			receipt = r
			break
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("receipt wait timed out: %s", txHash.Hex())
		case <-ticker.C:
		}
	}

	settled := receipt.BlockNumber.Uint64() + confirmationBlocks - 1
	for {
		head, err := e.client.BlockNumber(waitCtx)
		if err == nil && head >= settled {
			return receipt, nil
		}
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("confirmation wait timed out: %s", txHash.Hex())
		case <-ticker.C:
		}
	}
}
