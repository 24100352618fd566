package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jvaldesl/flasharb/config"
	"github.com/jvaldesl/flasharb/contract"
	"github.com/jvaldesl/flasharb/dex"
	"github.com/jvaldesl/flasharb/executor"
	"github.com/jvaldesl/flasharb/flashbots"
	"github.com/jvaldesl/flasharb/flashloan"
	"github.com/jvaldesl/flasharb/gas"
	"github.com/jvaldesl/flasharb/ledger"
	"github.com/jvaldesl/flasharb/notify"
	"github.com/jvaldesl/flasharb/scanner"
	"github.com/jvaldesl/flasharb/types"
	"github.com/jvaldesl/flasharb/utils"
	"github.com/jvaldesl/flasharb/wallet"
)

// quoteRPS limits how hard the quote source hits the node.
const quoteRPS = 20

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the arbitrage bot",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()
		defer utils.CleanupLogger()

		cfg, err := config.Load()
		if err != nil {
			log.Fatal("Failed to load config", zap.Error(err))
		}
		net, err := config.LoadNetwork(cfg.Network, cfg.RegistryFile)
		if err != nil {
			log.Fatal("Failed to load network registry", zap.Error(err))
		}

		bot, err := buildBot(cfg, net, log)
		if err != nil {
			log.Fatal("Failed to assemble bot", zap.Error(err))
		}
		defer bot.close()

		if err := bot.run(cmd.Context()); err != nil {
			log.Fatal("Bot stopped", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}

// bot bundles the assembled engines for one network.
type bot struct {
	cfg      *config.Config
	net      *config.Network
	client   *ethclient.Client
	signer   *wallet.Wallet
	contract *contract.Arbitrage
	scanner  *scanner.Scanner
	executor *executor.Executor
	ledger   *ledger.Ledger
	notifier notify.Notifier
	logger   *zap.Logger

	cycles        uint64
	executed      uint64
	profitable    uint64
	consecutive   int
	lastHealthRun uint64
}

func buildBot(cfg *config.Config, net *config.Network, log *zap.Logger) (*bot, error) {
	client, err := ethclient.Dial(cfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	signer, err := wallet.New(cfg.PrivateKey, net.ChainID)
	if err != nil {
		return nil, err
	}

	arb, err := contract.New(cfg.ContractAddress, client)
	if err != nil {
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notifier = notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, log)
	}

	book, err := ledger.Open(cfg.LedgerPath, cfg.NotifyThreshold, notifier, log)
	if err != nil {
		return nil, err
	}

	var relay *flashbots.Client
	if cfg.FlashbotsRPC != "" {
		relay = flashbots.NewClient(cfg.FlashbotsRPC, signer.Key(), log)
	}

	fees := gas.NewFeeCache(client, net, log)
	var simRelay gas.Relay
	if relay != nil {
		simRelay = relay
	}
	estimator := gas.NewEstimator(client, fees, simRelay, signer, net, log)

	quotes, err := dex.NewSource(client, quoteRPS, log)
	if err != nil {
		return nil, err
	}

	liquidity, err := flashloan.NewAavePool(client, arb, log)
	if err != nil {
		return nil, err
	}

	scan := scanner.New(arb, liquidity, quotes, estimator,
		config.NewVolatilityTable(net), notifier, net, log)

	var execRelay executor.Relay
	if relay != nil {
		execRelay = relay
	}
	exec := executor.New(client, signer, arb, estimator, execRelay,
		notifier, book, net, cfg.DynamicSlippage, log)

	return &bot{
		cfg:      cfg,
		net:      net,
		client:   client,
		signer:   signer,
		contract: arb,
		scanner:  scan,
		executor: exec,
		ledger:   book,
		notifier: notifier,
		logger:   log,
	}, nil
}

func (b *bot) close() {
	if b.ledger != nil {
		_ = b.ledger.Close()
	}
	if b.client != nil {
		b.client.Close()
	}
}

// run drives the scan-execute cycle until the context is cancelled, the
// circuit breaker trips, or too many cycles fail in a row.
func (b *bot) run(ctx context.Context) error {
	if err := b.healthCheck(ctx); err != nil {
		return fmt.Errorf("startup health check: %w", err)
	}

	b.logger.Info("Bot started",
		zap.String("network", b.net.Name),
		zap.String("wallet", b.signer.Address().Hex()),
		zap.String("contract", b.contract.Address().Hex()),
		zap.Bool("relay", b.cfg.FlashbotsRPC != ""))
	b.notifier.Notify(fmt.Sprintf("Bot started on %s, wallet %s", b.net.Name, b.signer.Address().Hex()))

	statsTicker := time.NewTicker(b.cfg.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Shutting down", zap.Uint64("cycles", b.cycles))
			b.notifier.Notify("Bot shutting down")
			return nil
		case <-statsTicker.C:
			b.logStats()
		default:
		}

		if err := b.cycle(ctx); err != nil {
			if errors.Is(err, executor.ErrCircuitBreaker) {
				b.notifier.Notify("Circuit breaker tripped, stopping")
				return err
			}
			b.consecutive++
			b.logger.Error("Cycle failed",
				zap.Error(err), zap.Int("consecutive", b.consecutive))
			if b.consecutive >= b.cfg.MaxCycleErrors {
				b.notifier.Notify(fmt.Sprintf("Stopping after %d failed cycles", b.consecutive))
				return fmt.Errorf("%d consecutive cycle failures: %w", b.consecutive, err)
			}
		} else {
			b.consecutive = 0
		}

		b.cycles++
		if b.cycles-b.lastHealthRun >= uint64(b.cfg.HealthCheckEvery) {
			b.lastHealthRun = b.cycles
			if err := b.healthCheck(ctx); err != nil {
				b.logger.Warn("Health check failed", zap.Error(err))
				b.notifier.Notify(fmt.Sprintf("Health check failed: %v", err))
			}
		}

		select {
		case <-ctx.Done():
		case <-time.After(b.cfg.CycleDelay):
		}
	}
}

func (b *bot) cycle(ctx context.Context) error {
	opps, err := b.scanner.Scan(ctx, b.net.Tokens, b.net.Dexes, scanner.Options{
		DynamicSlippage: b.cfg.DynamicSlippage,
		ProfitMarginBps: b.cfg.ProfitMarginBps,
		Timeout:         b.cfg.ScanTimeout,
	})
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if len(opps) == 0 {
		b.logger.Debug("No opportunities this cycle")
		return nil
	}
	b.profitable += uint64(len(opps))

	best := selectBest(opps)
	b.logger.Info("Executing best opportunity",
		zap.Int("candidates", len(opps)),
		zap.String("estimated_profit", best.EstimatedProfit.String()))

	b.executed++
	result, err := b.executor.Execute(ctx, best)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("execution unsuccessful, health %s", result.Health)
	}
	return nil
}

// selectBest scores each candidate by net profit discounted by path length,
// so a shorter route wins over a marginally richer long one.
func selectBest(opps []*types.Opportunity) *types.Opportunity {
	best := opps[0]
	bestScore := score(best)
	for _, o := range opps[1:] {
		if s := score(o); s.Cmp(bestScore) > 0 {
			best = o
			bestScore = s
		}
	}
	return best
}

func score(o *types.Opportunity) *big.Int {
	net := new(big.Int).Sub(o.EstimatedProfit, o.EstimatedGasCost)
	hops := int64(len(o.Path) - 1)
	if hops < 1 {
		hops = 1
	}
	return net.Div(net, big.NewInt(hops))
}

// healthCheck runs the three liveness probes in parallel: node reachability,
// wallet balance floor and contract code presence.
func (b *bot) healthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(checkCtx)

	g.Go(func() error {
		if _, err := b.client.BlockNumber(gctx); err != nil {
			return fmt.Errorf("rpc unreachable: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		balance, err := b.client.BalanceAt(gctx, b.signer.Address(), nil)
		if err != nil {
			return fmt.Errorf("balance probe: %w", err)
		}
		if balance.Cmp(b.cfg.MinBalanceWei) < 0 {
			return fmt.Errorf("wallet balance %s below floor %s", balance, b.cfg.MinBalanceWei)
		}
		return nil
	})
	g.Go(func() error {
		code, err := b.client.CodeAt(gctx, b.contract.Address(), nil)
		if err != nil {
			return fmt.Errorf("contract probe: %w", err)
		}
		if len(code) == 0 {
			return fmt.Errorf("no code at contract address %s", b.contract.Address().Hex())
		}
		return nil
	})

	return g.Wait()
}

func (b *bot) logStats() {
	b.logger.Info("Session stats",
		zap.Uint64("cycles", b.cycles),
		zap.Uint64("opportunities", b.profitable),
		zap.Uint64("executions", b.executed),
		zap.String("total_profit", b.ledger.Total().String()),
		zap.String("health", string(b.executor.Health())))
}
