package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jvaldesl/flasharb/utils"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "flasharb",
	Short: "A flash-loan arbitrage bot for EVM chains",
	Long: `A bot that continuously scans DEX routers for two-hop arbitrage
round trips and executes the profitable ones through flash loans,
optionally submitting via a private relay.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
