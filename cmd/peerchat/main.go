// Command peerchat is a direct, end-to-end encrypted chat and file transfer
// between two peers in the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bjarneo/peerchat/internal/config"
	"github.com/bjarneo/peerchat/internal/logging"
)

var (
	configPath string
	verbose    bool
	transport  string
	nickname   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "peerchat",
	Short: "Peer-to-peer encrypted chat and file transfer",
	Long: `peerchat connects two peers directly. One side hosts, the other joins.
Text and files travel over a single encrypted channel; no server sees the content.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("transport") {
			cfg.Network.Transport = transport
		}
		if cmd.Flags().Changed("nickname") {
			cfg.Nickname = nickname
		}
		if cmd.Flags().Changed("listen") {
			cfg.Network.Listen = listenAddr
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger, err = logging.New(cfg.Logging, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&transport, "transport", config.TransportTCP, "Transport to use: tcp or ws")
	rootCmd.PersistentFlags().StringVarP(&nickname, "nickname", "n", "", "Nickname shown to the peer")

	rootCmd.AddCommand(hostCmd, joinCmd, configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
