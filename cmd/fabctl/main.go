package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ddr4869/fabctl/common/logger"
	"github.com/ddr4869/fabctl/config"
)

var (
	cfgFile string
	cfg     *config.Config
	v       = viper.New()
)

// rootCmd is the fabctl entry point
var rootCmd = &cobra.Command{
	Use:   "fabctl",
	Short: "Fabric network operator",
	Long: `fabctl extends a running multi-organization Fabric network: it adds
organizations to channels, consortiums to the system channel and peers to
organizations, collecting every required signature over SSH.`,
	SilenceUsage:      true,
	PersistentPreRunE: initialize,
	PersistentPostRun: func(*cobra.Command, []string) { _ = logger.Sync() },
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default ./fabctl.yaml)")
	flags.String("deployment", "", "network deployment file")
	flags.String("output", "", "local output directory")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	_ = v.BindPFlag("deployment", flags.Lookup("deployment"))
	_ = v.BindPFlag("output", flags.Lookup("output"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(channelCmd, chaincodeCmd, consortiumCmd, installCmd, extendCmd, cleanCmd, artifactsCmd, hostsCmd)
}

func initialize(cmd *cobra.Command, _ []string) error {
	var err error
	if cfg, err = config.Load(v, cfgFile); err != nil {
		return err
	}
	if err := logger.Initialize(&cfg.Log); err != nil {
		return err
	}
	cfg.PrintConfig()
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
