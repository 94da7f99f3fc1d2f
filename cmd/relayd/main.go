package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/matheus3301/relay/internal/config"
	"github.com/matheus3301/relay/internal/daemon"
	"github.com/matheus3301/relay/internal/paths"
)

var rootCmd = &cobra.Command{
	Use:          "relayd",
	Short:        "Group chat relay server",
	SilenceUsage: true,
	RunE:         runDaemon,
}

var (
	flagProfile string
	flagListen  string
	flagHistory string
	flagQuiet   bool
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagProfile, "profile", "", "profile name (overrides config default)")
	flags.StringVar(&flagListen, "listen", "", "HTTP listen address (overrides [server].listen)")
	flags.StringVar(&flagHistory, "history", "", "history backend: sqlite, pebble or none")
	flags.BoolVar(&flagQuiet, "quiet", false, "log to the file only")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	profile := paths.ResolveProfile(flagProfile)
	if err := paths.ValidateProfile(profile); err != nil {
		return err
	}

	cfg, err := config.Resolve(paths.ConfigPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cmd.Flags().Changed("listen") {
		cfg.Server.Listen = flagListen
	}
	if cmd.Flags().Changed("history") {
		cfg.Server.HistoryBackend = flagHistory
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile, Config: cfg, Console: !flagQuiet}),
	)
	app.Run()
	return nil
}
