// awg-manager is the management plane for an AmneziaWG VPN gateway: it
// provisions clients, renders and applies the gateway's peer configuration,
// and hands out client configs through one-time download links.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/awg-tools/awg-manager/internal/apply"
	"github.com/awg-tools/awg-manager/internal/config"
	"github.com/awg-tools/awg-manager/internal/server"
	"github.com/awg-tools/awg-manager/internal/state"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "awg-manager",
		Short: "Management plane for an AmneziaWG VPN gateway",
		Long: `awg-manager provisions VPN clients on a single AmneziaWG gateway.

It allocates addresses, generates keypairs, keeps the gateway's peer set
applied via the awg control utility, and distributes client configs through
one-time download links.

Required configuration (file or environment):

  admin_token        bearer credential for the admin API  (env: ADMIN_TOKEN)
  wireguard.subnet   client address pool, a /24           (env: WG_SUBNET)
  wireguard.address  gateway's own address                (env: WG_ADDRESS)`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the management server",
		RunE:  runServe,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("awg-manager %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}

	rootCmd.AddCommand(serveCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// nolint:revive // args required by cobra.Command RunE signature
func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := state.NewStore(cfg.DataDir)
	if err != nil {
		return err
	}
	if err := store.EnsureServerState(cfg.WireGuard.Subnet, cfg.ServerIP()); err != nil {
		return fmt.Errorf("initialize server state: %w", err)
	}

	timeout, err := cfg.ApplyTimeout()
	if err != nil {
		return err
	}
	applier := apply.NewCommand(cfg.DataDir, cfg.WireGuard.Interface, cfg.WireGuard.Command, timeout)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("interface", cfg.WireGuard.Interface).
		Str("subnet", cfg.WireGuard.Subnet).
		Msg("gateway state ready")

	srv := server.New(cfg, store, applier)
	return srv.ListenAndServe()
}
