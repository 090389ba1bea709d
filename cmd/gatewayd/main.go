// Package main is the entry point of the gatewayd reverse proxy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ferrohq/gatewayd/internal/gateway"
	"github.com/ferrohq/gatewayd/internal/logging"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var verbose bool
	var httpPort, httpsPort int
	var adminToken string

	serve := func(cmd *cobra.Command, args []string) error {
		log, err := logging.New(verbose)
		if err != nil {
			return fmt.Errorf("gatewayd: %w", err)
		}
		defer log.Sync() //nolint:errcheck

		cfg := gateway.Config{
			ConfigPath: configPath,
			HTTPPort:   httpPort,
			HTTPSPort:  httpsPort,
			AdminToken: adminToken,
		}

		gw, err := gateway.New(cfg, log)
		if err != nil {
			return fmt.Errorf("gatewayd: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-sigs
			log.Info("received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		}()

		log.Info("gatewayd starting",
			zap.String("config", configPath),
			zap.Int("httpPort", httpPort),
			zap.Int("httpsPort", httpsPort),
		)
		return gw.Run(ctx)
	}

	root := &cobra.Command{
		Use:           "gatewayd",
		Short:         "gatewayd is a host-routed HTTPS reverse proxy with per-host TLS and child-process supervision",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "gateway.json", "path to the JSON configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	root.PersistentFlags().IntVar(&httpPort, "http-port", envInt("GATEWAY_HTTP_PORT", gateway.DefaultHTTPPort), "plain HTTP listener port (ACME challenges + redirect)")
	root.PersistentFlags().IntVar(&httpsPort, "https-port", envInt("GATEWAY_HTTPS_PORT", gateway.DefaultHTTPSPort), "TLS listener port")
	root.PersistentFlags().StringVar(&adminToken, "admin-token", os.Getenv("GATEWAY_ADMIN_TOKEN"), "bearer token required for admin mutations")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run gatewayd in the foreground (default)",
		RunE:  serve,
	}
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the gatewayd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})

	return root
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n <= 0 {
		return fallback
	}
	return n
}
