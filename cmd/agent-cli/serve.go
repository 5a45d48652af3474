package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/llm"
	"github.com/nbenliogludev/go-page-pilot/internal/server"
	"github.com/nbenliogludev/go-page-pilot/internal/translate"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend proxy (POST /chat, POST /translate).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := a.logger()
			providers, err := llm.NewRegistryFromConfig(ctx, a.cfg, logger)
			if err != nil {
				return fmt.Errorf("configure model providers: %w", err)
			}
			logger.Info("model providers ready",
				zap.Strings("providers", providers.Names()),
				zap.String("default", a.cfg.Server.DefaultProvider),
			)

			translator, err := translate.NewFromConfig(a.cfg.Translation, logger)
			if err != nil {
				return fmt.Errorf("configure translation: %w", err)
			}
			if a.cfg.Translation.APIKey == "" {
				logger.Warn("no translation key configured; /translate will return the original texts")
			}

			return server.New(a.cfg.Server, providers, translator, logger).Run(ctx)
		},
	}
	cmd.Flags().String("address", "", "listen address (overrides server.address)")
	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if addr, _ := cmd.Flags().GetString("address"); addr != "" {
			a.cfg.Server.Address = addr
		}
		return nil
	}
	return cmd
}
