package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nbenliogludev/go-page-pilot/internal/config"
	"github.com/nbenliogludev/go-page-pilot/internal/observability"
)

// app is the state shared by the subcommands once PersistentPreRunE ran.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func (a *app) logger() *zap.Logger {
	return observability.GetLogger()
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)
	config.BindEnv(a.v)

	root := &cobra.Command{
		Use:           "agent-cli",
		Short:         "Page Pilot drives a web page from natural-language commands.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "page-pilot"})
				return err
			}
			a.cfg = cfg
			observability.InitializeLogger(cfg.Logger)
			a.logger().Debug("configuration loaded", zap.String("command", cmd.Name()))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./config.yaml)")

	root.AddCommand(newServeCmd(a), newRunCmd(a), newTranslateCmd(a))
	return root
}

// loadConfig reads the optional config file on top of defaults and env.
func loadConfig(v *viper.Viper, path string) (*config.Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return config.NewConfigFromViper(v)
}
