package main

import (
	"github.com/spf13/cobra"
	"github.com/storyloom/core/internal/config"
	"github.com/storyloom/core/internal/pkg/jwt"
	"github.com/storyloom/core/internal/pkg/logging"
	"go.uber.org/zap"
)

type globalOptions struct {
	ConfigPath string
	Verbose    bool
}

func newRootCmd() *cobra.Command {
	opt := &globalOptions{ConfigPath: config.DefaultConfigPath}
	cmd := &cobra.Command{
		Use:           "storyctl",
		Short:         "Operate a storyloom deployment and run interviews from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opt.ConfigPath, "config", "c", opt.ConfigPath, "Path to YAML config file")
	flags.BoolVarP(&opt.Verbose, "verbose", "v", opt.Verbose, "Log debug output")

	cmd.AddCommand(newTokenCmd(opt), newMigrateCmd(opt), newInterviewCmd(opt))
	return cmd
}

// load reads the config and applies the signing secret.
func (o *globalOptions) load() (*config.AppConfig, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.JWTSecret != "" {
		jwt.SetSecret(cfg.JWTSecret)
	}
	return cfg, nil
}

func (o *globalOptions) logger() *zap.Logger {
	log, err := logging.NewZapLogger(o.Verbose, logging.ResolveDir())
	if err != nil {
		return zap.NewNop()
	}
	return log
}
