package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blecentral/pkg/config"
)

type globalOptions struct {
	configPath string
	backend    string
	logLevel   string
	simProfile string
}

// loadConfig merges the config file with the persistent flags. Flags win.
func (g *globalOptions) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if g.configPath != "" {
		var err error
		if cfg, err = config.Load(g.configPath); err != nil {
			return nil, err
		}
	}
	if g.backend != "" {
		cfg.Backend = g.backend
	}
	if g.simProfile != "" {
		cfg.SimProfile = g.simProfile
		if cfg.Backend == "" {
			cfg.Backend = config.BackendSim
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// configureLogger builds the command logger. Without --log-level and without a
// config file the CLI stays silent so logs never mix with command output.
func (g *globalOptions) configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level := logrus.PanicLevel
	if g.configPath != "" {
		level = cfg.LogLevel
	}
	if g.logLevel != "" {
		switch g.logLevel {
		case "debug":
			level = logrus.DebugLevel
		case "info":
			level = logrus.InfoLevel
		case "warn":
			level = logrus.WarnLevel
		case "error":
			level = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", g.logLevel)
		}
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger, nil
}

// setup loads configuration and the logger. Arguments are validated at this
// point, so runtime errors no longer print usage.
func (g *globalOptions) setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := g.configureLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	cmd.SilenceUsage = true
	return cfg, logger, nil
}

func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.ErrOrStderr().(*os.File)
	return ok && isTTY(f)
}
