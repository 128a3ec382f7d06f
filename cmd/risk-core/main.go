package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ducminhle1904/crypto-risk-core/internal/config"
	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
)

const version = "1.0.0"

type rootOptions struct {
	envFile    string
	configFile string
	dryRun     bool
	logDir     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "risk-core",
		Short:         "Risk and execution safety core for leveraged crypto trading",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env", ".env", "environment file loaded before the configuration")
	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "optional config file (yaml, json or toml)")
	root.PersistentFlags().BoolVar(&opts.dryRun, "dry-run", false, "trade against paper venues instead of real ones")
	root.PersistentFlags().StringVar(&opts.logDir, "log-dir", "", "log directory (overrides LOG_DIR)")

	root.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newTransitionCmd(opts),
		newDrawdownCmd(opts),
	)
	return root
}

// loadConfig applies the flags on top of the environment and config file
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.dryRun {
		os.Setenv("DRY_RUN", "true")
	}
	return config.Load(o.envFile, o.configFile)
}

// openApp loads the configuration and wires the services. Console output is
// mirrored only for long running commands.
func (o *rootOptions) openApp(mirrorConsole bool) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if o.logDir != "" {
		cfg.LogDir = o.logDir
	}
	var log *logger.Logger
	if mirrorConsole {
		log, err = logger.NewLogger(cfg.LogDir, os.Stdout)
	} else {
		log, err = logger.NewLogger(cfg.LogDir, nil)
	}
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	mode := "live"
	if cfg.DryRun {
		mode = "dry run"
	}
	log.Info("Configured venue %s (%s), transition strategy %s, leverage caps %s",
		cfg.Exchange, mode, cfg.TransitionStrategy, orNone(config.FormatSymbolLeverage(cfg.SymbolMaxLeverage)))
	return a, nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
