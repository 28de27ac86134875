// Command zbxctl pushes samples and reads active checks over the trapper
// protocol, calls the JSON-RPC API, and can run a small trapper receiver.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zbxkit/zbx/internal/config"
	"github.com/zbxkit/zbx/internal/metrics"
	"go.uber.org/zap"
)

type globalFlags struct {
	ConfigFile string
	Server     string
	Port       int
	Timeout    time.Duration
	LogLevel   string
}

var (
	flags  globalFlags
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "zbxctl",
	Short:         "Trapper and JSON-RPC client for the monitoring server",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(flags.ConfigFile)
		if err != nil {
			return err
		}
		applyFlags(cmd, cfg)

		logger, err = config.NewLogger(cfg.Log)
		if err != nil {
			return err
		}
		if cfg.MetricsAddr != "" {
			serveMetrics(cfg.MetricsAddr)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.ConfigFile, "config", "c", defaultConfigPath(), "config file")
	pf.StringVarP(&flags.Server, "server", "z", "", "trapper server host (overrides config)")
	pf.IntVarP(&flags.Port, "port", "p", 0, "trapper server port (overrides config)")
	pf.DurationVar(&flags.Timeout, "timeout", 0, "trapper request timeout (overrides config)")
	pf.StringVar(&flags.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(checksCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(serveCmd)
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "zbxctl.yaml"
	}
	return filepath.Join(dir, "zbxctl", "config.yaml")
}

// applyFlags lets explicitly set flags win over the file and environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("server") {
		cfg.Trapper.Host = flags.Server
	}
	if f.Changed("port") {
		cfg.Trapper.Port = flags.Port
	}
	if f.Changed("timeout") {
		cfg.Trapper.Timeout = flags.Timeout
	}
	if f.Changed("log-level") {
		cfg.Log.Level = flags.LogLevel
	}
}

func serveMetrics(addr string) {
	reg := prometheus.NewRegistry()
	metrics.Register(reg)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", zap.String("addr", addr), zap.Error(err))
		}
	}()
}

func main() {
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "zbxctl: %v\n", err)
		os.Exit(1)
	}
}
