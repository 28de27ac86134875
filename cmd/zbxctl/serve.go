package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zbxkit/zbx/message"
	"github.com/zbxkit/zbx/middleware"
	"github.com/zbxkit/zbx/registry"
	"github.com/zbxkit/zbx/server"
	"go.uber.org/zap"
)

var serveOpts struct {
	Listen    string
	Advertise string
	Hosts     []string
	Checks    []string
	Rate      float64
	Timeout   time.Duration
	TTL       int64
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a trapper receiver that logs pushed samples and serves active checks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svr, closeReg, err := newReceiver()
		if err != nil {
			return err
		}
		defer closeReg()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- svr.ListenAndServe(ctx, "tcp", serveOpts.Listen) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return svr.Shutdown(shutdownCtx, 5*time.Second)
	},
}

// newReceiver builds the trapper server from the config and serve flags:
// middleware, the sender data and active checks handlers, and registry
// publishing when etcd endpoints are configured.
func newReceiver() (*server.Server, func(), error) {
	checks, err := parseChecks(serveOpts.Checks)
	if err != nil {
		return nil, nil, err
	}

	closeReg := func() {}
	opts := []server.Option{server.WithLogger(logger)}
	if len(cfg.Registry.Endpoints) > 0 {
		if serveOpts.Advertise == "" {
			return nil, nil, fmt.Errorf("--advertise is required with registry endpoints")
		}
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		closeReg = func() { reg.Close() }
		opts = append(opts, server.WithRegistry(reg, cfg.Registry.Service, serveOpts.Advertise, serveOpts.TTL))
	}

	svr := server.NewServer(opts...)
	svr.Use(middleware.LoggingMiddleware(logger))
	if serveOpts.Timeout > 0 {
		svr.Use(middleware.TimeOutMiddleware(serveOpts.Timeout))
	}
	if serveOpts.Rate > 0 {
		svr.Use(middleware.RateLimitMiddleware(serveOpts.Rate, int(serveOpts.Rate)+1))
	}
	svr.Handle(message.RequestSenderData, server.SenderDataHandler(logSamples))
	svr.Handle(message.RequestActiveChecks, server.ActiveChecksHandler(
		func(ctx context.Context, host string) ([]message.ActiveCheck, bool) {
			if len(serveOpts.Hosts) > 0 && !slices.Contains(serveOpts.Hosts, host) {
				return nil, false
			}
			return checks, true
		}))
	return svr, closeReg, nil
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveOpts.Listen, "listen", ":10051", "listen address")
	f.StringVar(&serveOpts.Advertise, "advertise", "", "address published in the registry")
	f.StringSliceVar(&serveOpts.Hosts, "hosts", nil, "hosts allowed to fetch active checks (default any)")
	f.StringSliceVar(&serveOpts.Checks, "check", nil, "active check as KEY:DELAY, repeatable")
	f.Float64Var(&serveOpts.Rate, "rate", 0, "requests per second accepted (0 disables limiting)")
	f.DurationVar(&serveOpts.Timeout, "handler-timeout", 5*time.Second, "per-request handler timeout")
	f.Int64Var(&serveOpts.TTL, "ttl", 10, "registry lease TTL in seconds")
}

func logSamples(ctx context.Context, req *message.SenderDataRequest) (processed, failed int) {
	for _, s := range req.Data {
		if s.Host == "" || s.Key == "" {
			failed++
			continue
		}
		logger.Info("sample",
			zap.String("host", s.Host),
			zap.String("key", s.Key),
			zap.Any("value", s.Value),
			zap.Int64("clock", s.Clock),
		)
		processed++
	}
	return processed, failed
}

func parseChecks(args []string) ([]message.ActiveCheck, error) {
	checks := make([]message.ActiveCheck, 0, len(args))
	for _, arg := range args {
		i := strings.LastIndexByte(arg, ':')
		if i <= 0 {
			return nil, fmt.Errorf("check %q: expect KEY:DELAY", arg)
		}
		delay, err := strconv.ParseInt(arg[i+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", arg, err)
		}
		checks = append(checks, message.ActiveCheck{Key: arg[:i], Delay: delay})
	}
	return checks, nil
}
