package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zbxkit/zbx/loadbalance"
	"github.com/zbxkit/zbx/registry"
	"github.com/zbxkit/zbx/trapper"
)

var (
	sendHost  string
	sendClock int64
)

var sendCmd = &cobra.Command{
	Use:   "send KEY VALUE [KEY VALUE...]",
	Short: "Push item values for a host as one sender batch",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 || len(args)%2 != 0 {
			return fmt.Errorf("expect KEY VALUE pairs, got %d arguments", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if sendHost == "" {
			return fmt.Errorf("--host is required")
		}
		opts, closeReg, err := trapperOptions(true)
		if err != nil {
			return err
		}
		defer closeReg()

		var ts []time.Time
		if sendClock > 0 {
			ts = append(ts, time.Unix(sendClock, 0))
		}
		sender := trapper.NewSender(cfg.Trapper.Host, opts...)
		resp, err := sender.Batch(cmd.Context(), func(collect trapper.CollectFunc) error {
			for i := 0; i < len(args); i += 2 {
				collect(sendHost, args[i], args[i+1], ts...)
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "response: %s\ninfo: %s\n", resp.Response, resp.Info)
		if resp.Response != "success" {
			return fmt.Errorf("server answered %q", resp.Response)
		}
		return nil
	},
}

var checksCmd = &cobra.Command{
	Use:   "checks HOST",
	Short: "List the active checks configured for a host",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, closeReg, err := trapperOptions(false)
		if err != nil {
			return err
		}
		defer closeReg()

		session := trapper.New(cfg.Trapper.Host, opts...)
		if err := session.Connect(cmd.Context()); err != nil {
			return err
		}
		defer session.Close()

		resp, err := session.GetActiveChecks(args[0])
		if err != nil {
			return err
		}
		if resp.Response != "success" {
			return fmt.Errorf("server answered %q: %s", resp.Response, resp.Info)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Items)
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendHost, "host", "s", "", "monitored host name")
	sendCmd.Flags().Int64Var(&sendClock, "clock", 0, "sample timestamp in Unix seconds (default now)")
}

// trapperOptions builds session options from the config. With discover set
// and registry endpoints configured, the endpoint is looked up in etcd per
// batch.
func trapperOptions(discover bool) ([]trapper.Option, func(), error) {
	opts := []trapper.Option{
		trapper.WithPort(cfg.Trapper.Port),
		trapper.WithTimeout(cfg.Trapper.Timeout),
		trapper.WithLogger(logger),
	}
	if !discover || len(cfg.Registry.Endpoints) == 0 {
		return opts, func() {}, nil
	}

	reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, logger)
	if err != nil {
		return nil, nil, err
	}
	bal, err := loadbalance.New(cfg.Registry.Balancer)
	if err != nil {
		reg.Close()
		return nil, nil, err
	}
	opts = append(opts, trapper.WithResolver(loadbalance.NewResolver(reg, bal, cfg.Registry.Service)))
	return opts, func() { reg.Close() }, nil
}
