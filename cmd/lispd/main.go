// SPDX-License-Identifier: Apache-2.0
// Copyright Authors of Cilium

// Command lispd runs the LISP xTR / Mobile-Node control-plane daemon:
// it builds an option.Config from flags/env/config-file, constructs a
// daemon.Daemon, and runs it until an error or a termination signal.
// See daemon/cmd/daemon_main.go's InitGlobalFlags/cobra.Command pattern,
// which this command mirrors at a scale matching this module's scope.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cilium/lispd/pkg/daemon"
	"github.com/cilium/lispd/pkg/logging"
	"github.com/cilium/lispd/pkg/logging/logfields"
	"github.com/cilium/lispd/pkg/metrics"
	"github.com/cilium/lispd/pkg/option"
)

const envPrefix = "LISPD"

var log = logging.NewSubsys("cmd-lispd")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	vp := viper.New()

	cmd := &cobra.Command{
		Use:   "lispd",
		Short: "LISP xTR / Mobile-Node control-plane daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), vp)
		},
	}

	option.BindFlags(cmd.Flags())
	if err := vp.BindPFlags(cmd.Flags()); err != nil {
		// BindPFlags only fails on programmer error (duplicate/invalid
		// flag registration), so a panic here surfaces it immediately
		// rather than deferring to a confusing runtime failure.
		panic(err)
	}
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()

	return cmd
}

func run(ctx context.Context, vp *viper.Viper) error {
	if cfgFile := vp.GetString(option.ConfigFile); cfgFile != "" {
		vp.SetConfigFile(cfgFile)
		if err := vp.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg, err := option.Populate(vp)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.InitLogging(logging.Options{
		Level: levelFor(cfg.Debug),
		JSON:  false,
	})

	option.WatchForValidation(vp, func(*option.Config) {})

	reg := metrics.New()

	d, err := daemon.New(cfg, reg, nil)
	if err != nil {
		return fmt.Errorf("constructing daemon: %w", err)
	}

	for _, lm := range cfg.LocalMappings {
		m, err := daemon.BuildLocalMapping(lm)
		if err != nil {
			return fmt.Errorf("local mapping %s: %w", lm.EID, err)
		}
		if err := d.AddLocalMapping(m); err != nil {
			return fmt.Errorf("installing local mapping %s: %w", lm.EID, err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsSrv := serveHandler(cfg.MetricsListenAddress, promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
	defer metricsSrv.Close()

	healthSrv := serveHandler(cfg.HealthListenAddress, http.HandlerFunc(healthz))
	defer healthSrv.Close()

	log.Info("starting lispd", logfields.Interface, cfg.ControlInterface)
	return d.Run(ctx)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// serveHandler starts an HTTP server for handler on addr in the
// background. A ListenAndServe error after a clean Close (server
// shutdown) is expected and only logged, matching net/http's own
// ErrServerClosed convention.
func serveHandler(addr string, handler http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("observability server stopped", logfields.Error, err)
		}
	}()
	return srv
}

func levelFor(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}
