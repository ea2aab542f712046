package aggregator

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/andydunstall/swimrelay/aggregator/config"
	"github.com/andydunstall/swimrelay/pkg/admin"
	"github.com/andydunstall/swimrelay/pkg/aggregator"
	pkgconfig "github.com/andydunstall/swimrelay/pkg/config"
	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/transport"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregator",
		Short: "start a status aggregator",
		Long: `Start a status aggregator.

Nodes configured with '--status.aggregator' periodically send a status report
to the aggregator, including the size of their membership view, the number
of buffered membership changes by kind, their incarnation and their number of
parents.

The aggregator logs each report and keeps the latest report from each node,
which can be inspected with 'swimrelay status aggregator'.

Examples:
  # Start an aggregator listening for reports on :7950.
  swimrelay aggregator --aggregator.bind-addr :7950
`,
	}

	conf := config.Default()

	var configPath string
	cmd.Flags().StringVar(
		&configPath,
		"config.path",
		"",
		`
YAML config file path.`,
	)

	var configExpandEnv bool
	cmd.Flags().BoolVar(
		&configExpandEnv,
		"config.expand-env",
		false,
		`
Whether to expand environment variables in the config file.`,
	)

	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			if err := pkgconfig.Load(configPath, conf, configExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		logger, err := log.NewLogger(&conf.Log)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}
		defer logger.Sync() //nolint

		if err := run(conf, logger); err != nil {
			logger.Error("failed to run aggregator", zap.Error(err))
			logger.Sync() //nolint
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting swimrelay aggregator", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	transportMetrics := transport.NewMetrics()
	transportMetrics.Register(registry)
	t, err := transport.ListenUDP(conf.Aggregator.BindAddr, transportMetrics, logger)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer t.Close()

	clk := clock.New()
	aggregatorMetrics := aggregator.NewMetrics()
	aggregatorMetrics.Register(registry)
	agg := aggregator.NewAggregator(t, clk, aggregatorMetrics, logger)

	tlsConfig, err := conf.Admin.TLS.Load()
	if err != nil {
		return fmt.Errorf("admin tls: %w", err)
	}
	adminLn, err := net.Listen("tcp", conf.Admin.BindAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
	}
	adminServer := admin.NewServer(registry, tlsConfig, logger)
	adminServer.AddStatus("/aggregator", aggregator.NewStatus(agg))

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return agg.Run(ctx)
	})
	g.Go(func() error {
		ticker := clk.Ticker(conf.Aggregator.NodeTimeout / 2)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if removed := agg.Prune(conf.Aggregator.NodeTimeout); removed > 0 {
					logger.Info("removed expired nodes", zap.Int("removed", removed))
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		if err := adminServer.Serve(adminLn); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()

		logger.Info("shutting down admin server")

		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			conf.GracePeriod,
		)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown server", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}
