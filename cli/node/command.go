package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/node"
	"github.com/andydunstall/swimrelay/node/config"
	pkgconfig "github.com/andydunstall/swimrelay/pkg/config"
	"github.com/andydunstall/swimrelay/pkg/log"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "start a node",
		Long: `Start a node.

Each node runs the SWIM failure detector, periodically probing a random member
and gossiping membership changes on the probe acks.

Nodes behind a NAT ('--nat.type nated') can't be reached directly, so route
their traffic through a small set of open parent nodes. Parents are selected
from the open nodes sampled from the cluster.

Use '--cluster.join' to configure existing nodes to join, or
'--cluster.etcd.endpoints' to discover existing nodes from etcd.

Examples:
  # Start the first node in a cluster.
  swimrelay node --node.id 1

  # Start a node and join the cluster.
  swimrelay node --node.id 2 --cluster.join 1@10.26.104.14:7946

  # Start a nated node using node 1 as its initial parent.
  swimrelay node --node.id 3 --nat.type nated --cluster.join 1@10.26.104.14:7946

  # Start a node, detecting whether it is behind a NAT using STUN.
  swimrelay node --node.id 4 --nat.type auto --cluster.join 1@10.26.104.14:7946

  # Start a node that reports its status to an aggregator.
  swimrelay node --node.id 5 --status.aggregator 100@10.26.104.20:7950
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
Whether to expand environment variables in the config file.

This will replaces references to ${VAR} or $VAR with the corresponding
environment variable. The replacement is case-sensitive.

References to undefined variables will be replaced with an empty string. A
default value can be given using form ${VAR:default}.`,
	)

	// Register flags and set default values.
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
			logger.Error("failed to run node", zap.Error(err))
			logger.Sync() //nolint
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting swimrelay node", zap.Any("conf", conf))

	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	n, err := node.NewNode(ctx, conf, logger)
	if err != nil {
		return fmt.Errorf("node: %w", err)
	}
	return n.Run(ctx)
}
