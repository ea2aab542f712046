package status

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andydunstall/swimrelay/pkg/aggregator"
	"github.com/andydunstall/swimrelay/pkg/swim"
	"github.com/andydunstall/swimrelay/status/client"
	"github.com/andydunstall/swimrelay/status/config"
)

func newAggregatorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregator",
		Short: "inspect aggregated status reports",
	}

	cmd.AddCommand(newAggregatorNodesCommand())
	cmd.AddCommand(newAggregatorNodeCommand())

	return cmd
}

type aggregatorNodesOutput struct {
	Nodes []aggregator.NodeStatus `json:"nodes"`
}

func newAggregatorNodesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "inspect the reporting nodes",
		Long: `Inspect the reporting nodes.

Queries the aggregator for the latest report from each node.

Examples:
  swimrelay status aggregator nodes --server.url http://localhost:8003
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(&conf)
		defer c.Close()

		nodes, err := client.NewAggregator(c).Nodes()
		if err != nil {
			fmt.Printf("failed to get nodes: %s\n", err.Error())
			os.Exit(1)
		}

		printYAML(aggregatorNodesOutput{
			Nodes: nodes,
		})
	}

	return cmd
}

func newAggregatorNodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Args:  cobra.ExactArgs(1),
		Short: "inspect a reporting node",
		Long: `Inspect a reporting node.

Queries the aggregator for the latest report from the node with the given ID.

Examples:
  swimrelay status aggregator node 3 --server.url http://localhost:8003
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Printf("invalid node id: %s\n", args[0])
			os.Exit(1)
		}

		c := newClient(&conf)
		defer c.Close()

		node, err := client.NewAggregator(c).Node(swim.NodeID(id))
		if err != nil {
			fmt.Printf("failed to get node: %s\n", err.Error())
			os.Exit(1)
		}

		printYAML(node)
	}

	return cmd
}
