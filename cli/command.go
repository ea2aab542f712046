package cli

import (
	"github.com/spf13/cobra"

	"github.com/andydunstall/swimrelay/cli/aggregator"
	"github.com/andydunstall/swimrelay/cli/node"
	"github.com/andydunstall/swimrelay/cli/status"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "swimrelay [command] (flags)",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Long: `swimrelay is a SWIM failure detector and membership protocol for
clusters where some nodes are behind a NAT.

Each node keeps an eventually consistent view of which nodes are alive,
suspected or dead by periodically probing a random member, asking other
members to probe on its behalf when a probe times out, and gossiping changes
on the probe acks.

Nodes behind a NAT can't be reached directly, so route their traffic through
a small set of publicly reachable parent nodes.

Start a node with:

  $ swimrelay node --node.id 1

Join an existing cluster with:

  $ swimrelay node --node.id 2 --cluster.join 1@10.26.104.14:7946

You can inspect the status of a node using:

  $ swimrelay status swim members

Nodes can report their status to an aggregator, started with:

  $ swimrelay aggregator
`,
	}

	cmd.AddCommand(node.NewCommand())
	cmd.AddCommand(aggregator.NewCommand())
	cmd.AddCommand(status.NewCommand())

	return cmd
}

func init() {
	cobra.EnableCommandSorting = false
}
