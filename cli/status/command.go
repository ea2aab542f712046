package status

import (
	"fmt"
	"net/url"
	"os"

	yaml "github.com/goccy/go-yaml"
	"github.com/spf13/cobra"

	"github.com/andydunstall/swimrelay/status/client"
	"github.com/andydunstall/swimrelay/status/config"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect node status",
		Long: `Inspect node status.

Each node and aggregator exposes a status API on its admin port, this can be
used to answer questions such as:
* Which members does this node know about, and which are suspected?
* What are the parents of this nated node?
* What status reports has the aggregator received?

See 'status --help' for the availale commands.

Examples:
  # Inspect the members known by the node.
  swimrelay status swim members

  # Inspect the local address of node 10.26.104.56:8002.
  swimrelay status swim local --server.url http://10.26.104.56:8002

  # Inspect the reports received by the aggregator.
  swimrelay status aggregator nodes --server.url http://10.26.104.20:8003
`,
	}

	cmd.AddCommand(newSwimCommand())
	cmd.AddCommand(newAggregatorCommand())

	return cmd
}

// newClient validates the config and returns a client of the configured
// server. Exits if the config is invalid.
func newClient(conf *config.Config) *client.Client {
	if err := conf.Validate(); err != nil {
		fmt.Printf("invalid config: %s\n", err.Error())
		os.Exit(1)
	}

	tlsConfig, err := conf.Server.TLS.Load()
	if err != nil {
		fmt.Printf("invalid config: tls: %s\n", err.Error())
		os.Exit(1)
	}

	// The URL has already been validated in conf.
	url, _ := url.Parse(conf.Server.URL)
	return client.NewClient(url, conf.Server.Timeout, tlsConfig)
}

func printYAML(v any) {
	b, err := yaml.Marshal(v)
	if err != nil {
		fmt.Printf("failed to encode output: %s\n", err.Error())
		os.Exit(1)
	}
	fmt.Println(string(b))
}
