package status

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/andydunstall/swimrelay/pkg/swim"
	"github.com/andydunstall/swimrelay/status/client"
	"github.com/andydunstall/swimrelay/status/config"
)

func newSwimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swim",
		Short: "inspect the membership view",
	}

	cmd.AddCommand(newSwimMembersCommand())
	cmd.AddCommand(newSwimMemberCommand())
	cmd.AddCommand(newSwimLocalCommand())
	cmd.AddCommand(newSwimStatusCommand())
	cmd.AddCommand(newSwimClearTabuCommand())

	return cmd
}

type swimMembersOutput struct {
	Members []swim.Member `json:"members"`
}

func newSwimMembersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members",
		Short: "inspect the known members",
		Long: `Inspect the known members.

Queries the node for every member in its membership view, including dead
members.

Examples:
  swimrelay status swim members
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(&conf)
		defer c.Close()

		members, err := client.NewSwim(c).Members()
		if err != nil {
			fmt.Printf("failed to get members: %s\n", err.Error())
			os.Exit(1)
		}

		printYAML(swimMembersOutput{
			Members: members,
		})
	}

	return cmd
}

func newSwimMemberCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "member",
		Args:  cobra.ExactArgs(1),
		Short: "inspect a member",
		Long: `Inspect a member.

Queries the node for the state of the member with the given ID.

Examples:
  swimrelay status swim member 3
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			fmt.Printf("invalid member id: %s\n", args[0])
			os.Exit(1)
		}

		c := newClient(&conf)
		defer c.Close()

		member, err := client.NewSwim(c).Member(swim.NodeID(id))
		if err != nil {
			fmt.Printf("failed to get member: %s\n", err.Error())
			os.Exit(1)
		}

		printYAML(member)
	}

	return cmd
}

func newSwimLocalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local",
		Short: "inspect the local address",
		Long: `Inspect the local address.

Queries the node for its own address, including its current parents if the
node is nated.

Examples:
  swimrelay status swim local
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(&conf)
		defer c.Close()

		addr, err := client.NewSwim(c).Local()
		if err != nil {
			fmt.Printf("failed to get local address: %s\n", err.Error())
			os.Exit(1)
		}

		printYAML(addr)
	}

	return cmd
}

func newSwimStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "inspect the node status",
		Long: `Inspect the node status.

Queries the node for the same status it reports to the aggregator.

Examples:
  swimrelay status swim status
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(&conf)
		defer c.Close()

		status, err := client.NewSwim(c).Status()
		if err != nil {
			fmt.Printf("failed to get status: %s\n", err.Error())
			os.Exit(1)
		}

		printYAML(status)
	}

	return cmd
}

func newSwimClearTabuCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear-tabu",
		Short: "clear the parent history",
		Long: `Clear the parent history.

A nated node never reselects a parent it has previously dropped. Clearing the
history lets the node select those parents again.

Examples:
  swimrelay status swim clear-tabu
`,
	}

	var conf config.Config
	conf.RegisterFlags(cmd.Flags())

	cmd.Run = func(cmd *cobra.Command, args []string) {
		c := newClient(&conf)
		defer c.Close()

		if err := client.NewSwim(c).ClearTabu(); err != nil {
			fmt.Printf("failed to clear tabu: %s\n", err.Error())
			os.Exit(1)
		}
	}

	return cmd
}
