package client

import (
	"github.com/andydunstall/swimrelay/pkg/swim"
)

// Swim queries the membership view of a node.
type Swim struct {
	client *Client
}

func NewSwim(client *Client) *Swim {
	return &Swim{
		client: client,
	}
}

func (c *Swim) Members() ([]swim.Member, error) {
	r, err := c.client.Request("/status/swim/members")
	if err != nil {
		return nil, err
	}
	return decode[[]swim.Member](r)
}

func (c *Swim) Member(id swim.NodeID) (swim.Member, error) {
	r, err := c.client.Request("/status/swim/members/" + id.String())
	if err != nil {
		return swim.Member{}, err
	}
	return decode[swim.Member](r)
}

func (c *Swim) Local() (swim.PeerAddress, error) {
	r, err := c.client.Request("/status/swim/local")
	if err != nil {
		return swim.PeerAddress{}, err
	}
	return decode[swim.PeerAddress](r)
}

func (c *Swim) Status() (swim.Status, error) {
	r, err := c.client.Request("/status/swim/status")
	if err != nil {
		return swim.Status{}, err
	}
	return decode[swim.Status](r)
}

func (c *Swim) ClearTabu() error {
	return c.client.Post("/status/swim/tabu/clear")
}
