package client

import (
	"github.com/andydunstall/swimrelay/pkg/aggregator"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

// Aggregator queries the reports received by an aggregator.
type Aggregator struct {
	client *Client
}

func NewAggregator(client *Client) *Aggregator {
	return &Aggregator{
		client: client,
	}
}

func (c *Aggregator) Nodes() ([]aggregator.NodeStatus, error) {
	r, err := c.client.Request("/status/aggregator/nodes")
	if err != nil {
		return nil, err
	}
	return decode[[]aggregator.NodeStatus](r)
}

func (c *Aggregator) Node(id swim.NodeID) (aggregator.NodeStatus, error) {
	r, err := c.client.Request("/status/aggregator/nodes/" + id.String())
	if err != nil {
		return aggregator.NodeStatus{}, err
	}
	return decode[aggregator.NodeStatus](r)
}
