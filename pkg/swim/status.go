package swim

// Status is a periodic summary of a nodes local view, sent to the status
// aggregator.
type Status struct {
	NodeID NodeID `json:"node_id" codec:"node_id"`
	// RunID identifies the process run, so restarts of the same node ID can
	// be told apart.
	RunID string `json:"run_id" codec:"run_id"`

	// Members is the number of non-dead members in the local view.
	Members int `json:"members" codec:"members"`

	// Counts of buffered piggyback records by kind.
	NewNode    int `json:"new_node" codec:"new_node"`
	DeadNode   int `json:"dead_node" codec:"dead_node"`
	AliveNode  int `json:"alive_node" codec:"alive_node"`
	Suspected  int `json:"suspected" codec:"suspected"`
	NewParent  int `json:"new_parent" codec:"new_parent"`
	DeadParent int `json:"dead_parent" codec:"dead_parent"`

	Incarnation uint64 `json:"incarnation" codec:"incarnation"`

	// Parents is the number of parents of a nated node.
	Parents int `json:"parents" codec:"parents"`
}

func newStatus(
	localID NodeID,
	runID string,
	members int,
	counts map[RecordKind]int,
	incarnation uint64,
	parents int,
) *Status {
	return &Status{
		NodeID:      localID,
		RunID:       runID,
		Members:     members,
		NewNode:     counts[RecordKindNewNode],
		DeadNode:    counts[RecordKindDeadNode],
		AliveNode:   counts[RecordKindAliveNode],
		Suspected:   counts[RecordKindSuspectedNode],
		NewParent:   counts[RecordKindNewParent],
		DeadParent:  counts[RecordKindDeadParent],
		Incarnation: incarnation,
		Parents:     parents,
	}
}
