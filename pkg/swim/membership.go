package swim

import (
	"fmt"
	"math/rand"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemberState is the local view of a members liveness.
type MemberState int

const (
	MemberStateAlive MemberState = iota
	MemberStateSuspected
	MemberStateDead
)

func (s MemberState) String() string {
	switch s {
	case MemberStateAlive:
		return "alive"
	case MemberStateSuspected:
		return "suspected"
	case MemberStateDead:
		return "dead"
	default:
		return "unknown"
	}
}

func (s MemberState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MemberState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "alive":
		*s = MemberStateAlive
	case "suspected":
		*s = MemberStateSuspected
	case "dead":
		*s = MemberStateDead
	default:
		return fmt.Errorf("unknown member state: %s", string(b))
	}
	return nil
}

// Member is a snapshot of a member record.
type Member struct {
	Address     PeerAddress `json:"address"`
	State       MemberState `json:"state"`
	Incarnation uint64      `json:"incarnation"`
}

type memberRecord struct {
	addr        PeerAddress
	suspected   bool
	dead        bool
	incarnation uint64
}

func (r *memberRecord) state() MemberState {
	switch {
	case r.dead:
		return MemberStateDead
	case r.suspected:
		return MemberStateSuspected
	default:
		return MemberStateAlive
	}
}

// membershipTable is the local view of every known remote node.
//
// Each record holds the nodes address, whether it is suspected or dead, and
// the incarnation the current state was observed at. Dead records are
// retained so late or duplicate gossip about a dead incarnation is rejected.
// The local node is never a member.
//
// membershipTable is not thread safe and is owned by the event loop.
type membershipTable struct {
	localID NodeID

	members map[NodeID]*memberRecord
	// ids contains the member IDs in insertion order so random selection is
	// reproducible given a seeded source.
	ids []NodeID

	// tabu contains, for each target, the parents that have already been
	// added to or removed from the targets address. A tabu parent is never
	// re-added to the target until the cache is cleared or the entry is
	// evicted.
	tabu *lru.Cache[NodeID, map[NodeID]struct{}]

	rand *rand.Rand

	watcher Watcher
}

func newMembershipTable(
	localID NodeID,
	tabuSize int,
	rand *rand.Rand,
	watcher Watcher,
) (*membershipTable, error) {
	tabu, err := lru.New[NodeID, map[NodeID]struct{}](tabuSize)
	if err != nil {
		return nil, fmt.Errorf("tabu cache: %w", err)
	}
	if watcher == nil {
		watcher = newNopWatcher()
	}
	return &membershipTable{
		localID: localID,
		members: make(map[NodeID]*memberRecord),
		tabu:    tabu,
		rand:    rand,
		watcher: watcher,
	}, nil
}

// Add adds an unknown node as alive, or resurrects a dead node when the
// given incarnation is newer than the one it was declared dead at. Returns
// whether the table changed.
func (t *membershipTable) Add(addr PeerAddress, incarnation uint64) bool {
	if addr.ID == t.localID {
		return false
	}

	r, ok := t.members[addr.ID]
	if !ok {
		t.members[addr.ID] = &memberRecord{
			addr:        addr.Clone(),
			incarnation: incarnation,
		}
		t.ids = append(t.ids, addr.ID)
		t.watcher.OnJoin(addr.Clone())
		return true
	}

	if r.dead && r.incarnation < incarnation {
		r.addr = addr.Clone()
		r.dead = false
		r.suspected = false
		r.incarnation = incarnation
		t.watcher.OnJoin(addr.Clone())
		return true
	}

	return false
}

// Remove declares the node dead if it is known, not already dead and the
// given incarnation is at least the current one.
func (t *membershipTable) Remove(addr PeerAddress, incarnation uint64) bool {
	r, ok := t.members[addr.ID]
	if !ok || r.dead || r.incarnation > incarnation {
		return false
	}

	r.addr = addr.Clone()
	r.dead = true
	r.suspected = false
	r.incarnation = incarnation
	t.watcher.OnDead(addr.ID)
	return true
}

// SuspectNode marks an alive node as suspected if the given incarnation is
// strictly newer than the current one.
func (t *membershipTable) SuspectNode(id NodeID, incarnation uint64) bool {
	r, ok := t.members[id]
	if !ok || r.dead || r.suspected || r.incarnation >= incarnation {
		return false
	}

	r.suspected = true
	r.incarnation = incarnation
	t.watcher.OnSuspect(id)
	return true
}

// UnsuspectNode clears the suspicion of a node if the given incarnation is
// strictly newer than the current one.
func (t *membershipTable) UnsuspectNode(id NodeID, incarnation uint64) bool {
	r, ok := t.members[id]
	if !ok || r.dead || !r.suspected || r.incarnation >= incarnation {
		return false
	}

	r.suspected = false
	r.incarnation = incarnation
	t.watcher.OnAlive(id)
	return true
}

// Contains returns whether the node is known and not dead.
func (t *membershipTable) Contains(id NodeID) bool {
	r, ok := t.members[id]
	return ok && !r.dead
}

func (t *membershipTable) IsSuspected(id NodeID) bool {
	r, ok := t.members[id]
	return ok && !r.dead && r.suspected
}

func (t *membershipTable) IsDead(id NodeID) bool {
	r, ok := t.members[id]
	return ok && r.dead
}

func (t *membershipTable) Incarnation(id NodeID) (uint64, bool) {
	r, ok := t.members[id]
	if !ok {
		return 0, false
	}
	return r.incarnation, true
}

// Address returns a copy of the stored address of the node.
func (t *membershipTable) Address(id NodeID) (PeerAddress, bool) {
	r, ok := t.members[id]
	if !ok {
		return PeerAddress{}, false
	}
	return r.addr.Clone(), true
}

// Size returns the number of non-dead members.
func (t *membershipTable) Size() int {
	n := 0
	for _, r := range t.members {
		if !r.dead {
			n++
		}
	}
	return n
}

// RandomNode returns a uniformly random non-dead member, or false if there
// are none.
func (t *membershipTable) RandomNode() (PeerAddress, bool) {
	alive := t.alive(nil)
	if len(alive) == 0 {
		return PeerAddress{}, false
	}
	return alive[t.rand.Intn(len(alive))].addr.Clone(), true
}

// SelectRandom returns k distinct random non-dead members, excluding the
// given IDs. Returns ErrInsufficientPeers if fewer than k are eligible.
func (t *membershipTable) SelectRandom(k int, exclude ...NodeID) ([]PeerAddress, error) {
	excluded := make(map[NodeID]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	eligible := t.alive(excluded)
	if len(eligible) < k {
		return nil, fmt.Errorf("select %d: %d eligible: %w", k, len(eligible), ErrInsufficientPeers)
	}

	// Partial Fisher-Yates shuffle of the first k entries.
	selected := make([]PeerAddress, 0, k)
	for i := 0; i != k; i++ {
		j := i + t.rand.Intn(len(eligible)-i)
		eligible[i], eligible[j] = eligible[j], eligible[i]
		selected = append(selected, eligible[i].addr.Clone())
	}
	return selected, nil
}

// UpdateNewParents adds the parent to the targets stored address, unless the
// parent was already applied to the target or the target is unknown.
func (t *membershipTable) UpdateNewParents(target NodeID, parent PeerAddress) bool {
	if t.isTabu(target, parent.ID) {
		return false
	}
	r, ok := t.members[target]
	if !ok || r.addr.HasParent(parent.ID) {
		return false
	}

	r.addr = r.addr.WithParent(parent)
	t.addTabu(target, parent.ID)
	return true
}

// UpdateDeadParents removes the parent from the targets stored address. The
// parent is recorded as tabu for the target so it is not re-added by stale
// gossip.
func (t *membershipTable) UpdateDeadParents(target NodeID, parent PeerAddress) bool {
	r, ok := t.members[target]
	if !ok || !r.addr.HasParent(parent.ID) {
		return false
	}

	r.addr = r.addr.WithoutParent(parent.ID)
	t.addTabu(target, parent.ID)
	return true
}

// ClearTabu forgets every recorded parent update, so parents may be applied
// again.
func (t *membershipTable) ClearTabu() {
	t.tabu.Purge()
}

// Members returns a snapshot of every record, including dead records, in
// insertion order.
func (t *membershipTable) Members() []Member {
	members := make([]Member, 0, len(t.ids))
	for _, id := range t.ids {
		r := t.members[id]
		members = append(members, Member{
			Address:     r.addr.Clone(),
			State:       r.state(),
			Incarnation: r.incarnation,
		})
	}
	return members
}

func (t *membershipTable) alive(exclude map[NodeID]struct{}) []*memberRecord {
	var alive []*memberRecord
	for _, id := range t.ids {
		if _, ok := exclude[id]; ok {
			continue
		}
		r := t.members[id]
		if r.dead {
			continue
		}
		alive = append(alive, r)
	}
	return alive
}

func (t *membershipTable) isTabu(target NodeID, parent NodeID) bool {
	parents, ok := t.tabu.Get(target)
	if !ok {
		return false
	}
	_, ok = parents[parent]
	return ok
}

func (t *membershipTable) addTabu(target NodeID, parent NodeID) {
	parents, ok := t.tabu.Get(target)
	if !ok {
		parents = make(map[NodeID]struct{})
		t.tabu.Add(target, parents)
	}
	parents[parent] = struct{}{}
}
