package swim

import (
	"fmt"
	"sort"
)

// RecordKind is the kind of membership change a piggyback record carries.
type RecordKind uint8

const (
	RecordKindNewNode RecordKind = iota + 1
	RecordKindDeadNode
	RecordKindAliveNode
	RecordKindSuspectedNode
	RecordKindNewParent
	RecordKindDeadParent
)

func (k RecordKind) String() string {
	switch k {
	case RecordKindNewNode:
		return "new-node"
	case RecordKindDeadNode:
		return "dead-node"
	case RecordKindAliveNode:
		return "alive-node"
	case RecordKindSuspectedNode:
		return "suspected-node"
	case RecordKindNewParent:
		return "new-parent"
	case RecordKindDeadParent:
		return "dead-parent"
	default:
		return "unknown"
	}
}

// Record is a membership change disseminated by piggybacking on acks.
type Record struct {
	Kind        RecordKind  `json:"kind" codec:"kind"`
	Target      PeerAddress `json:"target" codec:"target"`
	Incarnation uint64      `json:"incarnation" codec:"incarnation"`
	// Parent is set for new-parent and dead-parent records.
	Parent *PeerAddress `json:"parent,omitempty" codec:"parent,omitempty"`
}

func (r Record) String() string {
	if r.Parent != nil {
		return fmt.Sprintf("%s(%s, %d, %s)", r.Kind, r.Target, r.Incarnation, r.Parent)
	}
	return fmt.Sprintf("%s(%s, %d)", r.Kind, r.Target, r.Incarnation)
}

type recordKey struct {
	kind        RecordKind
	target      NodeID
	incarnation uint64
	parent      NodeID
	hasParent   bool
}

func keyOf(r Record) recordKey {
	k := recordKey{
		kind:        r.Kind,
		target:      r.Target.ID,
		incarnation: r.Incarnation,
	}
	if r.Parent != nil {
		k.parent = r.Parent.ID
		k.hasParent = true
	}
	return k
}

type piggybackEntry struct {
	record    Record
	remaining int
	// seq orders entries by insertion.
	seq uint64
}

// piggybackBuffer is a bounded set of records awaiting dissemination, each
// with a remaining gossip count.
//
// Every probe received decrements every count, and records whose count
// reaches zero are dropped. When full, adding a new record evicts the record
// with the lowest remaining count (the most disseminated).
type piggybackBuffer struct {
	entries map[recordKey]*piggybackEntry
	maxSize int
	nextSeq uint64
}

func newPiggybackBuffer(maxSize int) *piggybackBuffer {
	return &piggybackBuffer{
		entries: make(map[recordKey]*piggybackEntry),
		maxSize: maxSize,
	}
}

// Add inserts the record with the given gossip count. Re-adding an identical
// record resets its count.
func (b *piggybackBuffer) Add(r Record, count int) {
	if count <= 0 {
		return
	}

	key := keyOf(r)
	if e, ok := b.entries[key]; ok {
		e.record = r
		e.remaining = count
		return
	}

	if len(b.entries) >= b.maxSize {
		b.evict()
	}

	b.nextSeq++
	b.entries[key] = &piggybackEntry{
		record:    r,
		remaining: count,
		seq:       b.nextSeq,
	}
}

// Decrement decrements the count of every record, dropping those that reach
// zero.
func (b *piggybackBuffer) Decrement() {
	for key, e := range b.entries {
		e.remaining--
		if e.remaining <= 0 {
			delete(b.entries, key)
		}
	}
}

// Records returns a snapshot of the buffered records, least disseminated
// first, so truncated packets carry the freshest changes.
func (b *piggybackBuffer) Records() []Record {
	entries := b.sorted()
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.record)
	}
	return records
}

// Counts returns the number of buffered records of each kind.
func (b *piggybackBuffer) Counts() map[RecordKind]int {
	counts := make(map[RecordKind]int)
	for _, e := range b.entries {
		counts[e.record.Kind]++
	}
	return counts
}

func (b *piggybackBuffer) Len() int {
	return len(b.entries)
}

// remaining returns the remaining count of the record, or zero if the record
// is not buffered.
func (b *piggybackBuffer) remaining(r Record) int {
	e, ok := b.entries[keyOf(r)]
	if !ok {
		return 0
	}
	return e.remaining
}

func (b *piggybackBuffer) evict() {
	var victim *piggybackEntry
	var victimKey recordKey
	for key, e := range b.entries {
		if victim == nil ||
			e.remaining < victim.remaining ||
			(e.remaining == victim.remaining && e.seq < victim.seq) {
			victim = e
			victimKey = key
		}
	}
	if victim != nil {
		delete(b.entries, victimKey)
	}
}

func (b *piggybackBuffer) sorted() []*piggybackEntry {
	entries := make([]*piggybackEntry, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].remaining != entries[j].remaining {
			return entries[i].remaining > entries[j].remaining
		}
		return entries[i].seq < entries[j].seq
	})
	return entries
}
