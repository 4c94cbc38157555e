package orderbook

// SequenceCheck is the verdict of a SequenceGuard on one diff batch.
type SequenceCheck int

const (
	// SequenceApply means the batch continues the stream.
	SequenceApply SequenceCheck = iota
	// SequenceStale means every update in the batch is already reflected.
	SequenceStale
	// SequenceGap means at least one update was missed; resync from a snapshot.
	SequenceGap
)

func (c SequenceCheck) String() string {
	switch c {
	case SequenceApply:
		return "apply"
	case SequenceStale:
		return "stale"
	default:
		return "gap"
	}
}

// SequenceGuard tracks venue update ids for one book, for feeds that label
// each diff batch with its first and last update id. Books never check
// ordering themselves; callers consult a guard before applying.
//
// A guard is not safe for concurrent use.
type SequenceGuard struct {
	lastID uint64
	synced bool
}

// Reset anchors the guard at the update id of a freshly applied snapshot.
func (g *SequenceGuard) Reset(lastID uint64) {
	g.lastID = lastID
	g.synced = true
}

// Invalidate forces the next check to report a gap.
func (g *SequenceGuard) Invalidate() {
	g.synced = false
}

func (g *SequenceGuard) Synced() bool { return g.synced }

func (g *SequenceGuard) LastID() uint64 { return g.lastID }

// Check classifies a batch covering ids [first, last]. A batch that overlaps
// the last applied id is accepted, since venues may resend the boundary.
func (g *SequenceGuard) Check(first, last uint64) SequenceCheck {
	switch {
	case !g.synced:
		return SequenceGap
	case last <= g.lastID:
		return SequenceStale
	case first > g.lastID+1:
		return SequenceGap
	default:
		return SequenceApply
	}
}

// Advance records that the batch ending at last has been applied.
func (g *SequenceGuard) Advance(last uint64) {
	if last > g.lastID {
		g.lastID = last
	}
}
