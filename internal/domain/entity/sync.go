package entity

import "time"

// ForwardCursor records the highest block the forward scan has covered.
type ForwardCursor struct {
	LastBlock uint64    `json:"lastBlock"`
	UpdatedAt time.Time `json:"updatedAt"`

	// StartBlock is the first block the forward scan covered. The backfill
	// begins below it when no backfill cursor exists yet.
	StartBlock uint64 `json:"startBlock,omitempty"`
}

// BackfillCursor records the lowest block the historical backfill has reached.
type BackfillCursor struct {
	DeepBlock uint64    `json:"deepBlock"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncPointer is the scan position of the discovery scanner.
// A nil cursor means the corresponding scan has not run yet.
//
// Forward.LastBlock only increases. Backfill.DeepBlock only decreases and
// never goes below Floor, the protocol deployment block.
type SyncPointer struct {
	Forward  *ForwardCursor
	Backfill *BackfillCursor
	Floor    uint64
}

// BackfillComplete reports whether the backfill has reached the floor.
func (p SyncPointer) BackfillComplete() bool {
	return p.Backfill != nil && p.Backfill.DeepBlock <= p.Floor
}

// AdvanceForward moves the forward cursor to block. Moves backwards are ignored.
func (p *SyncPointer) AdvanceForward(block uint64, now time.Time) bool {
	if p.Forward != nil && block <= p.Forward.LastBlock {
		return false
	}
	start := block
	if p.Forward != nil {
		start = p.Forward.StartBlock
	}
	p.Forward = &ForwardCursor{LastBlock: block, UpdatedAt: now, StartBlock: start}
	return true
}

// StartForward sets the first forward window [from, to]. It is a no-op once
// a forward cursor exists.
func (p *SyncPointer) StartForward(from, to uint64, now time.Time) bool {
	if p.Forward != nil {
		return false
	}
	p.Forward = &ForwardCursor{LastBlock: to, UpdatedAt: now, StartBlock: from}
	return true
}

// BackfillHead returns the lowest block already covered; the backfill
// continues below it. ok is false before any scan has run.
func (p SyncPointer) BackfillHead() (head uint64, ok bool) {
	if p.Backfill != nil {
		return p.Backfill.DeepBlock, true
	}
	if p.Forward != nil {
		return p.Forward.StartBlock, true
	}
	return 0, false
}

// AdvanceBackfill moves the backfill cursor down to block, clamped at Floor.
// Moves upwards are ignored.
func (p *SyncPointer) AdvanceBackfill(block uint64, now time.Time) bool {
	if block < p.Floor {
		block = p.Floor
	}
	if p.Backfill != nil && block >= p.Backfill.DeepBlock {
		return false
	}
	p.Backfill = &BackfillCursor{DeepBlock: block, UpdatedAt: now}
	return true
}
