package sentry

import (
	"bytes"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
)

// Phase is the scheduler's position in its cycle.
type Phase string

const (
	PhaseIdle     Phase = "IDLE"
	PhaseDiscover Phase = "DISCOVER"
	PhaseEvaluate Phase = "EVALUATE"
	PhasePublish  Phase = "PUBLISH"
	PhaseSleep    Phase = "SLEEP"
)

// State is everything the scheduler carries from one cycle to the next.
// It is owned by a single loop and passed into Step by pointer.
type State struct {
	Phase Phase
	Cycle uint64

	// Universe is the last loaded universe. Nil until the first reload.
	Universe *entity.UniverseSet

	// Cursor is the rotation offset into Universe.
	Cursor int

	// Priority maps at-risk accounts to their last health factor.
	Priority map[common.Address]decimal.Decimal

	// LastCycleAt is when the last PUBLISH finished.
	LastCycleAt time.Time
}

// NewState returns the initial state.
func NewState() *State {
	return &State{
		Phase:    PhaseIdle,
		Priority: make(map[common.Address]decimal.Decimal),
	}
}

// PriorityAccounts returns the priority set in a stable order.
func (s *State) PriorityAccounts() []common.Address {
	out := make([]common.Address, 0, len(s.Priority))
	for a := range s.Priority {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// updatePriority applies one evaluation to the priority set. Nil snapshots
// leave membership unchanged.
func (s *State) updatePriority(snapshots map[common.Address]*entity.HealthSnapshot, warning decimal.Decimal) (added, evicted int) {
	for account, snap := range snapshots {
		if snap == nil {
			continue
		}
		_, member := s.Priority[account]
		if snap.HasDebt() && snap.HealthFactor.LessThan(warning) {
			if !member {
				added++
			}
			s.Priority[account] = snap.HealthFactor
			continue
		}
		if member {
			delete(s.Priority, account)
			evicted++
		}
	}
	return added, evicted
}
