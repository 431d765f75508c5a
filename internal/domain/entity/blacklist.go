package entity

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Blacklist holds accounts temporarily excluded from evaluation and execution.
// Values are expiry times in milliseconds since the epoch. An entry whose
// expiry is at or before now is inert and is dropped on the next write.
type Blacklist struct {
	Entries map[common.Address]int64
}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{Entries: make(map[common.Address]int64)}
}

// Add excludes account until now+cooldown. Adding an account already present
// keeps the later of the two expiries.
func (b *Blacklist) Add(account common.Address, now time.Time, cooldown time.Duration) {
	if b.Entries == nil {
		b.Entries = make(map[common.Address]int64)
	}
	b.Prune(now)
	expiry := now.Add(cooldown).UnixMilli()
	if current, ok := b.Entries[account]; ok && current >= expiry {
		return
	}
	b.Entries[account] = expiry
}

// Contains reports whether account is excluded at now.
func (b *Blacklist) Contains(account common.Address, now time.Time) bool {
	if b == nil {
		return false
	}
	expiry, ok := b.Entries[account]
	return ok && expiry > now.UnixMilli()
}

// Prune drops expired entries and returns how many were removed.
func (b *Blacklist) Prune(now time.Time) int {
	nowMs := now.UnixMilli()
	removed := 0
	for account, expiry := range b.Entries {
		if expiry <= nowMs {
			delete(b.Entries, account)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet pruned.
func (b *Blacklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Entries)
}
