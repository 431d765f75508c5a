package entity

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// UniverseSet is the ordered, append-only set of every account ever seen
// interacting with the pool. It never shrinks.
type UniverseSet struct {
	members []common.Address
	index   map[common.Address]struct{}
}

// NewUniverseSet builds a set from addrs, dropping duplicates and keeping first-seen order.
func NewUniverseSet(addrs ...common.Address) *UniverseSet {
	u := &UniverseSet{index: make(map[common.Address]struct{}, len(addrs))}
	u.Union(addrs...)
	return u
}

// Union adds addrs to the set and returns how many were new.
func (u *UniverseSet) Union(addrs ...common.Address) int {
	if u.index == nil {
		u.index = make(map[common.Address]struct{}, len(addrs))
	}
	added := 0
	for _, addr := range addrs {
		if _, ok := u.index[addr]; ok {
			continue
		}
		u.index[addr] = struct{}{}
		u.members = append(u.members, addr)
		added++
	}
	return added
}

// Contains reports whether addr is in the set.
func (u *UniverseSet) Contains(addr common.Address) bool {
	_, ok := u.index[addr]
	return ok
}

// Len returns the number of members.
func (u *UniverseSet) Len() int {
	return len(u.members)
}

// Members returns a copy of the members in insertion order.
func (u *UniverseSet) Members() []common.Address {
	out := make([]common.Address, len(u.members))
	copy(out, u.members)
	return out
}

// Chunk returns up to size members starting at cursor, wrapping around the end,
// along with the cursor for the next call.
func (u *UniverseSet) Chunk(cursor, size int) ([]common.Address, int) {
	n := len(u.members)
	if n == 0 || size <= 0 {
		return nil, 0
	}
	if size > n {
		size = n
	}
	cursor %= n
	if cursor < 0 {
		cursor += n
	}
	out := make([]common.Address, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, u.members[(cursor+i)%n])
	}
	return out, (cursor + size) % n
}

func (u *UniverseSet) MarshalJSON() ([]byte, error) {
	if u.members == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(u.members)
}

func (u *UniverseSet) UnmarshalJSON(data []byte) error {
	var addrs []common.Address
	if err := json.Unmarshal(data, &addrs); err != nil {
		return err
	}
	*u = UniverseSet{}
	u.Union(addrs...)
	return nil
}
