package entity

import (
	"math/big"
	"sync"
	"time"
)

// NonceClock hands out order nonces: the current time in milliseconds,
// bumped so every value is strictly greater than the previous one.
type NonceClock struct {
	mu   sync.Mutex
	last int64
}

// Next returns the nonce for now.
func (c *NonceClock) Next(now time.Time) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := now.UnixMilli()
	if n <= c.last {
		n = c.last + 1
	}
	c.last = n
	return big.NewInt(n)
}
