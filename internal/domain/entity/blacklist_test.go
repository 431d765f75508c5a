package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestBlacklist_AddKeepsLaterExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	account := common.HexToAddress("0xdead000000000000000000000000000000000001")
	b := NewBlacklist()

	b.Add(account, now, 10*time.Minute)
	b.Add(account, now, time.Minute)

	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}
	want := now.Add(10 * time.Minute).UnixMilli()
	if got := b.Entries[account]; got != want {
		t.Errorf("expiry = %d, want %d", got, want)
	}

	b.Add(account, now.Add(5*time.Minute), 10*time.Minute)
	want = now.Add(15 * time.Minute).UnixMilli()
	if got := b.Entries[account]; got != want {
		t.Errorf("expiry after extension = %d, want %d", got, want)
	}
}

func TestBlacklist_ExpiredEntriesAreInert(t *testing.T) {
	now := time.Unix(1700000000, 0)
	expired := common.HexToAddress("0x0000000000000000000000000000000000000001")
	active := common.HexToAddress("0x0000000000000000000000000000000000000002")

	b := NewBlacklist()
	b.Add(expired, now, time.Minute)
	b.Add(active, now, time.Hour)

	later := now.Add(time.Minute)
	if b.Contains(expired, later) {
		t.Error("entry with expiry == now must not be blacklisted")
	}
	if !b.Contains(active, later) {
		t.Error("active entry should be blacklisted")
	}
	if b.Len() != 2 {
		t.Errorf("expired entry pruned before a write: Len = %d", b.Len())
	}

	b.Add(common.HexToAddress("0x03"), later, time.Minute)
	if _, ok := b.Entries[expired]; ok {
		t.Error("expired entry should be pruned on the next write")
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
}

func TestBlacklist_NilAndZeroValue(t *testing.T) {
	var nilList *Blacklist
	if nilList.Contains(common.Address{}, time.Now()) {
		t.Error("nil blacklist should contain nothing")
	}

	var b Blacklist
	b.Add(common.HexToAddress("0x01"), time.Now(), time.Minute)
	if b.Len() != 1 {
		t.Errorf("Len = %d, want 1", b.Len())
	}
}

func TestBlacklist_JSONShape(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	b := NewBlacklist()
	b.Add(account, now, time.Second)

	data, err := json.Marshal(b.Entries)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"0x00000000000000000000000000000000000000aa":1700000001000}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}

	var decoded map[common.Address]int64
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded[account] != 1700000001000 {
		t.Errorf("decoded expiry = %d", decoded[account])
	}
}
