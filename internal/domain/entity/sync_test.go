package entity

import (
	"testing"
	"time"
)

func TestSyncPointer_AdvanceForwardIsMonotonic(t *testing.T) {
	now := time.Unix(1700000000, 0)
	var p SyncPointer

	if !p.AdvanceForward(100, now) {
		t.Fatal("first AdvanceForward should move the cursor")
	}
	if p.AdvanceForward(90, now) {
		t.Error("AdvanceForward to a lower block should be ignored")
	}
	if p.AdvanceForward(100, now) {
		t.Error("AdvanceForward to the same block should be ignored")
	}
	if p.Forward.LastBlock != 100 {
		t.Errorf("LastBlock = %d, want 100", p.Forward.LastBlock)
	}
	if !p.AdvanceForward(150, now.Add(time.Second)) {
		t.Error("AdvanceForward to a higher block should move the cursor")
	}
	if p.Forward.LastBlock != 150 {
		t.Errorf("LastBlock = %d, want 150", p.Forward.LastBlock)
	}
}

func TestSyncPointer_AdvanceBackfillClampsAtFloor(t *testing.T) {
	now := time.Unix(1700000000, 0)
	p := SyncPointer{Floor: 1000}

	if !p.AdvanceBackfill(5000, now) {
		t.Fatal("first AdvanceBackfill should move the cursor")
	}
	if p.AdvanceBackfill(6000, now) {
		t.Error("AdvanceBackfill to a higher block should be ignored")
	}
	if p.BackfillComplete() {
		t.Error("BackfillComplete = true before reaching the floor")
	}
	if !p.AdvanceBackfill(10, now) {
		t.Fatal("AdvanceBackfill below the floor should clamp, not be ignored")
	}
	if p.Backfill.DeepBlock != 1000 {
		t.Errorf("DeepBlock = %d, want 1000", p.Backfill.DeepBlock)
	}
	if !p.BackfillComplete() {
		t.Error("BackfillComplete = false at the floor")
	}
	if p.AdvanceBackfill(999, now) {
		t.Error("AdvanceBackfill past a completed backfill should be ignored")
	}
}

func TestSyncPointer_BackfillCompleteUnset(t *testing.T) {
	p := SyncPointer{Floor: 0}
	if p.BackfillComplete() {
		t.Error("BackfillComplete = true with no backfill cursor")
	}
}

func TestSyncPointer_BackfillHeadFollowsForwardStart(t *testing.T) {
	now := time.Now()
	p := SyncPointer{Floor: 100}

	if _, ok := p.BackfillHead(); ok {
		t.Fatal("empty pointer should have no backfill head")
	}
	if !p.StartForward(5_000, 5_999, now) {
		t.Fatal("StartForward on empty pointer should succeed")
	}
	if p.StartForward(1, 2, now) {
		t.Error("second StartForward should be ignored")
	}
	p.AdvanceForward(7_000, now)
	if head, ok := p.BackfillHead(); !ok || head != 5_000 {
		t.Errorf("BackfillHead = %d, %v; want 5000 from forward start", head, ok)
	}

	p.AdvanceBackfill(4_000, now)
	if head, _ := p.BackfillHead(); head != 4_000 {
		t.Errorf("BackfillHead = %d, want backfill cursor 4000", head)
	}
}
