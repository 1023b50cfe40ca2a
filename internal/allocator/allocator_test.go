package allocator

import "testing"

func liveSet(ids ...uint32) func(uint32) bool {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id uint32) bool {
		_, ok := set[id]
		return ok
	}
}

func TestAllocStartsAtZero(t *testing.T) {
	var a IDs
	id, err := a.Alloc(liveSet())
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first id 0, got %d", id)
	}
}

func TestAllocSkipsLiveIDs(t *testing.T) {
	var a IDs
	id, err := a.Alloc(liveSet(0, 1, 2))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id != 3 {
		t.Fatalf("expected id 3, got %d", id)
	}
}

func TestAllocAdvancesNext(t *testing.T) {
	var a IDs
	first, err := a.Alloc(liveSet())
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	// Simulate the id becoming live once handed out, as the session would.
	second, err := a.Alloc(liveSet(first))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected sequential id %d, got %d", first+1, second)
	}
}

func TestAllocDoesNotReuseFreedIDImmediately(t *testing.T) {
	var a IDs
	live := liveSet(0, 1, 2)
	id, err := a.Alloc(live)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id != 3 {
		t.Fatalf("expected id 3, got %d", id)
	}
	// id 1 is freed; the next allocation should not reuse it immediately
	// because next already advanced past it, and it should not be reused
	// until the counter wraps back around.
	id2, err := a.Alloc(liveSet(0, 2, 3))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id2 != 4 {
		t.Fatalf("expected id 4, got %d", id2)
	}
}

func TestAllocWrapsAtUint32Max(t *testing.T) {
	a := IDs{next: ^uint32(0)}
	id, err := a.Alloc(liveSet())
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id != ^uint32(0) {
		t.Fatalf("expected max uint32, got %d", id)
	}
	id2, err := a.Alloc(liveSet(^uint32(0)))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id2 != 0 {
		t.Fatalf("expected wraparound to 0, got %d", id2)
	}
}

func TestAllocProbesPastWrapBoundary(t *testing.T) {
	a := IDs{next: ^uint32(0) - 1}
	// max-1 and max are live; only 0 is free, requiring the probe to wrap.
	id, err := a.Alloc(liveSet(^uint32(0)-1, ^uint32(0)))
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected wraparound id 0, got %d", id)
	}
}
