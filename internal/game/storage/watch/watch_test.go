package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/chartdetectives/internal/game/session"
	"github.com/louisbranch/chartdetectives/internal/game/storage"
)

func snapshotAt(version uint64) storage.Snapshot {
	return storage.Snapshot{
		Session: session.Session{ID: "sess-1", FacilitatorIdentity: "f@example.com"},
		Version: version,
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	got := make(chan storage.Snapshot, 1)
	cancel := hub.Subscribe("sess-1", snapshotAt(1), func(snap storage.Snapshot) {
		got <- snap
	})
	defer cancel()

	select {
	case snap := <-got:
		if snap.Version != 1 {
			t.Fatalf("initial version = %d, want 1", snap.Version)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initial snapshot was not delivered")
	}
}

func TestNotifyDeliversMonotonicVersions(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	var mu sync.Mutex
	var versions []uint64
	done := make(chan struct{})
	cancel := hub.Subscribe("sess-1", snapshotAt(1), func(snap storage.Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		if snap.Version == 5 {
			close(done)
		}
		mu.Unlock()
	})
	defer cancel()

	for v := uint64(2); v <= 5; v++ {
		hub.Notify("sess-1", snapshotAt(v))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("final snapshot was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("versions not strictly increasing: %v", versions)
		}
	}
	if versions[len(versions)-1] != 5 {
		t.Fatalf("last delivered version = %d, want 5", versions[len(versions)-1])
	}
}

func TestNotifyDropsStaleVersionBehindNewer(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	var mu sync.Mutex
	var versions []uint64
	delivered := make(chan uint64, 8)
	cancel := hub.Subscribe("sess-1", snapshotAt(1), func(snap storage.Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
		delivered <- snap.Version
	})
	defer cancel()

	waitFor := func(want uint64) {
		t.Helper()
		for {
			select {
			case v := <-delivered:
				if v == want {
					return
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("version %d was not delivered", want)
			}
		}
	}
	waitFor(1)

	// A writer that committed version 2 first can still reach the hub after
	// the version-3 writer. The late notification must not be delivered.
	hub.Notify("sess-1", snapshotAt(3))
	waitFor(3)
	hub.Notify("sess-1", snapshotAt(2))
	hub.Notify("sess-1", snapshotAt(4))
	waitFor(4)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("subscriber observed older version after newer: %v", versions)
		}
	}
	for _, v := range versions {
		if v == 2 {
			t.Fatalf("stale version 2 was delivered: %v", versions)
		}
	}
}

func TestSlowSubscriberCoalescesToLatest(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	block := make(chan struct{})
	var mu sync.Mutex
	var versions []uint64
	cancel := hub.Subscribe("sess-1", snapshotAt(1), func(snap storage.Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
		if snap.Version == 1 {
			<-block
		}
	})
	defer cancel()

	// Wait for the initial delivery to start blocking.
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		started := len(versions) > 0
		mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial delivery never started")
		}
		time.Sleep(time.Millisecond)
	}

	for v := uint64(2); v <= 10; v++ {
		hub.Notify("sess-1", snapshotAt(v))
	}
	close(block)

	deadline = time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		last := uint64(0)
		if len(versions) > 0 {
			last = versions[len(versions)-1]
		}
		mu.Unlock()
		if last == 10 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("latest snapshot never arrived, got %v", versions)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(versions) > 3 {
		t.Fatalf("expected coalesced deliveries, got %d: %v", len(versions), versions)
	}
}

func TestCancelStopsDeliveries(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	var mu sync.Mutex
	count := 0
	first := make(chan struct{})
	var firstOnce sync.Once
	cancel := hub.Subscribe("sess-1", snapshotAt(1), func(storage.Snapshot) {
		mu.Lock()
		count++
		mu.Unlock()
		firstOnce.Do(func() { close(first) })
	})

	select {
	case <-first:
	case <-time.After(2 * time.Second):
		t.Fatal("initial snapshot was not delivered")
	}

	cancel()
	hub.Notify("sess-1", snapshotAt(2))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("callbacks after cancel: got %d deliveries, want 1", count)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	cancel := hub.Subscribe("sess-1", snapshotAt(1), func(storage.Snapshot) {})
	cancel()
	cancel()
}
