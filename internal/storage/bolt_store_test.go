package storage

import (
	"path/filepath"
	"testing"
	"time"
)

// fakeClock is advanced manually by tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBoltStoreMarksAndExpiresItems(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store, err := openBolt(filepath.Join(t.TempDir(), "cache.db"), Options{
		ItemTTL:         time.Minute,
		CleanupInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer store.Close()
	store.now = clock.Now

	seen, err := store.SeenItem("id1")
	if err != nil || seen {
		t.Fatalf("expected unseen item, seen=%v err=%v", seen, err)
	}

	if err := store.MarkItem("id1"); err != nil {
		t.Fatalf("MarkItem: %v", err)
	}

	seen, err = store.SeenItem("id1")
	if err != nil || !seen {
		t.Fatalf("expected item marked as seen, got seen=%v err=%v", seen, err)
	}

	clock.Advance(2 * time.Minute)
	seen, err = store.SeenItem("id1")
	if err != nil {
		t.Fatalf("SeenItem after expiry: %v", err)
	}
	if seen {
		t.Fatalf("expected entry to expire")
	}
	if n, _ := store.count(); n != 0 {
		t.Fatalf("expired entry should be deleted on read, %d keys left", n)
	}
}

func TestBoltStoreSweepsExpiredKeys(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store, err := openBolt(filepath.Join(t.TempDir(), "nested", "cache.db"), Options{
		ItemTTL:         time.Minute,
		CleanupInterval: 10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	defer store.Close()
	store.now = clock.Now
	store.lastCleanup.Store(clock.Now().Unix())

	for _, id := range []string{"a", "b", "c"} {
		if err := store.MarkItem(id); err != nil {
			t.Fatalf("MarkItem(%s): %v", id, err)
		}
	}

	clock.Advance(11 * time.Minute)
	if err := store.MarkItem("fresh"); err != nil {
		t.Fatalf("MarkItem(fresh): %v", err)
	}
	if n, err := store.count(); err != nil || n != 1 {
		t.Fatalf("expected only the fresh key after sweep, got %d (err=%v)", n, err)
	}
}

func TestBoltStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	first, err := openBolt(path, normalizeOptions(Options{}))
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}
	if err := first.MarkItem("kept"); err != nil {
		t.Fatalf("MarkItem: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := NewStore("bbolt", path, Options{})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer second.Close()
	if seen, err := second.SeenItem("kept"); err != nil || !seen {
		t.Fatalf("expected key to survive reopen, seen=%v err=%v", seen, err)
	}
}

func TestNewStoreSupportsNoop(t *testing.T) {
	store, err := NewStore("none", "", Options{})
	if err != nil {
		t.Fatalf("NewStore none: %v", err)
	}
	if err := store.MarkItem("x"); err != nil {
		t.Fatalf("noop store MarkItem: %v", err)
	}
	if seen, _ := store.SeenItem("x"); seen {
		t.Fatalf("noop store must never report seen")
	}
}

func TestNewStoreRejectsUnknownTypeAndMissingPath(t *testing.T) {
	if _, err := NewStore("redis", "", Options{}); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
	if _, err := NewStore("bbolt", " ", Options{}); err == nil {
		t.Fatalf("expected error for empty bbolt path")
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	store := newMemoryStore(Options{ItemTTL: time.Minute, CleanupInterval: time.Minute})
	store.now = clock.Now

	if err := store.MarkItem("a"); err != nil {
		t.Fatalf("MarkItem: %v", err)
	}
	if seen, _ := store.SeenItem("a"); !seen {
		t.Fatalf("expected a to be seen")
	}
	clock.Advance(61 * time.Second)
	if seen, _ := store.SeenItem("a"); seen {
		t.Fatalf("expected a to expire")
	}
	if len(store.expiry) != 0 {
		t.Fatalf("expected expired key removed, got %v", store.expiry)
	}
}
