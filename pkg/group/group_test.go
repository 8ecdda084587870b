package group

import (
	"errors"
	"fmt"
	"testing"

	"github.com/slopedb/slope/pkg/buffer"
	"github.com/slopedb/slope/pkg/config"
	"github.com/slopedb/slope/pkg/stats"
)

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.GroupSizeBound = 64
	cfg.MergeSizeThreshold = 8
	cfg.BufferSizeBound = 32
	cfg.BufferSizeTolerance = 8
	cfg.BufferCompactThreshold = 16
	return cfg
}

func entriesFromKeys(keys ...buffer.Key) []buffer.Entry {
	entries := make([]buffer.Entry, len(keys))
	for i, k := range keys {
		entries[i] = buffer.Entry{Key: k, Value: buffer.Value(fmt.Sprintf("v%d", k))}
	}
	return entries
}

func newTestGroup(t *testing.T, keys ...buffer.Key) (*Group, *stats.Tracker) {
	t.Helper()
	trk := stats.NewTracker()
	entries := entriesFromKeys(keys...)
	var start buffer.Key
	if len(entries) > 0 {
		start = entries[0].Key
	}
	return New(start, entries, testConfig(), trk), trk
}

func TestGroupGetFromArray(t *testing.T) {
	g, _ := newTestGroup(t, 10, 20, 30, 40, 50)

	v, err := g.Get(30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v) != "v30" {
		t.Errorf("expected v30, got %s", v)
	}

	if _, err := g.Get(35); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for absent key, got %v", err)
	}
}

func TestGroupBufferShadowsArray(t *testing.T) {
	g, _ := newTestGroup(t, 10, 20, 30)

	if err := g.Put(20, buffer.Value("updated")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	v, err := g.Get(20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v) != "updated" {
		t.Errorf("buffer entry should shadow the array, got %s", v)
	}
}

func TestGroupRemove(t *testing.T) {
	g, _ := newTestGroup(t, 10, 20, 30)

	if err := g.Remove(20); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := g.Get(20); !errors.Is(err, ErrNotFound) {
		t.Errorf("removed key should be not found, got %v", err)
	}

	// Double remove reports not found
	if err := g.Remove(20); !errors.Is(err, ErrNotFound) {
		t.Errorf("second remove should report not found, got %v", err)
	}

	// Remove of a never-present key reports not found
	if err := g.Remove(99); !errors.Is(err, ErrNotFound) {
		t.Errorf("remove of absent key should report not found, got %v", err)
	}

	// Put resurrects a removed key
	if err := g.Put(20, buffer.Value("back")); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	v, err := g.Get(20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(v) != "back" {
		t.Errorf("expected back, got %s", v)
	}
}

func TestGroupScanMergesBufferAndArray(t *testing.T) {
	g, _ := newTestGroup(t, 10, 30, 50)
	g.Put(20, buffer.Value("v20"))
	g.Put(30, buffer.Value("new30"))
	g.Remove(50)

	var out []buffer.Entry
	n := g.Scan(10, 10, &out)
	if n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}

	wantKeys := []buffer.Key{10, 20, 30}
	for i, e := range out {
		if e.Key != wantKeys[i] {
			t.Errorf("position %d: expected key %d, got %d", i, wantKeys[i], e.Key)
		}
	}
	if string(out[2].Value) != "new30" {
		t.Errorf("buffered overwrite should win, got %s", out[2].Value)
	}
}

func TestGroupScanLimit(t *testing.T) {
	g, _ := newTestGroup(t, 10, 20, 30, 40, 50)

	var out []buffer.Entry
	n := g.Scan(15, 2, &out)
	if n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	if out[0].Key != 20 || out[1].Key != 30 {
		t.Errorf("expected keys 20,30 got %d,%d", out[0].Key, out[1].Key)
	}
}

func TestGroupRangeScanBounds(t *testing.T) {
	g, _ := newTestGroup(t, 10, 20, 30, 40, 50)

	var out []buffer.Entry
	n := g.RangeScan(20, 50, &out)
	if n != 3 {
		t.Fatalf("expected 3 entries, got %d", n)
	}
	// begin inclusive, end exclusive
	if out[0].Key != 20 || out[2].Key != 40 {
		t.Errorf("expected range [20,40], got [%d,%d]", out[0].Key, out[2].Key)
	}
}

func TestGroupCompactMergesAndDropsTombstones(t *testing.T) {
	g, trk := newTestGroup(t, 10, 20, 30, 40, 50)
	g.Put(25, buffer.Value("v25"))
	g.Put(20, buffer.Value("new20"))
	g.Remove(40)

	reps := g.Compact()
	if len(reps) != 1 {
		t.Fatalf("expected a single replacement, got %d", len(reps))
	}
	ng := reps[0]

	if !g.Replaced() {
		t.Error("compacted group should be marked replaced")
	}

	wantKeys := []buffer.Key{10, 20, 25, 30, 50}
	if ng.Len() != len(wantKeys) {
		t.Fatalf("expected %d entries after compaction, got %d", len(wantKeys), ng.Len())
	}
	var out []buffer.Entry
	ng.Scan(0, 10, &out)
	for i, e := range out {
		if e.Key != wantKeys[i] {
			t.Errorf("position %d: expected key %d, got %d", i, wantKeys[i], e.Key)
		}
	}
	v, err := ng.Get(20)
	if err != nil || string(v) != "new20" {
		t.Errorf("compaction should carry the buffered overwrite, got %s err %v", v, err)
	}
	if _, err := ng.Get(40); !errors.Is(err, ErrNotFound) {
		t.Error("tombstoned key should be gone after compaction")
	}

	// Operations through the old group land on the replacement
	v, err = g.Get(25)
	if err != nil || string(v) != "v25" {
		t.Errorf("old group should forward reads to the replacement, got %s err %v", v, err)
	}
	if err := g.Put(26, buffer.Value("v26")); err != nil {
		t.Errorf("old group should forward writes to the replacement: %v", err)
	}

	g.Release()
	ng.Release()
	if trk.Outstanding() != 0 {
		t.Errorf("all groups released but %d bytes outstanding", trk.Outstanding())
	}
}

func TestGroupSealedBufferReportsRetry(t *testing.T) {
	g, _ := newTestGroup(t, 10, 20, 30)

	// Seal without publishing a replacement: the window a writer can
	// observe between seal and publish.
	g.buf.Seal()

	if err := g.Put(15, buffer.Value("v15")); !errors.Is(err, ErrRetry) {
		t.Errorf("put into sealed buffer should report retry, got %v", err)
	}
	if err := g.Remove(20); !errors.Is(err, ErrRetry) {
		t.Errorf("remove into sealed buffer should report retry, got %v", err)
	}

	// Reads keep working through the seal
	if _, err := g.Get(20); err != nil {
		t.Errorf("sealed group should still serve reads: %v", err)
	}
}

func TestGroupSplit(t *testing.T) {
	cfg := testConfig()
	cfg.GroupSizeBound = 8
	trk := stats.NewTracker()

	keys := make([]buffer.Key, 12)
	for i := range keys {
		keys[i] = buffer.Key(i * 10)
	}
	g := New(0, entriesFromKeys(keys...), cfg, trk)

	reps := g.Compact()
	if len(reps) != 2 {
		t.Fatalf("oversized group should split in two, got %d replacements", len(reps))
	}
	if reps[0].Len()+reps[1].Len() != 12 {
		t.Errorf("split lost entries: %d + %d != 12", reps[0].Len(), reps[1].Len())
	}
	if reps[1].Start() <= reps[0].Start() {
		t.Error("split halves must be ordered by start key")
	}

	// Chain routing picks the right half
	for _, k := range keys {
		v, err := g.Get(k)
		if err != nil {
			t.Fatalf("key %d unreachable after split: %v", k, err)
		}
		if string(v) != fmt.Sprintf("v%d", k) {
			t.Errorf("key %d: wrong value %s", k, v)
		}
	}

	leaves := g.Leaves(nil)
	if len(leaves) != 2 {
		t.Errorf("expected 2 leaves, got %d", len(leaves))
	}
}

func TestGroupMergeWith(t *testing.T) {
	cfg := testConfig()
	trk := stats.NewTracker()

	a := New(10, entriesFromKeys(10, 20), cfg, trk)
	b := New(30, entriesFromKeys(30, 40), cfg, trk)

	if !a.UnderFull() || !b.UnderFull() {
		t.Fatal("both groups should be under the merge threshold")
	}
	if !a.CanMergeWith(b) {
		t.Fatal("small adjacent groups should be mergeable")
	}

	reps, merged := a.MergeWith(b)
	if !merged {
		t.Fatal("expected a structural merge")
	}
	if len(reps) != 1 {
		t.Fatalf("expected one combined replacement, got %d", len(reps))
	}
	if reps[0].Len() != 4 {
		t.Errorf("combined group should hold 4 entries, got %d", reps[0].Len())
	}

	// Both old groups forward to the same replacement
	av := a.Leaves(nil)
	bv := b.Leaves(nil)
	if len(av) != 1 || len(bv) != 1 || av[0] != bv[0] {
		t.Error("merged groups should share one leaf")
	}

	// Dedup when collecting across the pair
	all := a.Leaves(nil)
	all = b.Leaves(all)
	if len(all) != 1 {
		t.Errorf("leaf collection should deduplicate the shared replacement, got %d", len(all))
	}
}

func TestGroupReleaseIdempotent(t *testing.T) {
	g, trk := newTestGroup(t, 10, 20, 30)
	g.Release()
	first := trk.Outstanding()
	g.Release()
	if trk.Outstanding() != first {
		t.Error("double release must not release bytes twice")
	}
}

func TestGroupEmpty(t *testing.T) {
	g, _ := newTestGroup(t)

	if _, err := g.Get(10); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty group get should report not found, got %v", err)
	}
	if err := g.Put(10, buffer.Value("v10")); err != nil {
		t.Fatalf("put into empty group failed: %v", err)
	}
	v, err := g.Get(10)
	if err != nil || string(v) != "v10" {
		t.Errorf("buffered key unreachable in empty group: %s %v", v, err)
	}

	var out []buffer.Entry
	if n := g.Scan(0, 10, &out); n != 1 {
		t.Errorf("expected 1 entry from scan, got %d", n)
	}
}
