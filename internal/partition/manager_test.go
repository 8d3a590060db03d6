package partition_test

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"shop-qa/internal/dataset"
	"shop-qa/internal/partition"
)

// writeCSV writes a users dataset with n rows and returns its path.
func writeCSV(t *testing.T, n int) string {
	t.Helper()
	out := "email,password,status\n"
	for i := 0; i < n; i++ {
		status := "active"
		if i%2 == 1 {
			status = "inactive"
		}
		out += fmt.Sprintf("user%d@example.com,pw%d,%s\n", i, i, status)
	}
	fp := filepath.Join(t.TempDir(), "users.csv")
	if err := os.WriteFile(fp, []byte(out), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return fp
}

func loaded(t *testing.T, rows, sliceSize int) *partition.Manager {
	t.Helper()
	m := partition.New(writeCSV(t, rows), dataset.Options{}, partition.Config{SliceSize: sliceSize})
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestLoad_BadSourceIsFatal(t *testing.T) {
	m := partition.New(filepath.Join(t.TempDir(), "nope.csv"), dataset.Options{}, partition.Config{})
	_, err := m.Load()
	if err == nil {
		t.Fatal("expected error for missing source")
	}
	if !errors.Is(err, dataset.ErrDataSource) {
		t.Fatalf("expected ErrDataSource, got %v", err)
	}

	// Unloaded manager: allocation reports "no data", never panics.
	if _, ok := m.Allocate(0, 0); ok {
		t.Fatal("allocate on unloaded manager should report no data")
	}
	if m.Total() != 0 {
		t.Fatalf("Total = %d, want 0", m.Total())
	}
}

func TestAllocate_DisjointRanges(t *testing.T) {
	m := loaded(t, 20, 10)

	// sliceSize=10: partition 0 offset 9 -> index 9; partition 1 offset 0 -> index 10.
	a, ok := m.Allocate(0, 9)
	if !ok {
		t.Fatal("allocate(0,9) should succeed")
	}
	b, ok := m.Allocate(1, 0)
	if !ok {
		t.Fatal("allocate(1,0) should succeed")
	}
	if a.Index != 9 || b.Index != 10 {
		t.Fatalf("indices = %d,%d; want 9,10", a.Index, b.Index)
	}
	if a.PartitionID != 0 || b.PartitionID != 1 {
		t.Fatalf("partition annotations = %d,%d; want 0,1", a.PartitionID, b.PartitionID)
	}
}

func TestAllocate_SameArgsNeverRepeatAnIndex(t *testing.T) {
	m := loaded(t, 20, 3)

	first, ok := m.Allocate(0, 0)
	if !ok {
		t.Fatal("first allocate failed")
	}
	second, ok := m.Allocate(0, 0)
	if !ok {
		t.Fatal("second allocate should fall back within the range")
	}
	if second.Index == first.Index {
		t.Fatalf("same index %d handed out twice", first.Index)
	}
	if second.Index < 0 || second.Index >= 3 {
		t.Fatalf("fallback left the reserved range: index %d", second.Index)
	}

	// Exhaust the rest of the range; the next call must report no data.
	if _, ok := m.Allocate(0, 0); !ok {
		t.Fatal("third allocate should still find the last unused index")
	}
	if _, ok := m.Allocate(0, 0); ok {
		t.Fatal("range exhausted, expected no data")
	}
}

func TestAllocate_FallbackNeverStealsFromOtherPartitions(t *testing.T) {
	// 6 rows, sliceSize 3: partition 0 owns [0,3), partition 1 owns [3,6).
	m := loaded(t, 6, 3)

	for i := 0; i < 3; i++ {
		if _, ok := m.Allocate(0, 0); !ok {
			t.Fatalf("allocate %d in partition 0 failed", i)
		}
	}
	// Partition 0 is dry; rows 3..5 are untouched but belong to partition 1.
	if _, ok := m.Allocate(0, 0); ok {
		t.Fatal("partition 0 must not take partition 1's rows")
	}
	if got := m.Available(); got != 3 {
		t.Fatalf("Available = %d, want 3", got)
	}
}

func TestAllocate_OutOfBoundsIsNoData(t *testing.T) {
	m := loaded(t, 5, 10)

	// Candidate 7 is a valid dataset index.
	a, ok := m.Allocate(0, 7)
	if !ok || a.Index != 7 {
		t.Fatalf("allocate(0,7) = (%v,%v), want index 7", a, ok)
	}
	// Candidate 12 is past the 5-row dataset: no data, no panic, no fallback.
	if _, ok := m.Allocate(0, 12); ok {
		t.Fatal("allocate(0,12) should report no data")
	}
	// Negative inputs are treated the same way.
	if _, ok := m.Allocate(-1, 0); ok {
		t.Fatal("negative partition id should report no data")
	}
}

func TestAllocateMany_StopsAtExhaustion(t *testing.T) {
	m := loaded(t, 4, 10)

	got := m.AllocateMany(0, 6)
	if len(got) != 4 {
		t.Fatalf("AllocateMany returned %d records, want 4", len(got))
	}
	for i, a := range got {
		if a.Index != i {
			t.Fatalf("record %d has index %d", i, a.Index)
		}
	}
	if m.Used() != 4 {
		t.Fatalf("Used = %d, want 4", m.Used())
	}
}

func TestFilter_MatchesAllFieldsInOrder(t *testing.T) {
	m := loaded(t, 4, 10) // rows 0,2 active; rows 1,3 inactive

	got := m.Filter(map[string]string{"status": "active"})
	if len(got) != 2 {
		t.Fatalf("filter returned %d records, want 2", len(got))
	}
	if got[0].Index != 0 || got[1].Index != 2 {
		t.Fatalf("filter order wrong: indices %d,%d", got[0].Index, got[1].Index)
	}
	// Filter is read-only: nothing was marked used.
	if m.Used() != 0 {
		t.Fatalf("Used = %d after filter, want 0", m.Used())
	}
	// Unknown field name matches nothing rather than erroring.
	if got := m.Filter(map[string]string{"no_such_field": "x"}); len(got) != 0 {
		t.Fatalf("unknown field matched %d records", len(got))
	}
}

func TestGetByIndex_ReadsAreStable(t *testing.T) {
	m := loaded(t, 5, 10)

	a, ok := m.GetByIndex(2, false)
	if !ok {
		t.Fatal("GetByIndex(2) failed")
	}
	b, _ := m.GetByIndex(2, false)
	if diff := cmp.Diff(a.Record, b.Record); diff != "" {
		t.Fatalf("repeated read differs (-first +second):\n%s", diff)
	}
	if m.Used() != 0 {
		t.Fatalf("markUsed=false must not touch the usage set, Used=%d", m.Used())
	}

	// Mutating the returned copy must not leak into the dataset.
	a.Record["email"] = "mutated"
	c, _ := m.GetByIndex(2, false)
	if c.Record["email"] == "mutated" {
		t.Fatal("GetByIndex returned a shared map, want a copy")
	}

	if _, ok := m.GetByIndex(99, false); ok {
		t.Fatal("out-of-bounds index should report no data")
	}
}

func TestUsageAccountingAndReset(t *testing.T) {
	m := loaded(t, 10, 5)

	m.AllocateMany(0, 3)
	if m.Used() != 3 || m.Available() != 7 {
		t.Fatalf("used/available = %d/%d, want 3/7", m.Used(), m.Available())
	}
	if got := m.UsagePercent(); got != 30.0 {
		t.Fatalf("UsagePercent = %v, want 30", got)
	}

	m.ResetUsage()
	if m.Used() != 0 || m.Total() != 10 {
		t.Fatalf("after reset: used=%d total=%d", m.Used(), m.Total())
	}
	// A previously-used row is allocatable again.
	a, ok := m.Allocate(0, 0)
	if !ok || a.Index != 0 {
		t.Fatalf("allocate after reset = (%v,%v), want index 0", a, ok)
	}
}

func TestReload_KeepsUsageSet(t *testing.T) {
	fp := writeCSV(t, 5)
	m := partition.New(fp, dataset.Options{}, partition.Config{SliceSize: 5})
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.AllocateMany(0, 2)

	// Reload replaces the dataset but deliberately leaves usage alone;
	// a fresh run needs an explicit ResetUsage.
	if _, err := m.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Used() != 2 {
		t.Fatalf("Used after reload = %d, want 2", m.Used())
	}
	if _, ok := m.Allocate(0, 0); !ok {
		t.Fatal("allocate after reload should fall back to an unused index")
	}
}

func TestIsUsed_TracksAllocations(t *testing.T) {
	m := loaded(t, 4, 10)

	if m.IsUsed(0) {
		t.Fatal("nothing allocated yet, IsUsed(0) should be false")
	}
	if _, ok := m.Allocate(0, 0); !ok {
		t.Fatal("allocate failed")
	}
	if !m.IsUsed(0) {
		t.Fatal("IsUsed(0) should be true after allocation")
	}
	if m.IsUsed(1) {
		t.Fatal("IsUsed(1) should stay false")
	}
	// Out-of-bounds indices are simply not used.
	if m.IsUsed(99) || m.IsUsed(-1) {
		t.Fatal("out-of-bounds IsUsed should be false")
	}
}

func TestReload_ShrunkDatasetClampsAccounting(t *testing.T) {
	fp := writeCSV(t, 5)
	m := partition.New(fp, dataset.Options{}, partition.Config{SliceSize: 5})
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.AllocateMany(0, 3)

	// Shrink the source to one row and reload; usage is retained, so used
	// count now exceeds the dataset. The accessors must stay sane.
	if err := os.WriteFile(fp, []byte("email,password,status\nonly@example.com,pw,active\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := m.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Total() != 1 || m.Used() != 3 {
		t.Fatalf("total/used = %d/%d, want 1/3", m.Total(), m.Used())
	}
	if got := m.Available(); got != 0 {
		t.Fatalf("Available = %d, want 0 (never negative)", got)
	}
	if got := m.UsagePercent(); got != 100.0 {
		t.Fatalf("UsagePercent = %v, want 100 (capped)", got)
	}
}

func TestUsagePercent_EmptyDataset(t *testing.T) {
	m := partition.New("unused.csv", dataset.Options{}, partition.Config{})
	if got := m.UsagePercent(); got != 0 {
		t.Fatalf("UsagePercent on empty dataset = %v, want 0", got)
	}
}

func TestDefaultSliceSize(t *testing.T) {
	m := partition.New("unused.csv", dataset.Options{}, partition.Config{})
	if m.SliceSize() != partition.DefaultSliceSize {
		t.Fatalf("SliceSize = %d, want %d", m.SliceSize(), partition.DefaultSliceSize)
	}
	m = partition.New("unused.csv", dataset.Options{}, partition.Config{SliceSize: -3})
	if m.SliceSize() != partition.DefaultSliceSize {
		t.Fatalf("negative SliceSize should fall back to default, got %d", m.SliceSize())
	}
}
