// Package partition hands out dataset records to concurrent logical consumers
// so that, under the documented access pattern, no two consumers ever see the
// same record within one manager lifetime.
//
// Each consumer (typically a worker slot) owns a reserved range of
// sliceSize consecutive dataset indices starting at partitionID*sliceSize.
// Ranges are disjoint by construction, which is where the concurrency safety
// comes from: the manager itself takes no locks. A single instance shared
// between goroutines must be serialized by the caller.
package partition

import (
	"fmt"

	"shop-qa/internal/dataset"
)

// DefaultSliceSize is the number of consecutive dataset indices reserved per
// partition identifier when Config.SliceSize is unset.
const DefaultSliceSize = 10

// Config tunes a Manager at construction.
type Config struct {
	// SliceSize is how many consecutive indices each partition id reserves.
	// Values < 1 fall back to DefaultSliceSize.
	SliceSize int
}

// Allocated is a record handed out by the manager, annotated with where it
// came from and who asked for it.
type Allocated struct {
	Record      dataset.Record `json:"record"`
	Index       int            `json:"index"`     // position in the loaded dataset
	PartitionID int            `json:"partition"` // requesting partition; -1 for direct access
}

// Manager owns an immutable loaded dataset plus a mutable usage set.
type Manager struct {
	source    string
	opts      dataset.Options
	sliceSize int

	records []dataset.Record
	used    map[int]bool
}

// New builds a manager over the tabular source at path. Nothing is read until
// Load is called.
func New(source string, opts dataset.Options, cfg Config) *Manager {
	size := cfg.SliceSize
	if size < 1 {
		size = DefaultSliceSize
	}
	return &Manager{
		source:    source,
		opts:      opts,
		sliceSize: size,
		used:      map[int]bool{},
	}
}

// SliceSize reports the configured reserved-range width.
func (m *Manager) SliceSize() int { return m.sliceSize }

// Load reads the source in full and replaces the dataset. Calling it again
// re-reads and replaces; the usage set is NOT cleared on reload — callers that
// want a fresh run must call ResetUsage themselves. The loaded records are
// returned for inspection.
func (m *Manager) Load() ([]dataset.Record, error) {
	recs, err := dataset.Load(m.source, m.opts)
	if err != nil {
		return nil, fmt.Errorf("partition load: %w", err)
	}
	m.records = recs
	return recs, nil
}

// Allocate reserves and returns the record for (partitionID, offset).
//
// The candidate index is partitionID*sliceSize + offset. A candidate outside
// the dataset means the partition's data is exhausted: the second return is
// false and no fallback is attempted. A candidate already handed out triggers
// an ascending scan of the partition's own reserved range for the first
// in-bounds unused index; the scan never leaves the range, so one partition
// can never steal another's records.
func (m *Manager) Allocate(partitionID, offset int) (Allocated, bool) {
	if partitionID < 0 || offset < 0 {
		return Allocated{}, false
	}
	candidate := partitionID*m.sliceSize + offset
	if candidate >= len(m.records) {
		return Allocated{}, false
	}
	if m.used[candidate] {
		start := partitionID * m.sliceSize
		for i := start; i < start+m.sliceSize && i < len(m.records); i++ {
			if !m.used[i] {
				return m.take(i, partitionID), true
			}
		}
		return Allocated{}, false
	}
	return m.take(candidate, partitionID), true
}

// AllocateMany allocates up to count records for the partition, using offsets
// 0..count-1, stopping at the first exhaustion. The result may be shorter
// than count, down to empty.
func (m *Manager) AllocateMany(partitionID, count int) []Allocated {
	var out []Allocated
	for off := 0; off < count; off++ {
		a, ok := m.Allocate(partitionID, off)
		if !ok {
			break
		}
		out = append(out, a)
	}
	return out
}

// Filter returns annotated read-only copies of every record whose fields
// match all entries of where exactly, in dataset order. It neither consults
// nor mutates the usage set; callers partitioning a filtered view index into
// the result themselves (typically followed by GetByIndex to mark usage).
// An unknown field name simply matches nothing.
func (m *Manager) Filter(where map[string]string) []Allocated {
	var out []Allocated
	for i, rec := range m.records {
		match := true
		for k, want := range where {
			if rec[k] != want {
				match = false
				break
			}
		}
		if match {
			out = append(out, Allocated{Record: rec.Clone(), Index: i, PartitionID: -1})
		}
	}
	return out
}

// GetByIndex returns the record at a dataset index directly. With markUsed it
// adds the index to the usage set (an idempotent add; already-used is fine).
// Out-of-bounds indices report false rather than erroring.
func (m *Manager) GetByIndex(index int, markUsed bool) (Allocated, bool) {
	if index < 0 || index >= len(m.records) {
		return Allocated{}, false
	}
	if markUsed {
		m.used[index] = true
	}
	return Allocated{Record: m.records[index].Clone(), Index: index, PartitionID: -1}, true
}

// IsUsed reports whether the record at a dataset index has been handed out.
func (m *Manager) IsUsed(index int) bool { return m.used[index] }

// ResetUsage clears the usage set. The dataset is untouched.
func (m *Manager) ResetUsage() {
	m.used = map[int]bool{}
}

// Total is the number of loaded records.
func (m *Manager) Total() int { return len(m.records) }

// Used is the number of records handed out so far.
func (m *Manager) Used() int { return len(m.used) }

// Available is Total minus Used, floored at zero: a reload that shrinks the
// dataset keeps the usage set, so the raw difference can go negative.
func (m *Manager) Available() int {
	if n := len(m.records) - len(m.used); n > 0 {
		return n
	}
	return 0
}

// UsagePercent reports used/total as a percentage; 0 for an empty dataset,
// capped at 100 after a shrinking reload.
func (m *Manager) UsagePercent() float64 {
	if len(m.records) == 0 {
		return 0
	}
	p := float64(len(m.used)) * 100.0 / float64(len(m.records))
	if p > 100 {
		return 100
	}
	return p
}

func (m *Manager) take(index, partitionID int) Allocated {
	m.used[index] = true
	return Allocated{Record: m.records[index].Clone(), Index: index, PartitionID: partitionID}
}
