// Package ttable holds the in-memory lexical translation tables served by
// the lookup protocol.
//
// A Model is a three-level mapping:
//
//	provenance -> source word id -> target word id -> probability
//
// Provenance 0 is the aggregate table built from all genres. Every other
// provenance is a single training-corpus genre.
//
// Lifecycle:
//  1. One Builder per provenance is filled by exactly one loader goroutine
//  2. Builders are finished into Tables after their goroutine returns
//  3. NewModel assembles the Tables once every loader has been joined
//
// After NewModel returns the Model is never mutated again, so concurrent
// readers need no locking. Publishing the Model to the connection handlers
// must happen after the loader goroutines are joined (errgroup.Wait or
// equivalent), which establishes the happens-before edge for every write.
package ttable

import (
	"math"
	"sort"
)

// Provenance identifies the genre a table was trained on.
type Provenance int32

// ProvenanceAll is the aggregate table spanning all genres.
const ProvenanceAll Provenance = 0

// Sentinel is returned for queries with no matching entry.
//
// Loaders refuse to store this value, so it can never be mistaken for a
// genuine probability.
const Sentinel = math.MaxFloat64

// Table maps source word id -> target word id -> probability for a single
// provenance.
type Table struct {
	entries map[int32]map[int32]float64
	size    int
}

// Lookup returns the probability for (source, target).
func (t *Table) Lookup(source, target int32) (float64, bool) {
	if t == nil {
		return 0, false
	}
	targets, ok := t.entries[source]
	if !ok {
		return 0, false
	}
	prob, ok := targets[target]
	return prob, ok
}

// Len returns the number of (source, target) entries.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return t.size
}

// Sources returns the number of distinct source words.
func (t *Table) Sources() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Model is the read-only collection of tables indexed by provenance.
type Model struct {
	tables map[Provenance]*Table
}

// NewModel assembles a Model from finished tables.
//
// The map is copied so later changes by the caller cannot reach the Model.
// Nil tables are skipped.
func NewModel(tables map[Provenance]*Table) *Model {
	m := &Model{tables: make(map[Provenance]*Table, len(tables))}
	for prov, table := range tables {
		if table != nil {
			m.tables[prov] = table
		}
	}
	return m
}

// Lookup returns the probability stored for (prov, source, target) and
// whether every level of the key was present.
func (m *Model) Lookup(prov Provenance, source, target int32) (float64, bool) {
	if m == nil {
		return 0, false
	}
	table, ok := m.tables[prov]
	if !ok {
		return 0, false
	}
	return table.Lookup(source, target)
}

// Probability is Lookup with misses mapped to Sentinel. This is the value
// written on the wire.
func (m *Model) Probability(prov Provenance, source, target int32) float64 {
	if prob, ok := m.Lookup(prov, source, target); ok {
		return prob
	}
	return Sentinel
}

// Table returns the table for prov, or nil.
func (m *Model) Table(prov Provenance) *Table {
	if m == nil {
		return nil
	}
	return m.tables[prov]
}

// Has reports whether a table was loaded for prov.
func (m *Model) Has(prov Provenance) bool {
	return m.Table(prov) != nil
}

// TableStats summarises one provenance table.
type TableStats struct {
	Provenance Provenance
	Sources    int
	Entries    int
}

// Stats returns per-provenance sizes ordered by provenance.
func (m *Model) Stats() []TableStats {
	if m == nil {
		return nil
	}
	stats := make([]TableStats, 0, len(m.tables))
	for prov, table := range m.tables {
		stats = append(stats, TableStats{
			Provenance: prov,
			Sources:    table.Sources(),
			Entries:    table.Len(),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Provenance < stats[j].Provenance
	})
	return stats
}

// Entries returns the total number of entries across all provenances.
func (m *Model) Entries() int {
	total := 0
	for _, s := range m.Stats() {
		total += s.Entries
	}
	return total
}
