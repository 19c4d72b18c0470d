package ttable

// Builder accumulates the entries of one provenance table.
//
// A Builder is owned by a single goroutine and is not safe for concurrent
// use. Call Build once loading has finished; the Builder must not be used
// afterwards.
type Builder struct {
	prov    Provenance
	entries map[int32]map[int32]float64
	size    int
}

// NewBuilder returns an empty Builder for prov.
func NewBuilder(prov Provenance) *Builder {
	return &Builder{
		prov:    prov,
		entries: make(map[int32]map[int32]float64),
	}
}

// Provenance returns the provenance being built.
func (b *Builder) Provenance() Provenance {
	return b.prov
}

// Add stores prob for (source, target). A later Add for the same pair
// overwrites the earlier value.
func (b *Builder) Add(source, target int32, prob float64) {
	targets, ok := b.entries[source]
	if !ok {
		targets = make(map[int32]float64)
		b.entries[source] = targets
	}
	if _, exists := targets[target]; !exists {
		b.size++
	}
	targets[target] = prob
}

// Len returns the number of distinct (source, target) pairs added so far.
func (b *Builder) Len() int {
	return b.size
}

// Build finishes the table.
func (b *Builder) Build() *Table {
	t := &Table{entries: b.entries, size: b.size}
	b.entries = nil
	return t
}
