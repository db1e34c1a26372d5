package math

import (
	"golang.org/x/exp/rand"
)

// RandomTable is a fixed-size table of uniform samples in [0, 1), refreshed on demand.
type RandomTable struct {
	rng    *rand.Rand
	values []float32
}

func NewRandomTable(size int, seed uint64) *RandomTable {
	t := &RandomTable{
		rng:    rand.New(rand.NewSource(seed)),
		values: make([]float32, size),
	}
	t.Regenerate()
	return t
}

func (t *RandomTable) Regenerate() {
	for i := range t.values {
		t.values[i] = t.rng.Float32()
	}
}

// Values returns the live table. Callers must not keep it across Regenerate.
func (t *RandomTable) Values() []float32 {
	return t.values
}
