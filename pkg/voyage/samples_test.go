package voyage

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDurationSampleSetSortedInsert(t *testing.T) {
	s := NewDurationSampleSet()
	for _, d := range []int64{50, 10, 30, 10, 70, -5} {
		s.Add("P", d)
	}

	assert.Equal(t, []int64{-5, 10, 10, 30, 50, 70}, s.Samples("P"))
	assert.Equal(t, 6, s.Len("P"))
	assert.Zero(t, s.Len("Q"))
	assert.Nil(t, s.Samples("Q"))
}

func TestDurationSampleSetPorts(t *testing.T) {
	s := NewDurationSampleSet()
	s.Add("SGSIN", 1)
	s.Add("CNSHA", 2)
	s.Add("SGSIN", 3)

	assert.Equal(t, []string{"CNSHA", "SGSIN"}, s.Ports())
}

func TestDurationSampleSetRandomOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := NewDurationSampleSet()
	var all []int64
	for i := 0; i < 1000; i++ {
		d := rng.Int63n(500)
		all = append(all, d)
		s.Add("P", d)
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	assert.Equal(t, all, s.Samples("P"))
}
