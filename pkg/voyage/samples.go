package voyage

import "sort"

// DurationSampleSet holds the observed stay durations per port, each list
// kept in ascending order. Duplicates are retained.
type DurationSampleSet struct {
	samples map[string][]int64
}

// NewDurationSampleSet creates an empty sample set.
func NewDurationSampleSet() *DurationSampleSet {
	return &DurationSampleSet{samples: make(map[string][]int64)}
}

// Add inserts d into the port's list at its sorted position.
func (s *DurationSampleSet) Add(port string, d int64) {
	list := s.samples[port]
	i := sort.Search(len(list), func(i int) bool { return list[i] > d })
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = d
	s.samples[port] = list
}

// Samples returns the sorted samples of a port. The slice must not be modified.
func (s *DurationSampleSet) Samples(port string) []int64 {
	return s.samples[port]
}

// Len returns the number of samples recorded for a port.
func (s *DurationSampleSet) Len(port string) int {
	return len(s.samples[port])
}

// Ports returns every port with a sample list, in sorted order.
func (s *DurationSampleSet) Ports() []string {
	ports := make([]string, 0, len(s.samples))
	for p := range s.samples {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}
