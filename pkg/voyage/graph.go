// Package voyage reconstructs voyage legs and port stays from a vessel's event stream.
package voyage

import "sort"

// TransitionGraph is a weighted port-to-port graph of committed voyage legs.
// Edges maps origin -> destination -> leg count. arrivals holds the
// per-origin total used to normalize edge counts; it is kept apart from
// Edges so no real port code can collide with it.
type TransitionGraph struct {
	Edges    map[string]map[string]int
	arrivals map[string]int
}

// Transition is one reduced edge of the graph.
type Transition struct {
	From       string
	To         string
	Count      int
	Percentage float64
}

// NewTransitionGraph creates an empty graph.
func NewTransitionGraph() *TransitionGraph {
	return &TransitionGraph{
		Edges:    make(map[string]map[string]int),
		arrivals: make(map[string]int),
	}
}

// Increment records one leg from -> to.
func (g *TransitionGraph) Increment(from, to string) {
	dests, ok := g.Edges[from]
	if !ok {
		dests = make(map[string]int)
		g.Edges[from] = dests
	}
	dests[to]++
	g.arrivals[from]++
}

// Count returns the number of legs from -> to.
func (g *TransitionGraph) Count(from, to string) int {
	return g.Edges[from][to]
}

// Arrivals returns the total number of legs leaving from.
func (g *TransitionGraph) Arrivals(from string) int {
	return g.arrivals[from]
}

// Origins returns the origin ports in sorted order.
func (g *TransitionGraph) Origins() []string {
	origins := make([]string, 0, len(g.Edges))
	for o := range g.Edges {
		origins = append(origins, o)
	}
	sort.Strings(origins)
	return origins
}

// Destinations returns the destinations reached from an origin in sorted order.
func (g *TransitionGraph) Destinations(from string) []string {
	dests := make([]string, 0, len(g.Edges[from]))
	for d := range g.Edges[from] {
		dests = append(dests, d)
	}
	sort.Strings(dests)
	return dests
}

// Len returns the number of distinct edges.
func (g *TransitionGraph) Len() int {
	n := 0
	for _, dests := range g.Edges {
		n += len(dests)
	}
	return n
}

// Percentages reduces the graph to one Transition per edge, each edge's count
// divided by its origin's arrivals. Origins without legs produce nothing.
func (g *TransitionGraph) Percentages() []Transition {
	out := make([]Transition, 0, g.Len())
	for _, from := range g.Origins() {
		total := g.arrivals[from]
		if total == 0 {
			continue
		}
		for _, to := range g.Destinations(from) {
			count := g.Edges[from][to]
			out = append(out, Transition{
				From:       from,
				To:         to,
				Count:      count,
				Percentage: float64(count) / float64(total),
			})
		}
	}
	return out
}
