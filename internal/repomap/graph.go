package repomap

import (
	"math"
	"sort"
)

const (
	damping       = 0.85
	rankIters     = 30
	rankTolerance = 1e-6
)

// Graph links files through symbol references: an edge A -> B means A
// references a symbol defined in B. Edge weight is the reference count.
type Graph struct {
	files   []string
	index   map[string]int
	weights map[[2]int]float64
}

// BuildGraph assembles the reference graph from a flat tag list. Symbols
// defined in multiple files spread each reference evenly across the
// definition sites; self-references are dropped.
func BuildGraph(tags []Tag) *Graph {
	g := &Graph{index: make(map[string]int), weights: make(map[[2]int]float64)}

	fileID := func(path string) int {
		if id, ok := g.index[path]; ok {
			return id
		}
		id := len(g.files)
		g.index[path] = id
		g.files = append(g.files, path)
		return id
	}

	defs := make(map[string][]int) // symbol name -> defining file ids
	for _, t := range tags {
		id := fileID(t.RelPath)
		if t.Kind == TagDefinition {
			defs[t.Name] = append(defs[t.Name], id)
		}
	}
	for _, t := range tags {
		if t.Kind != TagReference {
			continue
		}
		sites := defs[t.Name]
		if len(sites) == 0 {
			continue
		}
		src := g.index[t.RelPath]
		share := 1.0 / float64(len(sites))
		for _, dst := range sites {
			if dst == src {
				continue
			}
			g.weights[[2]int{src, dst}] += share
		}
	}
	return g
}

// Ranks runs PageRank over the reference graph and returns files sorted by
// descending rank. Files with no edges keep the uniform baseline mass.
func (g *Graph) Ranks() []FileRank {
	n := len(g.files)
	if n == 0 {
		return nil
	}

	outWeight := make([]float64, n)
	for edge, w := range g.weights {
		outWeight[edge[0]] += w
	}

	rank := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	next := make([]float64, n)
	for iter := 0; iter < rankIters; iter++ {
		base := (1 - damping) / float64(n)
		// Dangling files donate their mass uniformly so the total stays 1.
		dangling := 0.0
		for i := range rank {
			if outWeight[i] == 0 {
				dangling += rank[i]
			}
		}
		for i := range next {
			next[i] = base + damping*dangling/float64(n)
		}
		for edge, w := range g.weights {
			src, dst := edge[0], edge[1]
			next[dst] += damping * rank[src] * w / outWeight[src]
		}

		delta := 0.0
		for i := range rank {
			delta += math.Abs(next[i] - rank[i])
		}
		rank, next = next, rank
		if delta < rankTolerance {
			break
		}
	}

	out := make([]FileRank, n)
	for i, path := range g.files {
		out[i] = FileRank{RelPath: path, Rank: rank[i]}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].RelPath < out[j].RelPath
	})
	return out
}
