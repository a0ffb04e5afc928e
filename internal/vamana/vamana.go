// Package vamana builds the proximity graphs persisted in segment data
// files. Construction follows the Vamana algorithm: a random initial
// graph refined by greedy search and robust pruning in two passes, the
// first with alpha=1 and the second with the configured alpha.
package vamana

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/RKSPD/lucene-jvector/internal/vecmath"
)

// Config holds the construction parameters.
type Config struct {
	// MaxDegree is the out-degree bound per node after pruning.
	MaxDegree int
	// BeamWidth is the search list size during construction.
	BeamWidth int
	// Alpha is the pruning aggressiveness for edge selection.
	Alpha float32
	// NeighborOverflow allows a node's candidate list to grow to
	// MaxDegree*NeighborOverflow before it is pruned back.
	NeighborOverflow float32
}

func (c Config) validate() error {
	if c.MaxDegree <= 0 {
		return fmt.Errorf("max degree must be positive, got %d", c.MaxDegree)
	}
	if c.BeamWidth <= 0 {
		return fmt.Errorf("beam width must be positive, got %d", c.BeamWidth)
	}
	if c.Alpha <= 0 {
		return fmt.Errorf("alpha must be positive, got %v", c.Alpha)
	}
	if c.NeighborOverflow < 1 {
		return fmt.Errorf("neighbor overflow must be >= 1.0, got %v", c.NeighborOverflow)
	}
	return nil
}

// Graph is a built proximity graph.
type Graph struct {
	// Neighbors[i] holds the out-edges of node i, at most MaxDegree each.
	Neighbors [][]uint32
	// EntryPoint is the medoid used to seed searches.
	EntryPoint uint32
}

type builder struct {
	vectors  [][]float32
	dist     vecmath.Func
	cfg      Config
	overflow int
	graph    [][]uint32
	entry    uint32
	rng      *rand.Rand
}

// Build constructs a graph over the given vectors. The distance function
// must be additive-smaller-is-closer (squared L2, negated dot).
func Build(vectors [][]float32, dist vecmath.Func, cfg Config) (*Graph, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, errors.New("no vectors to index")
	}

	b := &builder{
		vectors:  vectors,
		dist:     dist,
		cfg:      cfg,
		overflow: int(float32(cfg.MaxDegree) * cfg.NeighborOverflow),
		graph:    make([][]uint32, len(vectors)),
		rng:      rand.New(rand.NewSource(int64(len(vectors)))),
	}

	b.entry = b.medoid()
	b.initRandom()

	for pass := 0; pass < 2; pass++ {
		alpha := cfg.Alpha
		if pass == 0 {
			alpha = 1
		}
		for i := range vectors {
			candidates := b.greedySearch(vectors[i])
			b.graph[i] = b.robustPrune(uint32(i), candidates, alpha)
			for _, n := range b.graph[i] {
				b.addBackEdge(n, uint32(i), alpha)
			}
		}
	}

	// Back-edges added after a node's final prune may leave its list
	// between MaxDegree and the overflow bound. Trim those before the
	// graph is handed out, so every node honors the degree bound.
	for i := range b.graph {
		if len(b.graph[i]) > cfg.MaxDegree {
			b.graph[i] = b.robustPrune(uint32(i), b.graph[i], cfg.Alpha)
		}
	}

	return &Graph{Neighbors: b.graph, EntryPoint: b.entry}, nil
}

// medoid picks the node closest to the centroid of all vectors.
func (b *builder) medoid() uint32 {
	dim := len(b.vectors[0])
	centroid := make([]float32, dim)
	for _, v := range b.vectors {
		for i, f := range v {
			centroid[i] += f
		}
	}
	inv := 1 / float32(len(b.vectors))
	for i := range centroid {
		centroid[i] *= inv
	}

	best := uint32(0)
	bestDist := float32(math.MaxFloat32)
	for i, v := range b.vectors {
		if d := vecmath.SquaredL2(v, centroid); d < bestDist {
			bestDist = d
			best = uint32(i)
		}
	}
	return best
}

func (b *builder) initRandom() {
	n := len(b.vectors)
	degree := b.cfg.MaxDegree
	if degree > n-1 {
		degree = n - 1
	}
	for i := range b.graph {
		edges := make([]uint32, 0, degree)
		for _, idx := range b.rng.Perm(n) {
			if idx == i {
				continue
			}
			edges = append(edges, uint32(idx))
			if len(edges) >= degree {
				break
			}
		}
		b.graph[i] = edges
	}
}

type scored struct {
	id   uint32
	dist float32
}

// greedySearch walks the current graph toward query, keeping a beam of
// the closest BeamWidth nodes, and returns the visited candidates.
func (b *builder) greedySearch(query []float32) []uint32 {
	l := b.cfg.BeamWidth

	visited := map[uint32]bool{b.entry: true}
	expanded := map[uint32]bool{}
	pool := []scored{{id: b.entry, dist: b.dist(b.vectors[b.entry], query)}}

	for {
		sort.Slice(pool, func(i, j int) bool { return pool[i].dist < pool[j].dist })

		curr := -1
		for i := range pool {
			if i >= l {
				break
			}
			if !expanded[pool[i].id] {
				curr = i
				break
			}
		}
		if curr == -1 {
			break
		}
		expanded[pool[curr].id] = true

		if len(pool) > l*2 {
			pool = pool[:l*2]
		}

		for _, n := range b.graph[pool[curr].id] {
			if !visited[n] {
				visited[n] = true
				pool = append(pool, scored{id: n, dist: b.dist(b.vectors[n], query)})
			}
		}
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].dist < pool[j].dist })
	if len(pool) > l {
		pool = pool[:l]
	}
	out := make([]uint32, len(pool))
	for i, p := range pool {
		out[i] = p.id
	}
	return out
}

// robustPrune selects up to MaxDegree diverse neighbors from the union
// of candidates and current edges.
func (b *builder) robustPrune(node uint32, candidates []uint32, alpha float32) []uint32 {
	unique := make(map[uint32]bool, len(candidates)+len(b.graph[node]))
	for _, c := range candidates {
		unique[c] = true
	}
	for _, n := range b.graph[node] {
		unique[n] = true
	}
	delete(unique, node)

	pool := make([]scored, 0, len(unique))
	for id := range unique {
		pool = append(pool, scored{id: id, dist: b.dist(b.vectors[id], b.vectors[node])})
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].dist < pool[j].dist })

	selected := make([]uint32, 0, b.cfg.MaxDegree)
	for _, c := range pool {
		if len(selected) >= b.cfg.MaxDegree {
			break
		}
		diverse := true
		for _, s := range selected {
			if alpha*b.dist(b.vectors[c.id], b.vectors[s]) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c.id)
		}
	}
	return selected
}

// addBackEdge adds dst to src's edges, letting the list temporarily
// overflow to MaxDegree*NeighborOverflow before pruning it back.
func (b *builder) addBackEdge(src, dst uint32, alpha float32) {
	for _, n := range b.graph[src] {
		if n == dst {
			return
		}
	}
	b.graph[src] = append(b.graph[src], dst)
	if len(b.graph[src]) > b.overflow {
		b.graph[src] = b.robustPrune(src, b.graph[src], alpha)
	}
}

// Search walks a persisted graph toward a query. Node data access is
// abstracted so both in-memory and mmap-backed graphs can use it:
// neighbors returns a node's out-edges, distTo the distance from the
// query to a node.
func Search(entry uint32, beamWidth, k int, neighbors func(uint32) []uint32, distTo func(uint32) float32) []uint32 {
	if beamWidth < k {
		beamWidth = k
	}

	visited := map[uint32]bool{entry: true}
	expanded := map[uint32]bool{}
	pool := []scored{{id: entry, dist: distTo(entry)}}

	for {
		sort.Slice(pool, func(i, j int) bool { return pool[i].dist < pool[j].dist })

		curr := -1
		for i := range pool {
			if i >= beamWidth {
				break
			}
			if !expanded[pool[i].id] {
				curr = i
				break
			}
		}
		if curr == -1 {
			break
		}
		expanded[pool[curr].id] = true

		if len(pool) > beamWidth*2 {
			pool = pool[:beamWidth*2]
		}

		for _, n := range neighbors(pool[curr].id) {
			if !visited[n] {
				visited[n] = true
				pool = append(pool, scored{id: n, dist: distTo(n)})
			}
		}
	}

	sort.Slice(pool, func(i, j int) bool { return pool[i].dist < pool[j].dist })
	if len(pool) > k {
		pool = pool[:k]
	}
	out := make([]uint32, len(pool))
	for i, p := range pool {
		out[i] = p.id
	}
	return out
}
