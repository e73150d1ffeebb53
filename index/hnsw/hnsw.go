// Package hnsw implements the Hierarchical Navigable Small World graph backend.
//
// Vectors are inserted one at a time. Each insertion draws a level from an
// exponential distribution (seeded, so builds are reproducible), descends
// greedily from the entry point and links the new node to its nearest
// neighbors on every layer up to its level, selected with the neighbor
// heuristic and pruned to M (2M on layer 0). Search descends greedily to
// layer 0 and runs a best-first search with an ef_search-sized result list.
package hnsw

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/index"
	"github.com/hupe1980/vecbench/internal/queue"
	"github.com/hupe1980/vecbench/persistence"
)

const (
	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 16

	// DefaultEFConstruction is the default candidate list size during insertion.
	DefaultEFConstruction = 200

	// DefaultEFSearch is the default candidate list size during search.
	DefaultEFSearch = 64

	// DefaultSeed seeds the level generator.
	DefaultSeed = 42

	// minimumM is the minimum valid value for M.
	minimumM = 2

	// mmax0Multiplier is the multiplier for calculating maximum connections at layer 0.
	mmax0Multiplier = 2
)

// Backend param names.
const (
	ParamM              = "M"
	ParamEFConstruction = "ef_construction"
	ParamEFSearch       = "ef_search"
	ParamSeed           = "seed"
)

// Compile-time check
var _ index.Index = (*HNSW)(nil)

type node struct {
	level int
	links [][]uint32 // links[layer], ordinals of neighbors
}

// HNSW represents the Hierarchical Navigable Small World graph.
type HNSW struct {
	cfg            index.Config
	m              int
	mmax0          int
	efConstruction int
	efSearch       int
	seed           int64
	ml             float64

	store    *index.Store
	nodes    []node
	entry    uint32
	maxLevel int // -1 when empty

	rng      *rand.Rand
	visiteds sync.Pool
}

// New creates an empty HNSW graph.
func New(cfg index.Config) (*HNSW, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.Params
	if err := p.Check(index.KindHNSW, ParamM, ParamEFConstruction, ParamEFSearch, ParamSeed); err != nil {
		return nil, err
	}

	m, err := p.Positive(ParamM, DefaultM)
	if err != nil {
		return nil, err
	}
	if m < minimumM {
		return nil, vecbench.NewConfigError(ParamM, fmt.Sprintf("must be at least %d, got %d", minimumM, m))
	}
	efc, err := p.Positive(ParamEFConstruction, DefaultEFConstruction)
	if err != nil {
		return nil, err
	}
	efs, err := p.Positive(ParamEFSearch, DefaultEFSearch)
	if err != nil {
		return nil, err
	}
	seed, err := p.Int(ParamSeed, DefaultSeed)
	if err != nil {
		return nil, err
	}

	h := &HNSW{
		cfg:            cfg.Clone(),
		m:              m,
		mmax0:          m * mmax0Multiplier,
		efConstruction: efc,
		efSearch:       efs,
		seed:           int64(seed),
		ml:             1 / math.Log(float64(m)),
	}
	h.reset()
	return h, nil
}

// Factory adapts New to index.Factory.
func Factory(cfg index.Config) (index.Index, error) { return New(cfg) }

// Register adds the hnsw backend to r.
func Register(r *index.Registry) error { return r.Register(index.KindHNSW, Factory) }

func (h *HNSW) reset() {
	h.store = index.NewStore(h.cfg.Dim, true)
	h.nodes = nil
	h.entry = 0
	h.maxLevel = -1
	h.rng = rand.New(rand.NewSource(h.seed))
}

// Config implements index.Index.
func (h *HNSW) Config() index.Config { return h.cfg.Clone() }

// Len implements index.Index.
func (h *HNSW) Len() int { return h.store.Len() }

// Build implements index.Index.
func (h *HNSW) Build(ctx context.Context, vectors []index.Vector) error {
	if err := index.NewStore(h.cfg.Dim, false).Check(vectors); err != nil {
		return err
	}
	h.reset()
	return h.insertAll(ctx, vectors)
}

// Add implements index.Index.
func (h *HNSW) Add(ctx context.Context, vectors []index.Vector) error {
	if err := h.store.Check(vectors); err != nil {
		return err
	}
	return h.insertAll(ctx, vectors)
}

func (h *HNSW) insertAll(ctx context.Context, vectors []index.Vector) error {
	for i, v := range vectors {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		ord := h.store.Append(v.ID, h.cfg.Metric.Prepare(v.Values))
		h.insert(ord)
	}
	return nil
}

func (h *HNSW) randomLevel() int {
	r := 1 - h.rng.Float64() // (0, 1]
	return int(math.Floor(-math.Log(r) * h.ml))
}

func (h *HNSW) dist(q []float32, ord uint32) float32 {
	return h.cfg.Metric.Distance(q, h.store.Vector(ord))
}

func (h *HNSW) maxLinks(level int) int {
	if level == 0 {
		return h.mmax0
	}
	return h.m
}

func (h *HNSW) insert(ord uint32) {
	level := h.randomLevel()
	h.nodes = append(h.nodes, node{level: level, links: make([][]uint32, level+1)})

	if h.maxLevel < 0 {
		h.entry = ord
		h.maxLevel = level
		return
	}

	vec := h.store.Vector(ord)
	cur := h.entry
	curDist := h.dist(vec, cur)

	// 1. Greedy search from top to node level + 1
	for l := h.maxLevel; l > level; l-- {
		cur, curDist = h.greedy(vec, cur, curDist, l)
	}

	// 2. Search and link from node level down to 0
	visited := h.getVisited()
	defer h.visiteds.Put(visited)

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vec, cur, curDist, l, h.efConstruction, visited)
		if len(candidates) > 0 {
			cur, curDist = candidates[0].Node, candidates[0].Distance
		}

		neighbors := h.selectNeighbors(candidates, h.maxLinks(l))
		links := make([]uint32, len(neighbors))
		for i, n := range neighbors {
			links[i] = n.Node
		}
		h.nodes[ord].links[l] = links

		for _, n := range neighbors {
			h.addConnection(n.Node, ord, l)
		}
	}

	if level > h.maxLevel {
		h.entry = ord
		h.maxLevel = level
	}
}

// addConnection links source to target on level, pruning source's list with
// the neighbor heuristic when it overflows.
func (h *HNSW) addConnection(source, target uint32, level int) {
	conns := h.nodes[source].links[level]
	for _, c := range conns {
		if c == target {
			return
		}
	}

	maxM := h.maxLinks(level)
	if len(conns) < maxM {
		h.nodes[source].links[level] = append(conns, target)
		return
	}

	base := h.store.Vector(source)
	candidates := make([]queue.Item, 0, len(conns)+1)
	for _, c := range conns {
		candidates = append(candidates, queue.Item{Node: c, Distance: h.dist(base, c)})
	}
	candidates = append(candidates, queue.Item{Node: target, Distance: h.dist(base, target)})
	sortItems(candidates)

	selected := h.selectNeighbors(candidates, maxM)
	pruned := make([]uint32, len(selected))
	for i, n := range selected {
		pruned[i] = n.Node
	}
	h.nodes[source].links[level] = pruned
}

// selectNeighbors applies the relative-neighborhood heuristic to candidates
// (sorted closest first), then fills up with the closest rejected ones.
func (h *HNSW) selectNeighbors(candidates []queue.Item, m int) []queue.Item {
	if len(candidates) <= m {
		return candidates
	}

	result := make([]queue.Item, 0, m)
	taken := make([]bool, len(candidates))
	for i, cand := range candidates {
		if len(result) >= m {
			break
		}
		good := true
		candVec := h.store.Vector(cand.Node)
		for _, r := range result {
			if h.dist(candVec, r.Node) < cand.Distance {
				good = false
				break
			}
		}
		if good {
			result = append(result, cand)
			taken[i] = true
		}
	}

	for i, cand := range candidates {
		if len(result) >= m {
			break
		}
		if !taken[i] {
			result = append(result, cand)
		}
	}
	sortItems(result)
	return result
}

func (h *HNSW) greedy(q []float32, cur uint32, curDist float32, level int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		for _, next := range h.nodes[cur].links[level] {
			if d := h.dist(q, next); d < curDist {
				cur, curDist = next, d
				changed = true
			}
		}
	}
	return cur, curDist
}

// searchLayer runs a best-first search on level and returns up to ef items,
// closest first.
func (h *HNSW) searchLayer(q []float32, ep uint32, epDist float32, level, ef int, visited *bitset.BitSet) []queue.Item {
	visited.ClearAll()
	visited.Set(uint(ep))

	candidates := queue.NewMin(ef)
	results := queue.NewMax(ef)
	candidates.Push(queue.Item{Node: ep, Distance: epDist})
	results.Push(queue.Item{Node: ep, Distance: epDist})

	for candidates.Len() > 0 {
		curr, _ := candidates.Pop()
		if worst, ok := results.Top(); ok && results.Len() >= ef && curr.Distance > worst.Distance {
			break
		}

		for _, next := range h.nodes[curr.Node].links[level] {
			if visited.Test(uint(next)) {
				continue
			}
			visited.Set(uint(next))

			d := h.dist(q, next)
			if worst, ok := results.Top(); ok && results.Len() >= ef && d > worst.Distance {
				continue
			}
			item := queue.Item{Node: next, Distance: d}
			candidates.Push(item)
			results.PushBounded(item, ef)
		}
	}
	return results.Sorted()
}

func (h *HNSW) getVisited() *bitset.BitSet {
	if v, ok := h.visiteds.Get().(*bitset.BitSet); ok {
		return v
	}
	return bitset.New(uint(h.store.Len()))
}

// Search implements index.Index.
func (h *HNSW) Search(ctx context.Context, query []float32, k int) ([]index.Result, error) {
	if err := index.CheckQuery(h.cfg, query, k); err != nil {
		return nil, err
	}
	n := h.store.Len()
	if n == 0 {
		return []index.Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := h.cfg.Metric.Prepare(query)
	k = min(k, n)

	cur := h.entry
	curDist := h.dist(q, cur)
	for l := h.maxLevel; l > 0; l-- {
		cur, curDist = h.greedy(q, cur, curDist, l)
	}

	visited := h.getVisited()
	defer h.visiteds.Put(visited)

	found := h.searchLayer(q, cur, curDist, 0, max(h.efSearch, k), visited)
	if len(found) > k {
		found = found[:k]
	}
	if len(found) < k {
		found = h.topUp(q, found, k)
	}
	return h.store.Results(found, h.cfg.Metric), nil
}

// topUp completes a short result list with the closest remaining vectors,
// so a disconnected graph never yields fewer than k results.
func (h *HNSW) topUp(q []float32, found []queue.Item, k int) []queue.Item {
	seen := make(map[uint32]struct{}, len(found))
	top := queue.NewMax(k)
	for _, it := range found {
		seen[it.Node] = struct{}{}
		top.Push(it)
	}
	for i := 0; i < h.store.Len(); i++ {
		ord := uint32(i)
		if _, ok := seen[ord]; ok {
			continue
		}
		top.PushBounded(queue.Item{Node: ord, Distance: h.dist(q, ord)}, k)
	}
	return top.Sorted()
}

// EstimateMemory implements index.Index.
func (h *HNSW) EstimateMemory() int64 {
	b := h.store.EstimateMemory()
	for _, nd := range h.nodes {
		b += 32 // node header + links slice header
		for _, l := range nd.links {
			b += 24 + int64(cap(l))*4
		}
	}
	return b
}

// MarshalPayload implements index.Index.
func (h *HNSW) MarshalPayload(w io.Writer) error {
	bw := persistence.NewBinaryWriter(w)
	h.store.Encode(bw)
	bw.Uint32(h.entry)
	bw.Uint32(uint32(h.maxLevel + 1))
	for _, nd := range h.nodes {
		bw.Uint32(uint32(nd.level))
		for _, l := range nd.links {
			bw.Uint32(uint32(len(l)))
			bw.Uint32s(l)
		}
	}
	return bw.Err()
}

// UnmarshalPayload implements index.Index.
func (h *HNSW) UnmarshalPayload(data []byte) error {
	br := persistence.NewBinaryReader(data)
	store := index.NewStore(h.cfg.Dim, true)
	if err := store.Decode(br); err != nil {
		return fmt.Errorf("hnsw: %w", err)
	}

	n := store.Len()
	entry := br.Uint32()
	maxLevel := int(br.Uint32()) - 1
	nodes := make([]node, n)
	for i := range nodes {
		level := int(br.Uint32())
		if br.Err() != nil {
			break
		}
		if level > 64 {
			return fmt.Errorf("hnsw: node %d has implausible level %d", i, level)
		}
		nodes[i] = node{level: level, links: make([][]uint32, level+1)}
		for l := 0; l <= level; l++ {
			cnt := int(br.Uint32())
			if cnt > h.maxLinks(l) {
				return fmt.Errorf("hnsw: node %d layer %d has %d links", i, l, cnt)
			}
			links := br.Uint32s(cnt)
			for _, next := range links {
				if int(next) >= n {
					return fmt.Errorf("hnsw: node %d links to unknown ordinal %d", i, next)
				}
			}
			nodes[i].links[l] = links
		}
	}
	if err := br.Err(); err != nil {
		return fmt.Errorf("hnsw: %w", err)
	}
	if br.Remaining() != 0 {
		return fmt.Errorf("hnsw: %d trailing bytes", br.Remaining())
	}
	if n > 0 && (int(entry) >= n || maxLevel != nodes[entry].level) {
		return fmt.Errorf("hnsw: invalid entry point %d at level %d", entry, maxLevel)
	}
	if n == 0 && maxLevel != -1 {
		return fmt.Errorf("hnsw: empty graph with level %d", maxLevel)
	}

	h.store = store
	h.nodes = nodes
	h.entry = entry
	h.maxLevel = maxLevel
	// Continue the level sequence deterministically for later adds.
	h.rng = rand.New(rand.NewSource(h.seed + int64(n)))
	return nil
}

func sortItems(items []queue.Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && queue.Before(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
