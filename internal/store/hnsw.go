package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/docsearch/internal/query"
)

// filteredOverfetch widens the graph search when a file-type filter is set.
const filteredOverfetch = 4

// HNSWStore implements VectorStore in process using coder/hnsw.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	// ID mapping (string <-> uint64)
	idMap     map[string]uint64
	keyMap    map[uint64]string
	fileTypes map[uint64]string
	nextKey   uint64

	closed bool
}

// NewHNSWStore creates an empty store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("hnsw: dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &HNSWStore{
		graph:     graph,
		config:    cfg,
		idMap:     make(map[string]uint64),
		keyMap:    make(map[uint64]string),
		fileTypes: make(map[uint64]string),
	}, nil
}

// NewHNSWStoreFromFragments builds a store from the fragments that carry an
// embedding of the given dimension. Others are skipped and counted.
func NewHNSWStoreFromFragments(ctx context.Context, cfg VectorStoreConfig, fragments []Fragment) (*HNSWStore, int, error) {
	s, err := NewHNSWStore(cfg)
	if err != nil {
		return nil, 0, err
	}
	stats, err := NewVectorSync(s, cfg.Dimensions).Sync(ctx, fragments)
	if err != nil {
		return nil, 0, err
	}
	return s, stats.Skipped, nil
}

// Add inserts vectors. An existing ID is orphaned and re-added.
func (s *HNSWStore) Add(ctx context.Context, items []VectorItem) error {
	if len(items) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, item := range items {
		if len(item.Vector) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(item.Vector)}
		}
	}

	for _, item := range items {
		// Lazy deletion: coder/hnsw misbehaves when the last node is deleted.
		if existingKey, exists := s.idMap[item.ID]; exists {
			delete(s.keyMap, existingKey)
			delete(s.fileTypes, existingKey)
			delete(s.idMap, item.ID)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(item.Vector))
		copy(vec, item.Vector)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idMap[item.ID] = key
		s.keyMap[key] = item.ID
		s.fileTypes[key] = query.NormalizeFileType(item.FileType)
	}
	return nil
}

// Search finds the k nearest live vectors, optionally restricted to file types.
func (s *HNSWStore) Search(ctx context.Context, vec []float32, k int, fileTypes []string) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(vec) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(vec)}
	}
	if k <= 0 || s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	allowed := make(map[string]struct{}, len(fileTypes))
	for _, ft := range fileTypes {
		allowed[query.NormalizeFileType(ft)] = struct{}{}
	}

	q := make([]float32, len(vec))
	copy(q, vec)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	fetch := k + (s.graph.Len() - len(s.idMap)) // orphans may occupy slots
	if len(allowed) > 0 {
		fetch *= filteredOverfetch
	}
	nodes := s.graph.Search(q, fetch)

	results := make([]*VectorResult, 0, len(nodes))
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[s.fileTypes[node.Key]]; !ok {
				continue
			}
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &VectorResult{
			ID:       id,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}

	// The graph does not return neighbours in distance order.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes vectors by ID.
func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.fileTypes, key)
			delete(s.idMap, id)
		}
	}
	return nil
}

// Count returns the number of live vectors.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// HNSWStats reports live vectors against graph nodes.
type HNSWStats struct {
	ValidIDs   int `json:"valid_ids"`
	GraphNodes int `json:"graph_nodes"`
	Orphans    int `json:"orphans"`
}

// Stats returns graph statistics. Orphans are lazily deleted nodes.
func (s *HNSWStore) Stats() HNSWStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return HNSWStats{}
	}
	valid := len(s.idMap)
	nodes := s.graph.Len()
	return HNSWStats{ValidIDs: valid, GraphNodes: nodes, Orphans: nodes - valid}
}

// Close releases the graph.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

var _ VectorStore = (*HNSWStore)(nil)

func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore maps a distance into [0,1].
// Cosine: 1 - distance, clamped at 0. L2: 1 / (1 + distance).
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return float32(math.Max(0, math.Min(1, float64(1-distance))))
}
