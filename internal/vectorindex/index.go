// Package vectorindex 实现按平台分区的精确内积检索索引。
//
// 向量在入库前已经归一化，因此内积即余弦相似度。每个分区记录向量对应的报告 offset，
// 检索结果按得分降序返回，同分时 offset 小的在前。
package vectorindex

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// FormatVersion 写入每个索引快照，加载时不一致的快照会被拒绝，由调用方重建。
const FormatVersion = "1.0.0"

var (
	// ErrDimensionMismatch 表示向量维度与索引不一致。
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrFormatVersion 表示快照由不兼容的格式版本写入。
	ErrFormatVersion = errors.New("unsupported index format version")
)

// Hit 是一条检索命中。
type Hit struct {
	Offset int
	Score  float64
}

// Index 是单个分区的扁平内积索引，方法均可并发调用。
type Index struct {
	mu      sync.RWMutex
	dim     int
	offsets []int
	vectors []float32 // 行优先，len == len(offsets)*dim
}

// New 创建一个空索引。
func New(dim int) *Index {
	return &Index{dim: dim}
}

// Build 用一批向量创建索引，offsets[i] 对应 vectors[i]。
func Build(dim int, offsets []int, vectors [][]float32) (*Index, error) {
	if len(offsets) != len(vectors) {
		return nil, fmt.Errorf("build index: %d offsets for %d vectors", len(offsets), len(vectors))
	}
	ix := &Index{
		dim:     dim,
		offsets: make([]int, 0, len(offsets)),
		vectors: make([]float32, 0, len(offsets)*dim),
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		ix.offsets = append(ix.offsets, offsets[i])
		ix.vectors = append(ix.vectors, v...)
	}
	return ix, nil
}

// Dim 返回向量维度。
func (ix *Index) Dim() int { return ix.dim }

// Len 返回索引中的向量数。
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.offsets)
}

// Offsets 返回索引中全部 offset 的副本，按插入顺序。
func (ix *Index) Offsets() []int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]int(nil), ix.offsets...)
}

// Add 追加一个向量，摊还 O(d)。
func (ix *Index) Add(offset int, v []float32) error {
	if len(v) != ix.dim {
		return ErrDimensionMismatch
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.offsets = append(ix.offsets, offset)
	ix.vectors = append(ix.vectors, v...)
	return nil
}

// With 返回追加了一个向量的新索引，接收者不变。
// 两者共享底层数组：新元素写在接收者长度之外，接收者的读者不会看到它。
// 同一条索引谱系上同一时刻只能有一个派生者。
func (ix *Index) With(offset int, v []float32) (*Index, error) {
	if len(v) != ix.dim {
		return nil, ErrDimensionMismatch
	}
	ix.mu.RLock()
	offsets, vectors := ix.offsets, ix.vectors
	ix.mu.RUnlock()
	return &Index{
		dim:     ix.dim,
		offsets: append(offsets, offset),
		vectors: append(vectors, v...),
	}, nil
}

// Search 返回与 q 内积最大的至多 k 个向量。accept 非空时只考虑它接受的 offset，
// 过滤发生在扫描过程中，不会因为后过滤而少于 k 个结果。
func (ix *Index) Search(ctx context.Context, q []float32, k int, accept func(offset int) bool) ([]Hit, error) {
	if len(q) != ix.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	h := make(hitHeap, 0, k)
	for i, off := range ix.offsets {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if accept != nil && !accept(off) {
			continue
		}
		score := dot(q, ix.vectors[i*ix.dim:(i+1)*ix.dim])
		hit := Hit{Offset: off, Score: score}
		if len(h) < k {
			heap.Push(&h, hit)
		} else if better(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	out := []Hit(h)
	SortHits(out)
	return out, nil
}

// SortHits 按得分降序排列，同分时 offset 升序。
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool { return better(hits[i], hits[j]) })
}

func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Offset < b.Offset
}

func dot(a, b []float32) float64 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return float64(s)
}

// hitHeap 是以"最差命中"为堆顶的小根堆。
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// snapshot 是索引的可序列化形式。
type snapshot struct {
	Version    string    `msgpack:"version"`
	Dimensions int       `msgpack:"dimensions"`
	Offsets    []int     `msgpack:"offsets"`
	Vectors    []float32 `msgpack:"vectors"`
}

func (ix *Index) snapshot() snapshot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return snapshot{
		Version:    FormatVersion,
		Dimensions: ix.dim,
		Offsets:    append([]int(nil), ix.offsets...),
		Vectors:    append([]float32(nil), ix.vectors...),
	}
}

func fromSnapshot(s snapshot) (*Index, error) {
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %q", ErrFormatVersion, s.Version)
	}
	if s.Dimensions <= 0 || len(s.Vectors) != len(s.Offsets)*s.Dimensions {
		return nil, fmt.Errorf("index snapshot holds %d floats for %d offsets of dim %d", len(s.Vectors), len(s.Offsets), s.Dimensions)
	}
	return &Index{dim: s.Dimensions, offsets: s.Offsets, vectors: s.Vectors}, nil
}

// Save 以 msgpack 写出索引快照。
func (ix *Index) Save(w io.Writer) error {
	return msgpack.NewEncoder(w).Encode(ix.snapshot())
}

// Load 读取 Save 写出的快照。
func Load(r io.Reader) (*Index, error) {
	var s snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode index snapshot: %w", err)
	}
	return fromSnapshot(s)
}
