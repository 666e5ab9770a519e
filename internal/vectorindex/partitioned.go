package vectorindex

import (
	"context"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

// Partitioned 是一个租户的全部平台分区。分区集合在创建时确定，之后不再变化。
type Partitioned struct {
	dim   int
	order []string
	parts map[string]*Index
}

// NewPartitioned 为每个分区名创建一个空索引。
func NewPartitioned(dim int, partitions []string) *Partitioned {
	p := &Partitioned{dim: dim, order: append([]string(nil), partitions...), parts: make(map[string]*Index, len(partitions))}
	for _, name := range partitions {
		p.parts[name] = New(dim)
	}
	return p
}

// Dim 返回向量维度。
func (p *Partitioned) Dim() int { return p.dim }

// Partitions 返回分区名，按创建顺序。
func (p *Partitioned) Partitions() []string {
	return append([]string(nil), p.order...)
}

// Partition 返回指定分区，不存在时返回 nil。
func (p *Partitioned) Partition(name string) *Index {
	return p.parts[name]
}

// Len 返回所有分区的向量总数。
func (p *Partitioned) Len() int {
	n := 0
	for _, ix := range p.parts {
		n += ix.Len()
	}
	return n
}

// Sizes 返回每个分区的向量数。
func (p *Partitioned) Sizes() map[string]int {
	out := make(map[string]int, len(p.parts))
	for name, ix := range p.parts {
		out[name] = ix.Len()
	}
	return out
}

// Add 把向量追加到指定分区。
func (p *Partitioned) Add(partition string, offset int, v []float32) error {
	ix, ok := p.parts[partition]
	if !ok {
		return fmt.Errorf("unknown partition %q", partition)
	}
	return ix.Add(offset, v)
}

// With 返回向指定分区追加了一个向量的新分区集合，其余分区与接收者共享。
func (p *Partitioned) With(partition string, offset int, v []float32) (*Partitioned, error) {
	ix, ok := p.parts[partition]
	if !ok {
		return nil, fmt.Errorf("unknown partition %q", partition)
	}
	next, err := ix.With(offset, v)
	if err != nil {
		return nil, err
	}
	parts := make(map[string]*Index, len(p.parts))
	for name, other := range p.parts {
		parts[name] = other
	}
	parts[partition] = next
	return &Partitioned{dim: p.dim, order: p.order, parts: parts}, nil
}

// Search 在单个分区中检索；partition 为空时并发检索全部分区，
// 每个分区取 k 个，再按得分合并保留最好的 k 个。
func (p *Partitioned) Search(ctx context.Context, q []float32, k int, partition string, accept func(offset int) bool) ([]Hit, error) {
	if partition != "" {
		ix, ok := p.parts[partition]
		if !ok {
			return nil, nil
		}
		return ix.Search(ctx, q, k, accept)
	}

	results := make([][]Hit, len(p.order))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range p.order {
		i, ix := i, p.parts[name]
		g.Go(func() error {
			hits, err := ix.Search(gctx, q, k, accept)
			if err != nil {
				return err
			}
			results[i] = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Hit
	for _, hits := range results {
		merged = append(merged, hits...)
	}
	SortHits(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

type partitionedSnapshot struct {
	Version    string              `msgpack:"version"`
	Dimensions int                 `msgpack:"dimensions"`
	Order      []string            `msgpack:"order"`
	Parts      map[string]snapshot `msgpack:"parts"`
}

// Save 以 msgpack 写出全部分区。
func (p *Partitioned) Save(w io.Writer) error {
	s := partitionedSnapshot{
		Version:    FormatVersion,
		Dimensions: p.dim,
		Order:      p.order,
		Parts:      make(map[string]snapshot, len(p.parts)),
	}
	for name, ix := range p.parts {
		s.Parts[name] = ix.snapshot()
	}
	return msgpack.NewEncoder(w).Encode(&s)
}

// LoadPartitioned 读取 Save 写出的分区集合。
func LoadPartitioned(r io.Reader) (*Partitioned, error) {
	var s partitionedSnapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode partitioned index: %w", err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %q", ErrFormatVersion, s.Version)
	}
	p := &Partitioned{dim: s.Dimensions, order: s.Order, parts: make(map[string]*Index, len(s.Order))}
	for _, name := range s.Order {
		snap, ok := s.Parts[name]
		if !ok {
			return nil, fmt.Errorf("partitioned index is missing partition %q", name)
		}
		ix, err := fromSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", name, err)
		}
		if ix.dim != s.Dimensions {
			return nil, ErrDimensionMismatch
		}
		p.parts[name] = ix
	}
	if len(p.parts) != len(s.Parts) {
		return nil, fmt.Errorf("partitioned index has %d partitions but order lists %d", len(s.Parts), len(s.Order))
	}
	return p, nil
}
