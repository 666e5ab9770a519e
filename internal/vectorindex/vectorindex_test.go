package vectorindex

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func unit(v ...float32) []float32 {
	var s float64
	for _, x := range v {
		s += float64(x * x)
	}
	n := float32(math.Sqrt(s))
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] / n
	}
	return out
}

func TestIndex_SearchOrderAndK(t *testing.T) {
	ix, err := Build(2, []int{10, 11, 12}, [][]float32{unit(1, 0), unit(0, 1), unit(1, 1)})
	require.NoError(t, err)
	require.Equal(t, 3, ix.Len())

	hits, err := ix.Search(context.Background(), unit(1, 0), 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 10, hits[0].Offset)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, 12, hits[1].Offset)

	hits, err = ix.Search(context.Background(), unit(1, 0), 10, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
}

func TestIndex_TiesBreakByOffset(t *testing.T) {
	ix, err := Build(2, []int{7, 3, 5}, [][]float32{unit(1, 0), unit(1, 0), unit(1, 0)})
	require.NoError(t, err)
	hits, err := ix.Search(context.Background(), unit(1, 0), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, []int{hits[0].Offset, hits[1].Offset})
}

func TestIndex_AcceptFilterDuringScan(t *testing.T) {
	ix := New(2)
	for i := 0; i < 20; i++ {
		require.NoError(t, ix.Add(i, unit(1, float32(i)/10)))
	}
	hits, err := ix.Search(context.Background(), unit(1, 0), 5, func(off int) bool { return off%2 == 1 })
	require.NoError(t, err)
	require.Len(t, hits, 5)
	for _, h := range hits {
		assert.Equal(t, 1, h.Offset%2)
	}
	assert.Equal(t, 1, hits[0].Offset)
}

func TestIndex_DimensionAndEmpty(t *testing.T) {
	ix := New(3)
	assert.True(t, errors.Is(ix.Add(0, []float32{1}), ErrDimensionMismatch))
	_, err := ix.Search(context.Background(), []float32{1}, 1, nil)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	hits, err := ix.Search(context.Background(), unit(1, 0, 0), 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndex_WithLeavesReceiverUnchanged(t *testing.T) {
	base := New(2)
	require.NoError(t, base.Add(0, unit(1, 0)))

	staged, err := base.With(1, unit(0, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, base.Offsets())
	assert.Equal(t, []int{0, 1}, staged.Offsets())

	// 失败的暂存被丢弃后，下一次派生覆盖同一位置
	again, err := base.With(2, unit(1, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, again.Offsets())
	assert.Equal(t, []int{0}, base.Offsets())

	_, err = base.With(3, unit(1, 0, 0))
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestPartitioned_With(t *testing.T) {
	p := NewPartitioned(2, []string{"android", "unknown"})
	next, err := p.With("android", 0, unit(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 1, next.Len())
	assert.Same(t, p.Partition("unknown"), next.Partition("unknown"))

	_, err = p.With("web", 0, unit(1, 0))
	assert.Error(t, err)
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	ix, err := Build(3, []int{0, 1}, [][]float32{unit(1, 2, 3), unit(-3, 0.5, 7)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ix.Save(&buf))
	loaded, err := Load(&buf)
	require.NoError(t, err)

	assert.Equal(t, ix.offsets, loaded.offsets)
	assert.Equal(t, ix.vectors, loaded.vectors)

	q := unit(1, 1, 1)
	a, _ := ix.Search(context.Background(), q, 2, nil)
	b, _ := loaded.Search(context.Background(), q, 2, nil)
	assert.Equal(t, a, b)
}

func TestIndex_LoadRejectsOtherFormatVersion(t *testing.T) {
	raw, err := msgpack.Marshal(snapshot{Version: "0.9.0", Dimensions: 2})
	require.NoError(t, err)
	_, err = Load(bytes.NewReader(raw))
	assert.True(t, errors.Is(err, ErrFormatVersion))
}

func TestPartitioned_AddSearchMerge(t *testing.T) {
	p := NewPartitioned(2, []string{"android", "ios", "unknown"})
	require.NoError(t, p.Add("android", 0, unit(1, 0)))
	require.NoError(t, p.Add("ios", 1, unit(1, 0.1)))
	require.NoError(t, p.Add("unknown", 2, unit(0, 1)))
	require.NoError(t, p.Add("android", 3, unit(1, 0.5)))
	assert.Error(t, p.Add("web", 4, unit(1, 0)))

	assert.Equal(t, 4, p.Len())
	assert.Equal(t, map[string]int{"android": 2, "ios": 1, "unknown": 1}, p.Sizes())

	hits, err := p.Search(context.Background(), unit(1, 0), 2, "ios", nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].Offset)

	hits, err = p.Search(context.Background(), unit(1, 0), 3, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 3}, []int{hits[0].Offset, hits[1].Offset, hits[2].Offset})

	hits, err = p.Search(context.Background(), unit(1, 0), 3, "web", nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestPartitioned_SaveLoadRoundTrip(t *testing.T) {
	p := NewPartitioned(2, []string{"android", "ios", "unknown"})
	require.NoError(t, p.Add("android", 0, unit(1, 0)))
	require.NoError(t, p.Add("unknown", 1, unit(0, 1)))

	var buf bytes.Buffer
	require.NoError(t, p.Save(&buf))
	loaded, err := LoadPartitioned(&buf)
	require.NoError(t, err)

	assert.Equal(t, p.Partitions(), loaded.Partitions())
	assert.Equal(t, p.Sizes(), loaded.Sizes())
	assert.Equal(t, p.Partition("android").vectors, loaded.Partition("android").vectors)
	assert.Equal(t, 0, loaded.Partition("ios").Len())
}
