package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duplike-go/internal/model"
	"duplike-go/internal/vectorindex"
	"duplike-go/pkg/errs"
)

func sampleSet(t *testing.T) *Set {
	t.Helper()
	idx := vectorindex.NewPartitioned(2, []string{"android", "ios", "unknown"})
	emb := NewMatrix(2, 2)
	vecs := [][]float32{{1, 0}, {0.6, 0.8}}
	parts := []string{"android", "unknown"}
	var reports []model.Report
	for i, v := range vecs {
		require.NoError(t, emb.Append(v))
		require.NoError(t, idx.Add(parts[i], i, v))
		reports = append(reports, model.Report{
			Offset: i, TenantID: "t1", Platform: parts[i], Text: "row",
			Record: model.Record{Fields: map[string]string{"Summary": "row"}},
		})
	}
	return &Set{
		Metadata:   Metadata{TenantID: "t1", ModelName: "m", Dimension: 2, SchemaVersion: 1},
		Table:      Table{Schema: model.Schema{Columns: []string{"Summary"}, TextColumns: []string{"Summary"}}, Reports: reports},
		Embeddings: emb,
		Index:      idx,
	}
}

func TestMatrix_RoundTripIsBitIdentical(t *testing.T) {
	m := NewMatrix(3, 0)
	require.NoError(t, m.Append([]float32{0.1, -0.2, 3.4028235e38}))
	require.NoError(t, m.Append([]float32{1e-40, 0, -1}))
	assert.Error(t, m.Append([]float32{1}))

	out, err := DecodeMatrix(EncodeMatrix(m), 3)
	require.NoError(t, err)
	assert.Equal(t, m.Data, out.Data)
	assert.Equal(t, 2, out.Rows())

	_, err = DecodeMatrix([]byte{1, 2, 3}, 3)
	assert.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	set := sampleSet(t)
	files, err := Encode(set)
	require.NoError(t, err)
	assert.True(t, files.Complete())
	assert.Equal(t, 2, set.Metadata.RowCount)
	assert.Equal(t, map[string]int{"android": 1, "ios": 0, "unknown": 1}, set.Metadata.Partitions)
	assert.Equal(t, []string{"android", "ios", "unknown"}, set.Metadata.Layout)

	got, err := Decode(files)
	require.NoError(t, err)
	assert.Equal(t, set.Embeddings.Data, got.Embeddings.Data)
	assert.Equal(t, set.Table.Reports, got.Table.Reports)
	assert.Equal(t, set.Table.Schema, got.Table.Schema)
	assert.Equal(t, 2, got.Index.Len())
}

func TestDecode_DetectsCorruption(t *testing.T) {
	files, err := Encode(sampleSet(t))
	require.NoError(t, err)

	tampered := Files{}
	for k, v := range files {
		tampered[k] = v
	}
	tampered[EmbeddingsFile] = append([]byte(nil), files[EmbeddingsFile][:8]...)
	_, err = Decode(tampered)
	assert.True(t, errors.Is(err, errs.ErrIndexCorruption))

	delete(tampered, EmbeddingsFile)
	_, err = Decode(tampered)
	assert.True(t, errors.Is(err, errs.ErrIndexCorruption))
}

func TestSetValidate_CountMismatch(t *testing.T) {
	set := sampleSet(t)
	set.Metadata.RowCount = 2
	require.NoError(t, set.Validate())

	grown, err := set.Embeddings.With([]float32{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, set.Embeddings.Rows())
	set.Embeddings = grown
	assert.True(t, errors.Is(set.Validate(), errs.ErrIndexCorruption))
}

func TestMetadata_CheckCompatible(t *testing.T) {
	meta := Metadata{ModelName: "m", Dimension: 2, SchemaVersion: 1, FormatVersion: vectorindex.FormatVersion, Layout: []string{"android", "unknown"}}
	parts := []string{"unknown", "android"}
	assert.NoError(t, meta.CheckCompatible(Identity{ModelName: "m", Dimension: 2, SchemaVersion: 1, Partitions: parts}))
	assert.True(t, errors.Is(meta.CheckCompatible(Identity{ModelName: "m2", Dimension: 2, SchemaVersion: 1, Partitions: parts}), errs.ErrModelVersionMismatch))
	assert.True(t, errors.Is(meta.CheckCompatible(Identity{ModelName: "m", Dimension: 2, SchemaVersion: 2, Partitions: parts}), errs.ErrModelVersionMismatch))
}

func TestMetadata_PartitionLayoutIsPartOfIdentity(t *testing.T) {
	meta := Metadata{ModelName: "m", Dimension: 2, SchemaVersion: 1, FormatVersion: vectorindex.FormatVersion, Layout: []string{"android", "unknown"}}
	grown := Identity{ModelName: "m", Dimension: 2, SchemaVersion: 1, Partitions: []string{"android", "web", "unknown"}}
	shrunk := Identity{ModelName: "m", Dimension: 2, SchemaVersion: 1, Partitions: []string{"unknown"}}
	assert.True(t, errors.Is(meta.CheckCompatible(grown), errs.ErrModelVersionMismatch))
	assert.True(t, errors.Is(meta.CheckCompatible(shrunk), errs.ErrModelVersionMismatch))

	// 早期产物没有记录分区布局，一律重建
	legacy := meta
	legacy.Layout = nil
	assert.True(t, errors.Is(legacy.CheckCompatible(Identity{ModelName: "m", Dimension: 2, SchemaVersion: 1, Partitions: []string{"android", "unknown"}}), errs.ErrModelVersionMismatch))
}

func TestDiskStore_WriteReadRemove(t *testing.T) {
	root := t.TempDir()
	d, err := NewDiskStore(root)
	require.NoError(t, err)

	_, err = d.Read("t1")
	assert.True(t, errors.Is(err, ErrNotFound))

	files, err := Encode(sampleSet(t))
	require.NoError(t, err)
	require.NoError(t, d.Write("t1", files))
	require.NoError(t, d.Write("t1", files))

	got, err := d.Read("t1")
	require.NoError(t, err)
	assert.Equal(t, files, got)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging and .old dirs must be cleaned up")

	require.NoError(t, d.Remove("t1"))
	_, err = d.Read("t1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDiskStore_RecoversInterruptedSwap(t *testing.T) {
	root := t.TempDir()
	d, err := NewDiskStore(root)
	require.NoError(t, err)
	files, err := Encode(sampleSet(t))
	require.NoError(t, err)
	require.NoError(t, d.Write("t1", files))

	require.NoError(t, os.Rename(filepath.Join(root, "t1"), filepath.Join(root, "t1.old")))
	got, err := d.Read("t1")
	require.NoError(t, err)
	assert.Equal(t, files, got)
}

func TestDiskStore_RejectsBadTenant(t *testing.T) {
	d, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, d.Write("../escape", Files{}))
}
