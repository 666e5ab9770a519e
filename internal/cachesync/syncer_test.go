package cachesync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duplike-go/internal/artifact"
	"duplike-go/internal/model"
	"duplike-go/internal/vectorindex"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/storage"
)

var identity = artifact.Identity{ModelName: "m", Dimension: 2, SchemaVersion: 1, Partitions: []string{"android", "unknown"}}

// flakyStore 在 down 为真时所有操作都返回 ErrCacheUnavailable，failDelete 只让删除失败。
type flakyStore struct {
	*storage.MemoryArtifactStore
	down       bool
	failDelete bool
}

func (f *flakyStore) Delete(ctx context.Context, tenantID string) error {
	if f.down || f.failDelete {
		return errs.Wrap(errs.ErrCacheUnavailable, "down")
	}
	return f.MemoryArtifactStore.Delete(ctx, tenantID)
}

func (f *flakyStore) Get(ctx context.Context, tenantID, name string) ([]byte, error) {
	if f.down {
		return nil, errs.Wrap(errs.ErrCacheUnavailable, "down")
	}
	return f.MemoryArtifactStore.Get(ctx, tenantID, name)
}

func (f *flakyStore) Put(ctx context.Context, tenantID, name string, data []byte) error {
	if f.down {
		return errs.Wrap(errs.ErrCacheUnavailable, "down")
	}
	return f.MemoryArtifactStore.Put(ctx, tenantID, name, data)
}

func sampleFiles(t *testing.T, id artifact.Identity) artifact.Files {
	t.Helper()
	idx := vectorindex.NewPartitioned(id.Dimension, []string{"android", "unknown"})
	emb := artifact.NewMatrix(id.Dimension, 1)
	vec := make([]float32, id.Dimension)
	vec[0] = 1
	require.NoError(t, emb.Append(vec))
	require.NoError(t, idx.Add("android", 0, vec))
	set := &artifact.Set{
		Metadata: artifact.Metadata{TenantID: "t1", ModelName: id.ModelName, Dimension: id.Dimension, SchemaVersion: id.SchemaVersion},
		Table: artifact.Table{
			Schema:  model.Schema{Columns: []string{"Summary"}, TextColumns: []string{"Summary"}},
			Reports: []model.Report{{Offset: 0, TenantID: "t1", Platform: "android", Text: "x", Record: model.Record{Fields: map[string]string{"Summary": "x"}}}},
		},
		Embeddings: emb,
		Index:      idx,
	}
	files, err := artifact.Encode(set)
	require.NoError(t, err)
	return files
}

func newSyncer(t *testing.T) (*Syncer, *flakyStore, *MemoryMarkerStore) {
	t.Helper()
	disk, err := artifact.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	remote := &flakyStore{MemoryArtifactStore: storage.NewMemoryArtifactStore()}
	markers := NewMemoryMarkerStore()
	return New(disk, remote, markers), remote, markers
}

func TestLoad_MissEverywhere(t *testing.T) {
	s, _, _ := newSyncer(t)
	set, err := s.Load(context.Background(), "t1", identity)
	assert.NoError(t, err)
	assert.Nil(t, set)
}

func TestLoad_LocalThenRemote(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newSyncer(t)
	files := sampleFiles(t, identity)

	require.NoError(t, s.Persist(ctx, "t1", files))
	s.Publish(ctx, "t1", files)
	assert.Len(t, remote.Keys("t1"), 4)

	set, err := s.Load(ctx, "t1", identity)
	require.NoError(t, err)
	require.NotNil(t, set)
	assert.Equal(t, 1, set.Metadata.RowCount)

	// 本地丢失后从远程恢复，并写回本地
	require.NoError(t, s.disk.Remove("t1"))
	set, err = s.Load(ctx, "t1", identity)
	require.NoError(t, err)
	require.NotNil(t, set)
	local, err := s.disk.Read("t1")
	require.NoError(t, err)
	assert.Equal(t, files, local)
}

func TestLoad_PartialRemoteIsMiss(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newSyncer(t)
	files := sampleFiles(t, identity)
	for name, data := range files {
		if name != artifact.EmbeddingsFile {
			require.NoError(t, remote.Put(ctx, "t1", name, data))
		}
	}
	set, err := s.Load(ctx, "t1", identity)
	assert.NoError(t, err)
	assert.Nil(t, set)
}

func TestLoad_ModelVersionMismatch(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSyncer(t)
	old := sampleFiles(t, artifact.Identity{ModelName: "old-model", Dimension: 2, SchemaVersion: 1, Partitions: identity.Partitions})
	require.NoError(t, s.Persist(ctx, "t1", old))
	s.Publish(ctx, "t1", old)

	set, err := s.Load(ctx, "t1", identity)
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, errs.ErrModelVersionMismatch))
}

func TestLoad_CorruptLocalReported(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newSyncer(t)
	remote.down = true
	files := sampleFiles(t, identity)
	files[artifact.RowsFile] = []byte("garbage")
	require.NoError(t, s.Persist(ctx, "t1", files))

	set, err := s.Load(ctx, "t1", identity)
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, errs.ErrIndexCorruption))
}

func TestPublish_FailureMarksPendingAndRetries(t *testing.T) {
	ctx := context.Background()
	s, remote, markers := newSyncer(t)
	files := sampleFiles(t, identity)
	require.NoError(t, s.Persist(ctx, "t1", files))

	remote.down = true
	s.Publish(ctx, "t1", files)
	pending, _ := markers.Has(ctx, "t1", MarkerUpload)
	assert.True(t, pending)

	// 远程不可用时仍然使用本地状态
	set, err := s.Load(ctx, "t1", identity)
	require.NoError(t, err)
	require.NotNil(t, set)

	remote.down = false
	_, err = s.Load(ctx, "t1", identity)
	require.NoError(t, err)
	pending, _ = markers.Has(ctx, "t1", MarkerUpload)
	assert.False(t, pending)
	assert.Len(t, remote.Keys("t1"), 4)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	s, remote, _ := newSyncer(t)
	files := sampleFiles(t, identity)
	require.NoError(t, s.Persist(ctx, "t1", files))
	s.Publish(ctx, "t1", files)

	require.NoError(t, s.Remove(ctx, "t1"))
	assert.Empty(t, remote.Keys("t1"))
	set, err := s.Load(ctx, "t1", identity)
	assert.NoError(t, err)
	assert.Nil(t, set)
}

func TestLocalOnly(t *testing.T) {
	ctx := context.Background()
	disk, err := artifact.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	s := New(disk, nil, nil)
	files := sampleFiles(t, identity)
	require.NoError(t, s.Persist(ctx, "t1", files))
	s.Publish(ctx, "t1", files)

	set, err := s.Load(ctx, "t1", identity)
	require.NoError(t, err)
	assert.NotNil(t, set)
}

func TestRemove_FailedRemoteDeleteIsNotAdopted(t *testing.T) {
	ctx := context.Background()
	s, remote, markers := newSyncer(t)
	files := sampleFiles(t, identity)
	require.NoError(t, s.Persist(ctx, "t1", files))
	s.Publish(ctx, "t1", files)

	remote.failDelete = true
	assert.Error(t, s.Remove(ctx, "t1"))
	assert.Len(t, remote.Keys("t1"), 4)
	deleting, _ := markers.Has(ctx, "t1", MarkerDelete)
	assert.True(t, deleting)

	// 删除仍然失败时不采用远程产物
	set, err := s.Load(ctx, "t1", identity)
	assert.NoError(t, err)
	assert.Nil(t, set)
	assert.Len(t, remote.Keys("t1"), 4)

	// 远程恢复后补删并清除标记
	remote.failDelete = false
	set, err = s.Load(ctx, "t1", identity)
	assert.NoError(t, err)
	assert.Nil(t, set)
	assert.Empty(t, remote.Keys("t1"))
	deleting, _ = markers.Has(ctx, "t1", MarkerDelete)
	assert.False(t, deleting)
}

func TestPublish_ClearsPendingDelete(t *testing.T) {
	ctx := context.Background()
	s, remote, markers := newSyncer(t)
	files := sampleFiles(t, identity)
	require.NoError(t, s.Persist(ctx, "t1", files))
	s.Publish(ctx, "t1", files)

	remote.failDelete = true
	assert.Error(t, s.Remove(ctx, "t1"))

	// 重新上传后远程就是最新产物，换一个节点可以直接采用
	require.NoError(t, s.Persist(ctx, "t1", files))
	s.Publish(ctx, "t1", files)
	deleting, _ := markers.Has(ctx, "t1", MarkerDelete)
	assert.False(t, deleting)

	require.NoError(t, s.disk.Remove("t1"))
	set, err := s.Load(ctx, "t1", identity)
	require.NoError(t, err)
	assert.NotNil(t, set)
}

func TestLoad_PartitionLayoutChangeIsMismatch(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newSyncer(t)
	files := sampleFiles(t, identity)
	require.NoError(t, s.Persist(ctx, "t1", files))
	s.Publish(ctx, "t1", files)

	grown := identity
	grown.Partitions = []string{"android", "web", "unknown"}
	set, err := s.Load(ctx, "t1", grown)
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, errs.ErrModelVersionMismatch))
}
