package storage

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryArtifactStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryArtifactStore()

	_, err := s.Get(ctx, "t1", "metadata.json")
	assert.True(t, errors.Is(err, ErrObjectNotFound))

	require.NoError(t, s.Put(ctx, "t1", "metadata.json", []byte("{}")))
	require.NoError(t, s.Put(ctx, "t1", "rows.msgpack", []byte{1}))
	require.NoError(t, s.Put(ctx, "t10", "rows.msgpack", []byte{2}))

	data, err := s.Get(ctx, "t1", "metadata.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), data)

	keys := s.Keys("t1")
	sort.Strings(keys)
	assert.Equal(t, []string{"metadata.json", "rows.msgpack"}, keys)

	require.NoError(t, s.Delete(ctx, "t1"))
	assert.Empty(t, s.Keys("t1"))
	assert.Equal(t, []string{"rows.msgpack"}, s.Keys("t10"))
}

func TestMinioKeyLayout(t *testing.T) {
	s := &minioArtifactStore{bucket: "b", prefix: "tenants"}
	assert.Equal(t, "tenants/t1/index.msgpack", s.key("t1", "index.msgpack"))
}
