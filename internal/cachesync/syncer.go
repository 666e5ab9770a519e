// Package cachesync 协调租户产物的本地副本与远程持久缓存。
//
// 激活顺序：本地磁盘 → 远程（先读元数据判断模型版本，再下载其余产物，不完整视为未命中）→ 由调用方重建。
// 每次变更后上传全部产物；上传失败时本地状态仍然权威，并记录待重试标记，在下次激活时补传。
// 远程删除失败时记录待删除标记，标记存在期间不会从远程恢复，下次激活时补删。
package cachesync

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"duplike-go/internal/artifact"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
	"duplike-go/pkg/storage"
)

// 标记类型。
const (
	// MarkerUpload 表示远程产物落后于本地，等待补传。
	MarkerUpload = "pending"
	// MarkerDelete 表示租户已清空但远程产物还没删掉。
	MarkerDelete = "deleting"
)

// MarkerStore 按租户记录远程产物上尚未完成的操作。
type MarkerStore interface {
	Mark(ctx context.Context, tenantID, kind string) error
	Clear(ctx context.Context, tenantID, kind string) error
	Has(ctx context.Context, tenantID, kind string) (bool, error)
}

// Syncer 实现租户产物的加载、落盘、上传与删除。remote 与 markers 可以为 nil，此时只使用本地磁盘。
type Syncer struct {
	disk          *artifact.DiskStore
	remote        storage.ArtifactStore
	markers       MarkerStore
	uploadTimeout time.Duration
}

// New 创建 Syncer。
func New(disk *artifact.DiskStore, remote storage.ArtifactStore, markers MarkerStore) *Syncer {
	return &Syncer{disk: disk, remote: remote, markers: markers, uploadTimeout: 2 * time.Minute}
}

// Load 依次尝试本地与远程产物。
// 命中返回校验通过的集合；未命中返回 (nil, nil)；模型版本不一致或损坏时返回对应错误。
// 远程不可用只记录警告。
func (s *Syncer) Load(ctx context.Context, tenantID string, id artifact.Identity) (*artifact.Set, error) {
	var localErr error
	files, err := s.disk.Read(tenantID)
	switch {
	case err == nil:
		set, derr := decode(files, id)
		if derr == nil {
			s.retryPending(ctx, tenantID, files)
			return set, nil
		}
		log.Warnf("[CacheSync] 本地产物不可用, tenant: %s, detail: %v", tenantID, derr)
		localErr = derr
	case errors.Is(err, artifact.ErrNotFound):
	default:
		log.Warnf("[CacheSync] 读取本地产物失败, tenant: %s, error: %v", tenantID, err)
	}

	if s.remote == nil || s.deletePending(ctx, tenantID) {
		return nil, localErr
	}
	set, remoteFiles, remoteErr := s.fetchRemote(ctx, tenantID, id)
	if remoteErr == nil && set != nil {
		if err := s.disk.Write(tenantID, remoteFiles); err != nil {
			log.Warnf("[CacheSync] 远程产物写入本地失败, tenant: %s, error: %v", tenantID, err)
		}
		if s.markers != nil {
			_ = s.markers.Clear(ctx, tenantID, MarkerUpload)
		}
		log.Infof("[CacheSync] 远程缓存命中, tenant: %s, rows: %d", tenantID, set.Metadata.RowCount)
		return set, nil
	}
	if errors.Is(remoteErr, errs.ErrCacheUnavailable) {
		log.Warnf("[CacheSync] 远程缓存不可用, 使用本地状态, tenant: %s, error: %v", tenantID, remoteErr)
		remoteErr = nil
	}

	for _, kind := range []*errs.Error{errs.ErrModelVersionMismatch, errs.ErrIndexCorruption} {
		if errors.Is(localErr, kind) {
			return nil, localErr
		}
		if errors.Is(remoteErr, kind) {
			return nil, remoteErr
		}
	}
	return nil, nil
}

func decode(files artifact.Files, id artifact.Identity) (*artifact.Set, error) {
	if !files.Complete() {
		return nil, errs.Wrap(errs.ErrIndexCorruption, "artifact set is incomplete")
	}
	meta, err := artifact.DecodeMetadata(files[artifact.MetadataFile])
	if err != nil {
		return nil, err
	}
	if err := meta.CheckCompatible(id); err != nil {
		return nil, err
	}
	return artifact.Decode(files)
}

// fetchRemote 先读元数据判断版本，再并发下载其余产物。任一产物缺失都视为未命中。
func (s *Syncer) fetchRemote(ctx context.Context, tenantID string, id artifact.Identity) (*artifact.Set, artifact.Files, error) {
	metaBytes, err := s.remote.Get(ctx, tenantID, artifact.MetadataFile)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	meta, err := artifact.DecodeMetadata(metaBytes)
	if err != nil {
		return nil, nil, err
	}
	if err := meta.CheckCompatible(id); err != nil {
		return nil, nil, err
	}

	files := artifact.Files{artifact.MetadataFile: metaBytes}
	var mu sync.Mutex
	missing := false
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range artifact.Names {
		if name == artifact.MetadataFile {
			continue
		}
		name := name
		g.Go(func() error {
			data, err := s.remote.Get(gctx, tenantID, name)
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, storage.ErrObjectNotFound) {
				missing = true
				return nil
			}
			if err != nil {
				return err
			}
			files[name] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if missing {
		log.Warnf("[CacheSync] 远程产物不完整, 视为未命中, tenant: %s", tenantID)
		return nil, nil, nil
	}

	set, err := artifact.Decode(files)
	if err != nil {
		return nil, nil, err
	}
	return set, files, nil
}

// Persist 原子地写入本地产物。
func (s *Syncer) Persist(ctx context.Context, tenantID string, files artifact.Files) error {
	return s.disk.Write(tenantID, files)
}

// Publish 上传全部产物，元数据最后上传。失败时记录待重试标记。
func (s *Syncer) Publish(ctx context.Context, tenantID string, files artifact.Files) {
	if s.remote == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.uploadTimeout)
	defer cancel()

	if err := s.upload(ctx, tenantID, files); err != nil {
		log.Warnw("[CacheSync] 上传产物失败, 下次激活时重试", "tenant", tenantID, "files", len(files), "error", err)
		if s.markers != nil {
			if merr := s.markers.Mark(ctx, tenantID, MarkerUpload); merr != nil {
				log.Errorf("[CacheSync] 记录待上传标记失败, tenant: %s, error: %v", tenantID, merr)
			}
		}
		return
	}
	// 远程已经是最新产物，之前未完成的删除也不再需要
	if s.markers != nil {
		for _, kind := range []string{MarkerUpload, MarkerDelete} {
			if err := s.markers.Clear(ctx, tenantID, kind); err != nil {
				log.Warnf("[CacheSync] 清除标记失败, tenant: %s, marker: %s, error: %v", tenantID, kind, err)
			}
		}
	}
}

func (s *Syncer) upload(ctx context.Context, tenantID string, files artifact.Files) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range artifact.Names {
		if name == artifact.MetadataFile {
			continue
		}
		name := name
		g.Go(func() error {
			return s.remote.Put(gctx, tenantID, name, files[name])
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return s.remote.Put(ctx, tenantID, artifact.MetadataFile, files[artifact.MetadataFile])
}

func (s *Syncer) retryPending(ctx context.Context, tenantID string, files artifact.Files) {
	if s.remote == nil || s.markers == nil {
		return
	}
	pending, err := s.markers.Has(ctx, tenantID, MarkerUpload)
	if err != nil {
		log.Warnf("[CacheSync] 读取待上传标记失败, tenant: %s, error: %v", tenantID, err)
		return
	}
	if pending {
		log.Infof("[CacheSync] 补传上次失败的产物, tenant: %s", tenantID)
		s.Publish(ctx, tenantID, files)
	}
}

// deletePending 报告租户是否还有未完成的远程删除，有则先补删一次。
// 返回 true 时调用方不能采用远程产物。
func (s *Syncer) deletePending(ctx context.Context, tenantID string) bool {
	if s.markers == nil {
		return false
	}
	pending, err := s.markers.Has(ctx, tenantID, MarkerDelete)
	if err != nil {
		log.Warnf("[CacheSync] 读取待删除标记失败, tenant: %s, error: %v", tenantID, err)
		return false
	}
	if !pending {
		return false
	}
	if err := s.remote.Delete(ctx, tenantID); err != nil {
		log.Warnf("[CacheSync] 补删远程产物失败, 跳过远程缓存, tenant: %s, error: %v", tenantID, err)
		return true
	}
	if err := s.markers.Clear(ctx, tenantID, MarkerDelete); err != nil {
		log.Warnf("[CacheSync] 清除待删除标记失败, tenant: %s, error: %v", tenantID, err)
	}
	log.Infof("[CacheSync] 已补删远程产物, tenant: %s", tenantID)
	return true
}

// Remove 删除本地与远程产物。远程删除失败时记录待删除标记并返回错误。
func (s *Syncer) Remove(ctx context.Context, tenantID string) error {
	if err := s.disk.Remove(tenantID); err != nil {
		return err
	}
	if s.markers != nil {
		_ = s.markers.Clear(ctx, tenantID, MarkerUpload)
	}
	if s.remote == nil {
		return nil
	}
	if err := s.remote.Delete(ctx, tenantID); err != nil {
		if s.markers != nil {
			if merr := s.markers.Mark(ctx, tenantID, MarkerDelete); merr != nil {
				log.Errorf("[CacheSync] 记录待删除标记失败, tenant: %s, error: %v", tenantID, merr)
			}
		}
		return err
	}
	if s.markers != nil {
		_ = s.markers.Clear(ctx, tenantID, MarkerDelete)
	}
	return nil
}
