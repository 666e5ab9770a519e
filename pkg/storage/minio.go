// Package storage提供了与对象存储服务（如 MinIO）交互的功能，用作租户索引产物的远程持久缓存。
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"duplike-go/internal/config"
	"duplike-go/pkg/errs"
	"duplike-go/pkg/log"
)

// ErrObjectNotFound 表示远程不存在该产物。
var ErrObjectNotFound = errors.New("object not found")

// ArtifactStore 是按租户组织的远程产物存储，键为 <prefix>/<tenant>/<name>。
// 网络或服务端错误以 errs.ErrCacheUnavailable 返回。
type ArtifactStore interface {
	Get(ctx context.Context, tenantID, name string) ([]byte, error)
	Put(ctx context.Context, tenantID, name string, data []byte) error
	Delete(ctx context.Context, tenantID string) error
}

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	// 1. 初始化 MinIO 客户端
	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}

	log.Info("MinIO 客户端初始化成功")

	// 2. 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	ctx := context.Background()
	bucketName := cfg.BucketName
	exists, err := MinioClient.BucketExists(ctx, bucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}

	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", bucketName)
		if err = MinioClient.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", bucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", bucketName)
	}
}

type minioArtifactStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioArtifactStore 基于 MinIO 客户端创建产物存储。
func NewMinioArtifactStore(client *minio.Client, bucket, prefix string) ArtifactStore {
	return &minioArtifactStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *minioArtifactStore) key(tenantID, name string) string {
	return path.Join(s.prefix, tenantID, name)
}

func (s *minioArtifactStore) Get(ctx context.Context, tenantID, name string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(tenantID, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(err, "get %s", name)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.classify(err, "read %s", name)
	}
	return data, nil
}

func (s *minioArtifactStore) Put(ctx context.Context, tenantID, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(tenantID, name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return s.classify(err, "put %s", name)
	}
	return nil
}

// Delete 删除租户前缀下的全部对象。
func (s *minioArtifactStore) Delete(ctx context.Context, tenantID string) error {
	prefix := path.Join(s.prefix, tenantID) + "/"
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	for obj := range objects {
		if obj.Err != nil {
			return s.classify(obj.Err, "list %s", prefix)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return s.classify(err, "remove %s", obj.Key)
		}
	}
	return nil
}

func (s *minioArtifactStore) classify(err error, format string, args ...interface{}) error {
	if code := minio.ToErrorResponse(err).Code; code == "NoSuchKey" || code == "NoSuchObject" {
		return ErrObjectNotFound
	}
	return errs.WrapCause(errs.ErrCacheUnavailable, err, "minio %s", fmt.Sprintf(format, args...))
}
