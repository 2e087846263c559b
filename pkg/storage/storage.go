package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/knowledge-pipeline/pkg/logger"
	"github.com/feichai0017/knowledge-pipeline/pkg/storage/memory"
	"github.com/feichai0017/knowledge-pipeline/pkg/storage/minio"
	"github.com/feichai0017/knowledge-pipeline/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeMemory StorageType = "memory"
)

// Storage 接口定义
type Storage interface {
	// Store 存储文件; size may be -1 when unknown
	Store(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// CleanupBefore 清理过期文件, returning how many objects were removed
	CleanupBefore(ctx context.Context, threshold time.Time) (int, error)
	Health(ctx context.Context) error
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(log)
	case StorageTypeMinio:
		return minio.GetClient(log)
	case StorageTypeMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}

// NewObjectKey builds a unique key for an uploaded file, grouped by day.
func NewObjectKey(filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("documents/%s/%s%s", now.UTC().Format("2006/01/02"), uuid.NewString(), ext)
}
