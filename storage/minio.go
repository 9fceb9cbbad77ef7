// Package storage archives run exports into MinIO object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"TuneSweep/config"
	"TuneSweep/logger"
)

// ExportArchive stores export payloads under a bucket. It satisfies the
// engine's Archiver interface.
type ExportArchive struct {
	client *minio.Client
	bucket string
}

// NewExportArchive 初始化 MinIO 客户端并确保存储桶存在
func NewExportArchive(cfg *config.Config) (*ExportArchive, error) {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &ExportArchive{client: client, bucket: cfg.MinioBucket}, nil
}

// Store uploads one export payload.
func (a *ExportArchive) Store(ctx context.Context, objectName string, payload []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("上传导出文件失败: %w", err)
	}
	logger.Info("导出文件已归档",
		logger.String("bucket", a.bucket),
		logger.String("object", objectName),
		logger.Int("bytes", len(payload)))
	return nil
}
